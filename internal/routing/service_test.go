package routing

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

type serviceFixture struct {
	service  *Service
	registry *Registry
	store    *Store
	settings *SettingsStore
}

func newServiceFixture(t *testing.T, gateEnabled bool) *serviceFixture {
	t.Helper()

	dataDir := t.TempDir()
	settingsPath := filepath.Join(dataDir, "settings.json")
	settingsBody := `{"cloaking_enhanced": false}`
	if gateEnabled {
		settingsBody = `{"cloaking_enhanced": true}`
	}
	if err := os.WriteFile(settingsPath, []byte(settingsBody), 0o644); err != nil {
		t.Fatalf("write settings fixture: %v", err)
	}

	registry, err := NewRegistry(RegistryConfig{
		Path:  filepath.Join(dataDir, "customer_services.json"),
		Clock: fixedClock(t, "2026-08-01 09:00:00"),
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	store, err := NewStore(filepath.Join(dataDir, "assignments.jsonl"))
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	settings := NewSettingsStore(settingsPath)

	service, err := NewService(ServiceConfig{
		Registry: registry,
		Store:    store,
		Settings: settings,
		Clock:    fixedClock(t, "2026-08-01 09:00:05"),
		Rand:     rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	return &serviceFixture{service: service, registry: registry, store: store, settings: settings}
}

func organicInput() AssignInput {
	return AssignInput{
		StockCode:     "7203",
		FreeText:      "7203",
		RefererHeader: "https://www.google.com/search?q=7203",
		UserAgent:     "test-agent",
		ClientIP:      "203.0.113.9",
	}
}

func TestAssignGateDeniedCreatesNoRecord(t *testing.T) {
	fixture := newServiceFixture(t, true)

	input := organicInput()
	input.RefererHeader = "https://duckduckgo.com/?q=7203"
	_, err := fixture.service.Assign(context.Background(), input)
	if !errors.Is(err, ErrGateDenied) {
		t.Fatalf("expected ErrGateDenied, got %v", err)
	}

	count, err := fixture.store.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("denied request created %d records", count)
	}
}

func TestAssignGateEnabledAllowsOrganicTraffic(t *testing.T) {
	fixture := newServiceFixture(t, true)

	assignment, err := fixture.service.Assign(context.Background(), organicInput())
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if assignment.RecordID == "" || assignment.DestinationURL == "" {
		t.Fatalf("incomplete assignment: %+v", assignment)
	}

	record, err := fixture.store.FindByID(assignment.RecordID)
	if err != nil {
		t.Fatalf("record missing after assign: %v", err)
	}
	if !record.GatingWasEnabled {
		t.Fatal("record should capture that gating was enabled")
	}
}

func TestAssignNoActiveDestination(t *testing.T) {
	fixture := newServiceFixture(t, false)

	inactive := DestinationStatusInactive
	for _, id := range []string{"cs_001", "cs_002"} {
		if _, err := fixture.registry.Update(UpdateInput{ID: id, Status: &inactive}); err != nil {
			t.Fatalf("deactivate %s: %v", id, err)
		}
	}

	_, err := fixture.service.Assign(context.Background(), organicInput())
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}

	count, err := fixture.store.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("exhausted pool still created %d records", count)
	}
}

func TestAssignPersistsSnapshotBeforeReturning(t *testing.T) {
	fixture := newServiceFixture(t, false)

	assignment, err := fixture.service.Assign(context.Background(), organicInput())
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	record, err := fixture.store.FindByID(assignment.RecordID)
	if err != nil {
		t.Fatalf("record missing after assign: %v", err)
	}
	if record.DestinationURL != assignment.DestinationURL {
		t.Fatalf("snapshot url %q != returned url %q", record.DestinationURL, assignment.DestinationURL)
	}
	if record.FallbackURL != assignment.FallbackURL {
		t.Fatalf("snapshot fallback %q != returned fallback %q", record.FallbackURL, assignment.FallbackURL)
	}
	if record.CreatedAt != "2026-08-01 09:00:05" {
		t.Fatalf("unexpected created_at: %q", record.CreatedAt)
	}
	if record.UserAgent != "test-agent" || record.ClientIP != "203.0.113.9" {
		t.Fatalf("client context not captured: %+v", record)
	}
}

func TestAssignIDsAreUnique(t *testing.T) {
	fixture := newServiceFixture(t, false)

	seen := make(map[string]bool)
	for index := 0; index < 50; index++ {
		assignment, err := fixture.service.Assign(context.Background(), organicInput())
		if err != nil {
			t.Fatalf("assign %d failed: %v", index, err)
		}
		if seen[assignment.RecordID] {
			t.Fatalf("duplicate record id %s", assignment.RecordID)
		}
		seen[assignment.RecordID] = true
	}
}

func TestAssignSelectionIsNotPermanentlyBiased(t *testing.T) {
	fixture := newServiceFixture(t, false)

	counts := make(map[string]int)
	for index := 0; index < 1000; index++ {
		assignment, err := fixture.service.Assign(context.Background(), organicInput())
		if err != nil {
			t.Fatalf("assign %d failed: %v", index, err)
		}
		record, err := fixture.store.FindByID(assignment.RecordID)
		if err != nil {
			t.Fatalf("record missing: %v", err)
		}
		counts[record.DestinationID]++
	}

	if counts["cs_001"] == 0 || counts["cs_002"] == 0 {
		t.Fatalf("selection starved a destination: %v", counts)
	}
}

func TestRecordPageLeaveSetsOutcome(t *testing.T) {
	fixture := newServiceFixture(t, false)

	assignment, err := fixture.service.Assign(context.Background(), organicInput())
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if err := fixture.service.RecordPageLeave(context.Background(), assignment.RecordID, true, ""); err != nil {
		t.Fatalf("page leave failed: %v", err)
	}

	record, err := fixture.store.FindByID(assignment.RecordID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if record.LaunchSuccess == nil || !*record.LaunchSuccess {
		t.Fatal("launch_success not set")
	}
	if record.PageLeaveAt == "" {
		t.Fatal("page_leave_at not set")
	}
	if record.FallbackRedirectAt != "" {
		t.Fatal("fallback_redirect_at should stay empty on success")
	}
}

func TestRecordFallbackSetsOutcome(t *testing.T) {
	fixture := newServiceFixture(t, false)

	assignment, err := fixture.service.Assign(context.Background(), organicInput())
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if err := fixture.service.RecordFallback(context.Background(), assignment.RecordID, assignment.FallbackURL, ""); err != nil {
		t.Fatalf("fallback failed: %v", err)
	}

	record, err := fixture.store.FindByID(assignment.RecordID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if record.FallbackRedirectAt == "" {
		t.Fatal("fallback_redirect_at not set")
	}
	if record.FallbackURLUsed != assignment.FallbackURL {
		t.Fatalf("fallback_url_used %q, want %q", record.FallbackURLUsed, assignment.FallbackURL)
	}
}

func TestRecordUpdatesForUnknownIDAreSwallowed(t *testing.T) {
	fixture := newServiceFixture(t, false)

	if err := fixture.service.RecordPageLeave(context.Background(), "cs_stale", true, ""); err != nil {
		t.Fatalf("stale page leave should be swallowed, got %v", err)
	}
	if err := fixture.service.RecordFallback(context.Background(), "cs_stale", "/", ""); err != nil {
		t.Fatalf("stale fallback should be swallowed, got %v", err)
	}
}

func TestRecordUpdatesAreIdempotentFromTheCaller(t *testing.T) {
	fixture := newServiceFixture(t, false)

	assignment, err := fixture.service.Assign(context.Background(), organicInput())
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	for index := 0; index < 2; index++ {
		if err := fixture.service.RecordPageLeave(context.Background(), assignment.RecordID, true, "open"); err != nil {
			t.Fatalf("page leave %d failed: %v", index, err)
		}
	}

	record, err := fixture.store.FindByID(assignment.RecordID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if record.LaunchSuccess == nil || !*record.LaunchSuccess || record.Action != "open" {
		t.Fatalf("repeated update corrupted record: %+v", record)
	}
}
