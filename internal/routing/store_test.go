package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "assignments.jsonl"))
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func testRecord(id string) AssignmentRecord {
	return AssignmentRecord{
		ID:              id,
		StockCode:       "7203",
		DestinationID:   "cs_001",
		DestinationName: "LINE",
		DestinationURL:  "https://line.me/R/ti/p/@example",
		FallbackURL:     "https://web.example/join",
		CreatedAt:       "2026-08-01 09:00:00",
	}
}

func TestStoreAppendPreservesCreationOrder(t *testing.T) {
	store := newTestStore(t)

	for index := 0; index < 3; index++ {
		if err := store.Append(testRecord(fmt.Sprintf("cs_%d", index))); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	data, err := os.ReadFile(store.path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for index, line := range lines {
		var record AssignmentRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", index, err)
		}
		if record.ID != fmt.Sprintf("cs_%d", index) {
			t.Fatalf("line %d holds record %s, want cs_%d", index, record.ID, index)
		}
	}
}

func TestStoreConcurrentAppendsDoNotCorruptLines(t *testing.T) {
	store := newTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for index := 0; index < writers; index++ {
		go func(id int) {
			defer wg.Done()
			if err := store.Append(testRecord(fmt.Sprintf("cs_w%d", id))); err != nil {
				t.Errorf("append failed: %v", err)
			}
		}(index)
	}
	wg.Wait()

	records, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != writers {
		t.Fatalf("expected %d records, got %d", writers, len(records))
	}
	seen := make(map[string]bool, writers)
	for _, record := range records {
		if seen[record.ID] {
			t.Fatalf("duplicate record id %s", record.ID)
		}
		seen[record.ID] = true
	}
}

func TestStoreUpdateByIDMergesPartialFields(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append(testRecord("cs_a")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(testRecord("cs_b")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	updates := map[string]any{
		"page_leave_at":  "2026-08-01 09:00:07",
		"launch_success": true,
	}
	if err := store.UpdateByID("cs_a", updates); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	updated, err := store.FindByID("cs_a")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if updated.PageLeaveAt != "2026-08-01 09:00:07" {
		t.Fatalf("page_leave_at not merged: %q", updated.PageLeaveAt)
	}
	if updated.LaunchSuccess == nil || !*updated.LaunchSuccess {
		t.Fatal("launch_success not merged")
	}
	if updated.StockCode != "7203" {
		t.Fatalf("untouched field changed: %q", updated.StockCode)
	}

	untouched, err := store.FindByID("cs_b")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if untouched.PageLeaveAt != "" {
		t.Fatal("update leaked into a different record")
	}
}

func TestStoreUpdateByIDKeepsUninterpretedKeys(t *testing.T) {
	store := newTestStore(t)

	record := testRecord("cs_extra")
	record.Extra = map[string]any{"campaign": "summer", "gad_source": "1"}
	if err := store.Append(record); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := store.UpdateByID("cs_extra", map[string]any{"launch_success": false}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reloaded, err := store.FindByID("cs_extra")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if reloaded.Extra["campaign"] != "summer" || reloaded.Extra["gad_source"] != "1" {
		t.Fatalf("extra keys lost on rewrite: %v", reloaded.Extra)
	}
}

func TestStoreUpdateByIDLastWriteWins(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append(testRecord("cs_lww")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := store.UpdateByID("cs_lww", map[string]any{"launch_success": true, "action": "open"}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if err := store.UpdateByID("cs_lww", map[string]any{"launch_success": false}); err != nil {
		t.Fatalf("second update failed: %v", err)
	}

	record, err := store.FindByID("cs_lww")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if record.LaunchSuccess == nil || *record.LaunchSuccess {
		t.Fatal("second write did not win")
	}
	if record.Action != "open" {
		t.Fatalf("field absent from second update was overwritten: %q", record.Action)
	}
}

func TestStoreUpdateByIDUnknownID(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateByID("cs_missing", map[string]any{"launch_success": true})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound on empty log, got %v", err)
	}

	if err := store.Append(testRecord("cs_present")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	err = store.UpdateByID("cs_missing", map[string]any{"launch_success": true})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestStoreListReturnsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append(testRecord("cs_old")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(testRecord("cs_new")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "cs_new" || records[1].ID != "cs_old" {
		t.Fatalf("unexpected order: %+v", records)
	}
}
