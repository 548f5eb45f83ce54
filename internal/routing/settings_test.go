package routing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewSettingsStore(path)

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if settings.GateEnabled {
		t.Fatal("gate should default to disabled")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written to disk: %v", err)
	}
}

func TestSettingsCorruptDocumentDegradesToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := NewSettingsStore(path)

	settings, err := store.Load()
	if err != nil {
		t.Fatalf("corrupt document should not fail the load: %v", err)
	}
	if settings.GateEnabled {
		t.Fatal("corrupt document should degrade to defaults")
	}
}

func TestSettingsUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewSettingsStore(path)

	updated, err := store.Update(func(settings *Settings) {
		settings.GateEnabled = true
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.GateEnabled {
		t.Fatal("mutation not applied")
	}

	reloaded, err := NewSettingsStore(path).Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.GateEnabled {
		t.Fatal("mutation not persisted")
	}
}

func TestSettingsUpdateKeepsUninterpretedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	document := `{"cloaking_enhanced": false, "theme": "dark"}`
	if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := NewSettingsStore(path)

	if _, err := store.Update(func(settings *Settings) {
		settings.GateEnabled = true
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Extra["theme"] != "dark" {
		t.Fatalf("uninterpreted key dropped: %v", reloaded.Extra)
	}
	if !reloaded.GateEnabled {
		t.Fatal("edit not persisted")
	}
}
