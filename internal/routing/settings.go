package routing

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the runtime toggle document shared with the admin panel.
type Settings struct {
	GateEnabled bool           `json:"cloaking_enhanced"`
	Extra       map[string]any `json:"-"`
}

var settingsKnownKeys = []string{"cloaking_enhanced"}

// MarshalJSON emits the named fields plus any uninterpreted extra keys.
func (s Settings) MarshalJSON() ([]byte, error) {
	type plain Settings
	return marshalWithExtra(plain(s), s.Extra)
}

// UnmarshalJSON splits the document into named fields and extra keys.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := extraKeys(data, settingsKnownKeys)
	if err != nil {
		return err
	}
	*s = Settings(decoded)
	s.Extra = extra
	return nil
}

// SettingsStore reads and writes the settings document. The document is read
// on every assignment call rather than cached, so an admin toggle takes
// effect on the next request without a restart.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore constructs a SettingsStore backed by the given file path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load returns the current settings, creating the document with defaults on
// first use. A corrupt document degrades to defaults instead of failing the
// request.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SettingsStore) loadLocked() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		defaults := Settings{}
		if writeErr := s.writeLocked(defaults); writeErr != nil {
			return Settings{}, writeErr
		}
		return defaults, nil
	}
	if err != nil {
		return Settings{}, err
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, nil
	}
	return settings, nil
}

// Update merges the supplied mutation into the stored document and returns
// the result.
func (s *SettingsStore) Update(mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.loadLocked()
	if err != nil {
		return Settings{}, err
	}
	mutate(&settings)
	if err := s.writeLocked(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *SettingsStore) writeLocked(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
