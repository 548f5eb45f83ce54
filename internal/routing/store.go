package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrRecordNotFound indicates an update against an id absent from the log,
// typically a beacon that raced a process restart or log rotation. Callers
// treat it as non-fatal.
var ErrRecordNotFound = errors.New("routing: assignment record not found")

var errMissingStorePath = errors.New("assignment log path is required")

// Store persists assignment records as an append-only line-delimited JSON
// log. Appends are single atomic writes under a mutex so concurrent requests
// never interleave lines. Updates scan the whole log for the first matching
// id, merge the partial field set into that line, and rewrite the file. Each
// record sees at most two updates after its append, so the O(n) scan stays
// cheap at the log sizes this backend handles.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore constructs a Store backed by the given log path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errMissingStorePath
	}
	return &Store{path: path}, nil
}

// Append writes one record to the end of the log.
func (s *Store) Append(record AssignmentRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode assignment record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

// UpdateByID merges partialFields into the first record whose id matches,
// overwriting listed fields and leaving everything else, including keys this
// backend does not interpret, untouched. The whole log is rewritten in place.
func (s *Store) UpdateByID(id string, partialFields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return err
	}

	lines := bytes.Split(data, []byte("\n"))
	updated := false
	for index, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		recordID, _ := record["id"].(string)
		if recordID != id {
			continue
		}
		for key, value := range partialFields {
			record[key] = value
		}
		merged, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode updated record: %w", err)
		}
		lines[index] = merged
		updated = true
		break
	}

	if !updated {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return os.WriteFile(s.path, bytes.Join(lines, []byte("\n")), 0o644)
}

// FindByID returns the first record with the given id.
func (s *Store) FindByID(id string) (AssignmentRecord, error) {
	records, err := s.List()
	if err != nil {
		return AssignmentRecord{}, err
	}
	for _, record := range records {
		if record.ID == id {
			return record, nil
		}
	}
	return AssignmentRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// List returns every record, newest first, for the admin reader. Lines that
// fail to decode are skipped rather than failing the whole read.
func (s *Store) List() ([]AssignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(data, []byte("\n"))
	records := make([]AssignmentRecord, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var record AssignmentRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	for left, right := 0, len(records)-1; left < right; left, right = left+1, right-1 {
		records[left], records[right] = records[right], records[left]
	}
	return records, nil
}

// Count returns the number of decodable records in the log.
func (s *Store) Count() (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
