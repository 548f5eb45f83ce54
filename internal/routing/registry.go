package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrDestinationNotFound indicates an update or delete against an unknown id.
	ErrDestinationNotFound = errors.New("routing: destination not found")
	errMissingRegistryPath = errors.New("registry document path is required")
)

// RegistryConfig configures a destination registry.
type RegistryConfig struct {
	Path       string
	Clock      func() time.Time
	IDProvider IDProvider
}

// Registry owns the destination document: a JSON array of destinations,
// rewritten as a whole on every mutation. Reads and writes are serialized by
// a single mutex; rewrites go through a temp file and rename so a crash never
// leaves a truncated document behind.
type Registry struct {
	path       string
	clock      func() time.Time
	idProvider IDProvider
	mu         sync.Mutex
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Path == "" {
		return nil, errMissingRegistryPath
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	return &Registry{path: cfg.Path, clock: clock, idProvider: idProvider}, nil
}

// DefaultDestinations seeds the document on first use so a fresh deployment
// routes somewhere instead of answering 503 until the admin panel is visited.
func DefaultDestinations(now time.Time) []Destination {
	createdAt := now.UTC().Format(TimestampLayout)
	return []Destination{
		{
			ID:          "cs_001",
			Name:        "LINE公式アカウント",
			PrimaryURL:  "https://line.me/R/ti/p/@example",
			FallbackURL: "/",
			Status:      DestinationStatusActive,
			CreatedAt:   createdAt,
		},
		{
			ID:          "cs_002",
			Name:        "WeChat客服",
			PrimaryURL:  "weixin://dl/chat?example",
			FallbackURL: "https://web.wechat.com",
			Status:      DestinationStatusActive,
			CreatedAt:   createdAt,
		},
	}
}

// List returns every configured destination in document order.
func (r *Registry) List() ([]Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// ListActive returns destinations eligible for assignment.
func (r *Registry) ListActive() ([]Destination, error) {
	destinations, err := r.List()
	if err != nil {
		return nil, err
	}
	active := make([]Destination, 0, len(destinations))
	for _, destination := range destinations {
		if destination.Status == DestinationStatusActive {
			active = append(active, destination)
		}
	}
	return active, nil
}

// CreateInput carries the admin-supplied fields for a new destination.
type CreateInput struct {
	Name        string
	PrimaryURL  string
	FallbackURL string
	Status      DestinationStatus
}

// Create appends a new destination with a generated id.
func (r *Registry) Create(input CreateInput) (Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	destinations, err := r.loadLocked()
	if err != nil {
		return Destination{}, err
	}

	id, err := r.idProvider.NewID()
	if err != nil {
		return Destination{}, fmt.Errorf("generate destination id: %w", err)
	}

	status := input.Status
	if status == "" {
		status = DestinationStatusActive
	}
	fallback := input.FallbackURL
	if fallback == "" {
		fallback = "/"
	}

	destination := Destination{
		ID:          id,
		Name:        input.Name,
		PrimaryURL:  input.PrimaryURL,
		FallbackURL: fallback,
		Status:      status,
		CreatedAt:   r.clock().UTC().Format(TimestampLayout),
	}

	destinations = append(destinations, destination)
	if err := r.writeLocked(destinations); err != nil {
		return Destination{}, err
	}
	return destination, nil
}

// UpdateInput carries a partial destination edit. Nil fields stay untouched;
// the id itself is immutable.
type UpdateInput struct {
	ID          string
	Name        *string
	PrimaryURL  *string
	FallbackURL *string
	Status      *DestinationStatus
}

// Update applies a partial edit to the destination with the given id.
func (r *Registry) Update(input UpdateInput) (Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	destinations, err := r.loadLocked()
	if err != nil {
		return Destination{}, err
	}

	for index := range destinations {
		if destinations[index].ID != input.ID {
			continue
		}
		if input.Name != nil {
			destinations[index].Name = *input.Name
		}
		if input.PrimaryURL != nil {
			destinations[index].PrimaryURL = *input.PrimaryURL
		}
		if input.FallbackURL != nil {
			destinations[index].FallbackURL = *input.FallbackURL
		}
		if input.Status != nil {
			destinations[index].Status = *input.Status
		}
		if err := r.writeLocked(destinations); err != nil {
			return Destination{}, err
		}
		return destinations[index], nil
	}

	return Destination{}, fmt.Errorf("%w: %s", ErrDestinationNotFound, input.ID)
}

// Delete removes the destination with the given id. Assignment records that
// snapshot the destination keep working; only future selection is affected.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	destinations, err := r.loadLocked()
	if err != nil {
		return err
	}

	remaining := make([]Destination, 0, len(destinations))
	for _, destination := range destinations {
		if destination.ID != id {
			remaining = append(remaining, destination)
		}
	}
	if len(remaining) == len(destinations) {
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, id)
	}
	return r.writeLocked(remaining)
}

func (r *Registry) loadLocked() ([]Destination, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		defaults := DefaultDestinations(r.clock())
		if writeErr := r.writeLocked(defaults); writeErr != nil {
			return nil, writeErr
		}
		return defaults, nil
	}
	if err != nil {
		return nil, err
	}

	var destinations []Destination
	if err := json.Unmarshal(data, &destinations); err != nil {
		return nil, fmt.Errorf("parse destination document: %w", err)
	}
	return destinations, nil
}

func (r *Registry) writeLocked(destinations []Destination) error {
	data, err := json.MarshalIndent(destinations, "", "    ")
	if err != nil {
		return err
	}
	directory := filepath.Dir(r.path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(directory, ".customer_services-*.json")
	if err != nil {
		return err
	}
	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return err
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return err
	}
	return os.Rename(tempFile.Name(), r.path)
}
