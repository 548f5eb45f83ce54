package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrGateDenied is a policy rejection: the visitor did not arrive from an
	// approved search result page. Non-retryable for the same request.
	ErrGateDenied = errors.New("routing: gate denied")
	// ErrNoDestination means the active destination pool is empty. Retryable
	// once the admin reactivates a destination.
	ErrNoDestination = errors.New("routing: no destination available")

	errMissingRegistry = errors.New("destination registry is required")
	errMissingStore    = errors.New("assignment store is required")
	errMissingSettings = errors.New("settings store is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError pairs a dotted operation code with its cause so callers and
// monitoring can distinguish failure kinds without string matching.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "routing.service.new"
	opAssign         = "routing.assign"
	opRecordLeave    = "routing.record_page_leave"
	opRecordFallback = "routing.record_fallback"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the assignment service dependencies.
type ServiceConfig struct {
	Registry   *Registry
	Store      *Store
	Settings   *SettingsStore
	Gate       *TrafficGate
	Clock      func() time.Time
	IDProvider IDProvider
	Rand       *rand.Rand
	Logger     *zap.Logger
}

// Service performs the server half of the bridge flow: gate evaluation,
// destination selection and assignment record lifecycle.
type Service struct {
	registry   *Registry
	store      *Store
	settings   *SettingsStore
	gate       *TrafficGate
	clock      func() time.Time
	idProvider IDProvider
	rand       *rand.Rand
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil {
		return nil, newServiceError(opServiceNew, "missing_registry", errMissingRegistry)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Settings == nil {
		return nil, newServiceError(opServiceNew, "missing_settings", errMissingSettings)
	}

	gate := cfg.Gate
	if gate == nil {
		gate = NewTrafficGate()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	random := cfg.Rand
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		registry:   cfg.Registry,
		store:      cfg.Store,
		settings:   cfg.Settings,
		gate:       gate,
		clock:      clock,
		idProvider: idProvider,
		rand:       random,
		logger:     logger,
	}, nil
}

// AssignInput carries the request context for one assignment.
type AssignInput struct {
	StockCode        string
	FreeText         string
	OriginalReferrer string
	RefererHeader    string
	UserAgent        string
	ClientIP         string
}

// Assignment is the response half of a successful selection.
type Assignment struct {
	RecordID        string
	DestinationURL  string
	DestinationName string
	FallbackURL     string
}

// Assign gates the request, picks one active destination uniformly at random
// and persists the assignment record before returning. Selection has no
// stickiness: every bridge-page load gets a fresh, independent pick.
func (s *Service) Assign(ctx context.Context, input AssignInput) (Assignment, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return Assignment{}, newServiceError(opAssign, "settings_load_failed", err)
	}

	if !s.gate.Evaluate(input.RefererHeader, input.OriginalReferrer, settings.GateEnabled) {
		s.logger.Warn("access denied: not from approved search",
			zap.String("referer", input.RefererHeader),
			zap.String("original_ref_passed", input.OriginalReferrer),
			zap.String("user_agent", input.UserAgent),
			zap.String("ip", input.ClientIP),
		)
		return Assignment{}, newServiceError(opAssign, "gate_denied", ErrGateDenied)
	}

	active, err := s.registry.ListActive()
	if err != nil {
		return Assignment{}, newServiceError(opAssign, "registry_load_failed", err)
	}
	if len(active) == 0 {
		return Assignment{}, newServiceError(opAssign, "no_destination", ErrNoDestination)
	}

	selected := active[s.rand.Intn(len(active))]

	recordID, err := s.idProvider.NewID()
	if err != nil {
		return Assignment{}, newServiceError(opAssign, "id_generation_failed", err)
	}

	var originalReferrer *string
	if input.OriginalReferrer != "" {
		value := input.OriginalReferrer
		originalReferrer = &value
	}

	record := AssignmentRecord{
		ID:               recordID,
		StockCode:        input.StockCode,
		FreeText:         input.FreeText,
		DestinationID:    selected.ID,
		DestinationName:  selected.Name,
		DestinationURL:   selected.PrimaryURL,
		FallbackURL:      selected.FallbackURL,
		CreatedAt:        s.clock().UTC().Format(TimestampLayout),
		UserAgent:        input.UserAgent,
		ClientIP:         input.ClientIP,
		RefererHeader:    input.RefererHeader,
		OriginalReferrer: originalReferrer,
		GatingWasEnabled: settings.GateEnabled,
	}
	if err := s.store.Append(record); err != nil {
		return Assignment{}, newServiceError(opAssign, "store_append_failed", err)
	}

	s.logger.Info("destination assigned",
		zap.String("record_id", recordID),
		zap.String("destination_id", selected.ID),
		zap.String("stockcode", input.StockCode),
		zap.Bool("gate_enabled", settings.GateEnabled),
	)

	return Assignment{
		RecordID:        recordID,
		DestinationURL:  selected.PrimaryURL,
		DestinationName: selected.Name,
		FallbackURL:     selected.FallbackURL,
	}, nil
}

// RecordPageLeave merges the page-leave outcome into the assignment record.
// A stale or unknown id is logged and swallowed: a beacon must never fail
// from the client's perspective.
func (s *Service) RecordPageLeave(ctx context.Context, recordID string, success bool, action string) error {
	updates := map[string]any{
		"page_leave_at":  s.clock().UTC().Format(TimestampLayout),
		"launch_success": success,
		"action":         action,
	}
	err := s.store.UpdateByID(recordID, updates)
	if errors.Is(err, ErrRecordNotFound) {
		s.logger.Warn("page leave for unknown record", zap.String("record_id", recordID))
		return nil
	}
	if err != nil {
		return newServiceError(opRecordLeave, "store_update_failed", err)
	}

	s.logger.Info("page leave recorded",
		zap.String("record_id", recordID),
		zap.Bool("success", success),
		zap.String("action", action),
	)
	return nil
}

// RecordFallback merges the fallback-redirect outcome into the assignment
// record. Unknown ids are swallowed the same way as in RecordPageLeave.
func (s *Service) RecordFallback(ctx context.Context, recordID string, fallbackURL string, action string) error {
	updates := map[string]any{
		"fallback_redirect_at": s.clock().UTC().Format(TimestampLayout),
		"fallback_url_used":    fallbackURL,
		"action":               action,
	}
	err := s.store.UpdateByID(recordID, updates)
	if errors.Is(err, ErrRecordNotFound) {
		s.logger.Warn("fallback redirect for unknown record", zap.String("record_id", recordID))
		return nil
	}
	if err != nil {
		return newServiceError(opRecordFallback, "store_update_failed", err)
	}

	s.logger.Info("fallback redirect recorded",
		zap.String("record_id", recordID),
		zap.String("url", fallbackURL),
		zap.String("action", action),
	)
	return nil
}
