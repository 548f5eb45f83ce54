package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const timestampLayout = "2006-01-02 15:04:05"

var errMissingBehaviorLogPath = errors.New("behavior log path is required")

// ServiceConfig wires the telemetry service. Database is optional: without
// it events only go to the behavior log, which keeps the bridge flow working
// when the event store is unavailable.
type ServiceConfig struct {
	Database        *gorm.DB
	BehaviorLogPath string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service accepts fire-and-forget telemetry from the landing and bridge
// pages. Nothing here may block or fail the redirect flow: storage errors are
// logged and swallowed.
type Service struct {
	db      *gorm.DB
	logPath string
	clock   func() time.Time
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.BehaviorLogPath == "" {
		return nil, errMissingBehaviorLogPath
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      cfg.Database,
		logPath: cfg.BehaviorLogPath,
		clock:   clock,
		logger:  logger,
	}, nil
}

// NewSessionID issues a server-side session id for clients that did not send
// one.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RecordBehavior persists one behavior event. The event is stamped
// server-side and written to the behavior log and, when available, the event
// table.
func (s *Service) RecordBehavior(ctx context.Context, event BehaviorEvent) BehaviorEvent {
	if event.SessionID == "" {
		event.SessionID = NewSessionID()
	}
	if event.ActionType == "" {
		event.ActionType = "page_load"
	}
	event.EventID = uuid.NewString()
	event.Timestamp = s.clock().UTC().Format(timestampLayout)

	s.logger.Info("user behavior tracked",
		zap.String("session_id", event.SessionID),
		zap.String("action_type", event.ActionType),
		zap.String("stock_code", event.StockCode),
	)

	if err := s.appendToLog(event); err != nil {
		s.logger.Warn("behavior log append failed", zap.Error(err))
	}
	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
			s.logger.Warn("behavior event insert failed", zap.Error(err))
		}
	}
	return event
}

// RecordError persists a client error report and surfaces it in the server
// log so frontend breakage is visible without the admin panel.
func (s *Service) RecordError(ctx context.Context, report ErrorReport) {
	report.ReportID = uuid.NewString()
	if report.Phase == "" {
		report.Phase = "unknown"
	}
	if report.ClientTS == 0 {
		report.ClientTS = s.clock().Unix()
	}

	s.logger.Error("frontend error",
		zap.String("message", report.Message),
		zap.String("phase", report.Phase),
		zap.String("href", report.Href),
		zap.String("ip", report.ClientIP),
	)

	if s.db != nil {
		if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
			s.logger.Warn("error report insert failed", zap.Error(err))
		}
	}
}

// ListBehaviors returns one page of behavior events, newest first, with the
// total count for the paginator.
func (s *Service) ListBehaviors(ctx context.Context, page, perPage int) ([]BehaviorEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	if s.db == nil {
		return s.listBehaviorsFromLog(page, perPage)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&BehaviorEvent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []BehaviorEvent
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *Service) listBehaviorsFromLog(page, perPage int) ([]BehaviorEvent, int64, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.logPath)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(data), "\n")
	events := make([]BehaviorEvent, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event BehaviorEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	for left, right := 0, len(events)-1; left < right; left, right = left+1, right-1 {
		events[left], events[right] = events[right], events[left]
	}

	total := int64(len(events))
	start := (page - 1) * perPage
	if start >= len(events) {
		return nil, total, nil
	}
	end := start + perPage
	if end > len(events) {
		end = len(events)
	}
	return events[start:end], total, nil
}

func (s *Service) appendToLog(event BehaviorEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode behavior event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write(append(line, '\n'))
	return err
}
