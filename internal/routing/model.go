package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DestinationStatus enumerates the lifecycle states of a destination.
type DestinationStatus string

const (
	// DestinationStatusActive marks a destination as eligible for assignment.
	DestinationStatusActive DestinationStatus = "active"
	// DestinationStatusInactive removes a destination from the selection pool
	// without deleting its configuration.
	DestinationStatusInactive DestinationStatus = "inactive"
)

// TimestampLayout is the wall-clock format persisted in both documents.
const TimestampLayout = "2006-01-02 15:04:05"

const maxIdentifierLength = 190

var (
	// ErrInvalidDestinationID indicates an empty or oversized destination identifier.
	ErrInvalidDestinationID = errors.New("routing: invalid destination id")
	// ErrInvalidRecordID indicates an empty or oversized assignment record identifier.
	ErrInvalidRecordID = errors.New("routing: invalid record id")
	// ErrInvalidStatus indicates a status outside the active/inactive pair.
	ErrInvalidStatus = errors.New("routing: invalid destination status")
)

// NewDestinationID validates raw input and returns a destination identifier.
func NewDestinationID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDestinationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDestinationID, maxIdentifierLength)
	}
	return trimmed, nil
}

// NewRecordID validates raw input and returns an assignment record identifier.
func NewRecordID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return trimmed, nil
}

// ParseDestinationStatus validates a raw status value.
func ParseDestinationStatus(rawInput string) (DestinationStatus, error) {
	switch DestinationStatus(strings.ToLower(strings.TrimSpace(rawInput))) {
	case DestinationStatusActive:
		return DestinationStatusActive, nil
	case DestinationStatusInactive:
		return DestinationStatusInactive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// Destination is one configured redirect target a visitor may be routed to.
// Extra carries document keys the backend does not interpret so that admin
// edits never drop fields written by other tooling.
type Destination struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	PrimaryURL  string            `json:"url"`
	FallbackURL string            `json:"fallback_url"`
	Status      DestinationStatus `json:"status"`
	CreatedAt   string            `json:"created_at"`
	Extra       map[string]any    `json:"-"`
}

var destinationKnownKeys = []string{"id", "name", "url", "fallback_url", "status", "created_at"}

// MarshalJSON emits the named fields plus any uninterpreted extra keys.
func (d Destination) MarshalJSON() ([]byte, error) {
	type plain Destination
	return marshalWithExtra(plain(d), d.Extra)
}

// UnmarshalJSON splits the document into named fields and extra keys.
func (d *Destination) UnmarshalJSON(data []byte) error {
	type plain Destination
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := extraKeys(data, destinationKnownKeys)
	if err != nil {
		return err
	}
	*d = Destination(decoded)
	d.Extra = extra
	return nil
}

// AssignmentRecord is the durable log entry for one routing decision. The
// destination name and URLs are snapshots taken at assignment time; the
// destination itself may be edited or deleted later without touching the
// record. JSON tags follow the persisted assignments file layout.
type AssignmentRecord struct {
	ID                 string            `json:"id"`
	StockCode          string            `json:"stockcode"`
	FreeText           string            `json:"text"`
	DestinationID      string            `json:"customer_service_id"`
	DestinationName    string            `json:"customer_service_name"`
	DestinationURL     string            `json:"customer_service_url"`
	FallbackURL        string            `json:"links"`
	CreatedAt          string            `json:"created_at"`
	UserAgent          string            `json:"user_agent"`
	ClientIP           string            `json:"ip"`
	RefererHeader      string            `json:"referer"`
	OriginalReferrer   *string           `json:"original_ref"`
	GatingWasEnabled   bool              `json:"cloaking_enhanced"`
	PageLeaveAt        string            `json:"page_leave_at,omitempty"`
	LaunchSuccess      *bool             `json:"launch_success,omitempty"`
	Action             string            `json:"action,omitempty"`
	FallbackRedirectAt string            `json:"fallback_redirect_at,omitempty"`
	FallbackURLUsed    string            `json:"fallback_url_used,omitempty"`
	Extra              map[string]any    `json:"-"`
}

var assignmentKnownKeys = []string{
	"id", "stockcode", "text",
	"customer_service_id", "customer_service_name", "customer_service_url", "links",
	"created_at", "user_agent", "ip", "referer", "original_ref", "cloaking_enhanced",
	"page_leave_at", "launch_success", "action", "fallback_redirect_at", "fallback_url_used",
}

// MarshalJSON emits the named fields plus any uninterpreted extra keys.
func (r AssignmentRecord) MarshalJSON() ([]byte, error) {
	type plain AssignmentRecord
	return marshalWithExtra(plain(r), r.Extra)
}

// UnmarshalJSON splits the record into named fields and extra keys.
func (r *AssignmentRecord) UnmarshalJSON(data []byte) error {
	type plain AssignmentRecord
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	extra, err := extraKeys(data, assignmentKnownKeys)
	if err != nil {
		return err
	}
	*r = AssignmentRecord(decoded)
	r.Extra = extra
	return nil
}

func marshalWithExtra(value any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, extraValue := range extra {
		if _, taken := merged[key]; taken {
			continue
		}
		merged[key] = extraValue
	}
	return json.Marshal(merged)
}

func extraKeys(data []byte, knownKeys []string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, key := range knownKeys {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}
