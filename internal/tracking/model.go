package tracking

// BehaviorEvent is one visitor action (page load, popup, conversion, button
// click). Events are dual-written: one line in the behavior log consumed by
// the admin panel, one row in the event table.
type BehaviorEvent struct {
	EventID    string `gorm:"column:event_id;primaryKey;size:190;not null" json:"-"`
	SessionID  string `gorm:"column:session_id;size:190;not null;index:idx_behaviors_session_time,priority:1" json:"session_id"`
	ActionType string `gorm:"column:action_type;size:64;not null" json:"action_type"`
	StockName  string `gorm:"column:stock_name;size:190;not null;default:''" json:"stock_name"`
	StockCode  string `gorm:"column:stock_code;size:64;not null;default:''" json:"stock_code"`
	URL        string `gorm:"column:url;type:text;not null;default:''" json:"url"`
	Timestamp  string `gorm:"column:timestamp;size:32;not null;index:idx_behaviors_session_time,priority:2" json:"timestamp"`
	UserAgent  string `gorm:"column:user_agent;type:text;not null;default:''" json:"user_agent"`
	ClientIP   string `gorm:"column:ip;size:64;not null;default:''" json:"ip"`
	Timezone   string `gorm:"column:timezone;size:64;not null;default:''" json:"timezone"`
	Language   string `gorm:"column:language;size:32;not null;default:''" json:"language"`
	Referer    string `gorm:"column:referer;type:text;not null;default:''" json:"referer"`
}

// TableName provides the explicit table binding for GORM.
func (BehaviorEvent) TableName() string {
	return "page_tracking"
}

// ErrorReport is a client-side error forwarded by the bridge or landing
// pages.
type ErrorReport struct {
	ReportID  string `gorm:"column:report_id;primaryKey;size:190;not null" json:"-"`
	Message   string `gorm:"column:message;type:text;not null;default:''" json:"message"`
	Stack     string `gorm:"column:stack;type:text;not null;default:''" json:"stack"`
	Phase     string `gorm:"column:phase;size:64;not null;default:'unknown'" json:"phase"`
	StockCode string `gorm:"column:stockcode;size:64;not null;default:''" json:"stockcode"`
	Href      string `gorm:"column:href;type:text;not null;default:''" json:"href"`
	Referrer  string `gorm:"column:ref;type:text;not null;default:''" json:"ref"`
	ClientTS  int64  `gorm:"column:ts;not null;default:0" json:"ts"`
	UserAgent string `gorm:"column:user_agent;type:text;not null;default:''" json:"user_agent"`
	ClientIP  string `gorm:"column:ip;size:64;not null;default:''" json:"ip"`
}

// TableName provides the explicit table binding for GORM.
func (ErrorReport) TableName() string {
	return "error_logs"
}
