package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// EventIntent is the calendar-write payload carried by events and
// operations. It is persisted as JSON on both rows.
type EventIntent struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Guests      []string  `json:"guests,omitempty"`
	// Reminders are minutes-before-start offsets.
	Reminders []int `json:"reminders,omitempty"`
}

// PersistedEvent is the durable record for one extracted calendar intent,
// keyed by its fingerprint. Rows are never deleted.
type PersistedEvent struct {
	ID              string
	Fingerprint     string
	MessageID       string
	PackID          string
	CalendarEventID sql.NullString
	Intent          EventIntent
	TitleKey        string
	DateKey         string
	Confidence      float64
	Status          string
	ManuallyEdited  bool
	Error           sql.NullString
	CreatedAt       time.Time
	UpdatedAt       sql.NullTime
}

// Event statuses.
const (
	EventPendingApproval = "pending_approval"
	EventApproved        = "approved"
	EventCreated         = "created"
	EventUpdated         = "updated"
	EventFlagged         = "flagged"
	EventFailed          = "failed"
)

// CalendarOperation is the unit of calendar mutation work, paired with a
// PersistedEvent through the event fingerprint.
type CalendarOperation struct {
	ID               string
	Type             string
	EventFingerprint string
	Intent           EventIntent
	Reason           string
	RequiresApproval bool
	Status           string
	CalendarEventID  sql.NullString
	Error            sql.NullString
	CreatedAt        time.Time
	DecidedAt        sql.NullTime
	ExecutedAt       sql.NullTime
}

// Operation statuses. Executed, failed, and rejected are terminal.
const (
	OpPending  = "pending"
	OpApproved = "approved"
	OpRejected = "rejected"
	OpExecuted = "executed"
	OpFailed   = "failed"
)

// Operation types.
const (
	OpTypeCreate = "create"
	OpTypeUpdate = "update"
	OpTypeFlag   = "flag"
	OpTypeSkip   = "skip"
)

// ApprovalToken is a single-use capability gating execution of one
// pending operation. Only the token hash is stored.
type ApprovalToken struct {
	TokenHash   string
	OperationID string
	ExpiresAt   time.Time
	Approved    bool
	ConsumedAt  sql.NullTime
	CreatedAt   time.Time
}

// DiscoverySession records one scan run. Append-only history.
type DiscoverySession struct {
	ID            string
	PackID        string
	StartedAt     time.Time
	CompletedAt   sql.NullTime
	EmailsScanned int
	Status        string
	Output        json.RawMessage
}

// Session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Evidence is one scored email captured during a discovery scan.
// Immutable, owned by the session that produced it.
type Evidence struct {
	ID           string
	SessionID    string
	MessageID    string
	Subject      string
	Sender       string
	Date         time.Time
	Snippet      string
	Score        float64
	MatchedRules []string
}

// QueueItem is a discovery find surfaced for human review, carrying the
// categorical classification alongside the relevance result.
type QueueItem struct {
	ID             string
	SessionID      string
	MessageID      string
	Category       string
	Person         sql.NullString
	ItemType       string
	ObligationDate sql.NullString
	Confidence     float64
	Reasoning      sql.NullString
	Status         string
	CreatedAt      time.Time
}

// Queue item statuses.
const (
	QueueItemPending   = "pending_approval"
	QueueItemApproved  = "approved"
	QueueItemDismissed = "dismissed"
)

// Classifier item types. The neutral fallback is an announcement with no
// obligation date and confidence 0.5.
const (
	ItemTypeObligation   = "obligation"
	ItemTypeAnnouncement = "announcement"
)

// ProcessedMessage marks a message as handled by the production pipeline.
// Written per item so a failed run retains partial progress.
type ProcessedMessage struct {
	MessageID       string
	PackID          string
	EventsExtracted int
	ProcessedAt     time.Time
}

// ExceptionRecord is one captured failure. Resolution is a manual action.
type ExceptionRecord struct {
	ID        int64
	Type      string
	Severity  string
	Message   string
	Context   json.RawMessage
	Resolved  bool
	CreatedAt time.Time
}

// Exception types.
const (
	ExcExtractionError   = "extraction_error"
	ExcCalendarError     = "calendar_error"
	ExcDuplicateDetected = "duplicate_detected"
	ExcAPIError          = "api_error"
	ExcForwardingError   = "forwarding_error"
	ExcOther             = "other"
)

// Exception severities.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AuditLogEntry is one append-only audit row.
type AuditLogEntry struct {
	ID        int64
	Timestamp time.Time
	EventType string
	SubjectID sql.NullString
	Actor     sql.NullString
	Details   json.RawMessage
}

// Audit event types.
const (
	AuditEventCreated      = "event_created"
	AuditOperationQueued   = "operation_queued"
	AuditOperationApproved = "operation_approved"
	AuditOperationRejected = "operation_rejected"
	AuditOperationExecuted = "operation_executed"
	AuditOperationFailed   = "operation_failed"
	AuditTokenIssued       = "token_issued"
	AuditTokenConsumed     = "token_consumed"
	AuditScanStarted       = "scan_started"
	AuditScanCompleted     = "scan_completed"
	AuditScanFailed        = "scan_failed"
	AuditDriftDetected     = "drift_detected"
	AuditMessageProcessed  = "message_processed"
)

// OAuthToken represents stored OAuth credentials.
type OAuthToken struct {
	ID              string
	RefreshTokenEnc []byte
	Scopes          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
