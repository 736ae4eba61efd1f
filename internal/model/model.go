// Package model defines the canonical entities persisted by the
// ticket-orchestration engine: Incident, WebhookRecord, OperatorConfig,
// OperatorSchedule, AssignmentCounter, ReassignmentHistory, AuditEntry and
// ConfigEntry.
package model

import "time"

// Priority is the Incident priority enum.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// AuditStatus is the Incident audit-review status enum.
type AuditStatus string

const (
	AuditStatusPending  AuditStatus = "pending"
	AuditStatusApproved AuditStatus = "approved"
	AuditStatusRejected AuditStatus = "rejected"
)

// Incident is the canonical local representation of a support ticket.
// See spec §3 for the full set of invariants (I1-I5).
type Incident struct {
	ID       int64  `db:"id"`
	CustomerRef  string `db:"customer_ref"`
	DisplayName  string `db:"display_name"`
	Subject      string `db:"subject"`

	// CreatedAtRaw preserves the originating CRM timestamp string
	// verbatim; CreatedAt is the best-effort parse of that string in
	// the fixed timezone. CreatedAtRaw is the unique idempotency key
	// (I1).
	CreatedAtRaw string    `db:"created_at_raw"`
	CreatedAt    time.Time `db:"created_at"`

	ExternalTicketID string   `db:"external_ticket_id"`
	StatusLabel      string   `db:"status_label"`
	Priority         Priority `db:"priority"`
	IsCreatedRemote  bool     `db:"is_created_remote"`

	AssignedTo *int64 `db:"assigned_to"`

	ClosedAt *time.Time `db:"closed_at"`
	IsClosed bool       `db:"is_closed"`

	LastUpdate time.Time `db:"last_update"`

	// TicketNumber is the ingestion-side ticket number (numero_ticket),
	// used to correlate closure webhooks with the incident for the
	// reopen window (spec §4.H step 4).
	TicketNumber string `db:"ticket_number"`

	// SLA bookkeeping.
	ExceededThreshold    bool       `db:"exceeded_threshold"`
	ResponseTimeMinutes  *int       `db:"response_time_minutes"`
	FirstAlertSentAt     *time.Time `db:"first_alert_sent_at"`
	LastAlertSentAt      *time.Time `db:"last_alert_sent_at"`
	PreAlertSentAt       *time.Time `db:"pre_alert_sent_at"`
	AlertCount           int        `db:"alert_count"`
	ResolutionTimeMinutes *int      `db:"resolution_time_minutes"`

	// RemoteClosedAt marks the start of the reopen window (spec §4.H).
	// Non-nil while WAITING_TO_CLOSE, nil while OPEN or CLOSED.
	RemoteClosedAt *time.Time `db:"remote_closed_at"`

	// Recreado counts how many times this incident was reopened in
	// TicketSvc after the reopen window expired without a matching
	// closure webhook.
	Recreado int `db:"recreado"`

	AuditRequested   bool        `db:"audit_requested"`
	AuditStatus      AuditStatus `db:"audit_status"`
	AuditRequestedAt *time.Time  `db:"audit_requested_at"`
	AuditRequestedBy string      `db:"audit_requested_by"`
	AuditReviewedAt  *time.Time  `db:"audit_reviewed_at"`
	AuditReviewedBy  string      `db:"audit_reviewed_by"`
	AuditNotified    bool        `db:"audit_notified"`

	CreatedRowAt time.Time `db:"created_row_at"`
	UpdatedRowAt time.Time `db:"updated_row_at"`
}

// WebhookKind discriminates the inbound webhook payloads (spec §9's
// discriminated-union design note).
type WebhookKind string

const (
	WebhookKindNew    WebhookKind = "new"
	WebhookKindClose  WebhookKind = "close"
	WebhookKindSplynx WebhookKind = "splynx"
)

// WebhookRecord is the raw inbound payload captured verbatim by
// WebhookIngester before materialization (spec §4.F).
type WebhookRecord struct {
	ID   int64       `db:"id"`
	Kind WebhookKind `db:"kind"`

	TicketNumber string `db:"ticket_number"`
	Company      string `db:"company"`
	Channel      string `db:"channel"`
	ContactReason string `db:"contact_reason"`
	CustomerRef  string `db:"customer_ref"`
	Phone        string `db:"phone"`
	UserName     string `db:"user_name"`

	CreatedAtRaw string     `db:"created_at_raw"`
	ClosedAtRaw  string     `db:"closed_at_raw"`
	ReceivedAt   time.Time  `db:"received_at"`

	Processed   bool       `db:"processed"`
	ProcessedAt *time.Time `db:"processed_at"`

	RawPayload string `db:"raw_payload"`
}

// OperatorConfig describes an on-duty operator and their eligibility for
// assignment and notifications (spec §3).
type OperatorConfig struct {
	PersonID             int64  `db:"person_id"`
	Name                 string `db:"name"`
	WhatsAppNumber       string `db:"whatsapp_number"`
	IsActive             bool   `db:"is_active"`
	IsPaused             bool   `db:"is_paused"`
	AssignmentPaused     bool   `db:"assignment_paused"`
	NotificationsEnabled bool   `db:"notifications_enabled"`
	PausedReason         string `db:"paused_reason"`
	PausedAt             *time.Time `db:"paused_at"`
	PausedBy             string `db:"paused_by"`
}

// Eligible reports whether the operator may receive a new assignment
// (spec §3 OperatorConfig invariant).
func (o OperatorConfig) Eligible() bool {
	return o.IsActive && !o.IsPaused && !o.AssignmentPaused
}

// ReceivesAlerts reports whether the operator should receive alert
// messages (shift summaries still respect NotificationsEnabled alone,
// per spec §3).
func (o OperatorConfig) ReceivesAlerts() bool {
	return !o.IsPaused && o.NotificationsEnabled
}

// ScheduleType enumerates the three kinds of OperatorSchedule row.
type ScheduleType string

const (
	ScheduleTypeWork       ScheduleType = "work"
	ScheduleTypeAssignment ScheduleType = "assignment"
	ScheduleTypeAlert      ScheduleType = "alert"
)

// OperatorSchedule is one weekday interval during which an operator is
// on duty for a given purpose (spec §3). Intervals are inclusive of
// start, exclusive of end, and never cross midnight.
type OperatorSchedule struct {
	ID           int64        `db:"id"`
	PersonID     int64        `db:"person_id"`
	DayOfWeek    int          `db:"day_of_week"` // 0=Monday .. 6=Sunday
	StartMinute  int          `db:"start_minute"` // minutes since midnight
	EndMinute    int          `db:"end_minute"`
	ScheduleType ScheduleType `db:"schedule_type"`
}

// Contains reports whether minuteOfDay falls within [StartMinute, EndMinute).
func (s OperatorSchedule) Contains(minuteOfDay int) bool {
	return minuteOfDay >= s.StartMinute && minuteOfDay < s.EndMinute
}

// AssignmentCounter is the per-operator least-loaded round-robin counter
// (spec §3, §4.G).
type AssignmentCounter struct {
	PersonID     int64      `db:"person_id"`
	TicketCount  int        `db:"ticket_count"`
	LastAssigned *time.Time `db:"last_assigned"`
}

// ReassignmentType enumerates the causes of a ReassignmentHistory row.
type ReassignmentType string

const (
	ReassignTypeAutoAssignment       ReassignmentType = "auto_assignment"
	ReassignTypeSplynxSync           ReassignmentType = "splynx_sync"
	ReassignTypeManual               ReassignmentType = "manual"
	ReassignTypeAutoUnassignAfterShift ReassignmentType = "auto_unassign_after_shift"
	ReassignTypeEndOfShift           ReassignmentType = "end_of_shift"
	ReassignTypeAudit                ReassignmentType = "audit"
	ReassignTypeReopenReassignment   ReassignmentType = "reopen_reassignment"
)

// ReassignmentHistory is an append-only log of operator reassignments
// (spec §3).
type ReassignmentHistory struct {
	ID               int64            `db:"id"`
	TicketID         string           `db:"ticket_id"`
	FromOperatorID   *int64           `db:"from_operator_id"`
	FromOperatorName string           `db:"from_operator_name"`
	ToOperatorID     *int64           `db:"to_operator_id"`
	ToOperatorName   string           `db:"to_operator_name"`
	Reason           string           `db:"reason"`
	Type             ReassignmentType `db:"reassignment_type"`
	CreatedAt        time.Time        `db:"created_at"`
	CreatedBy        string           `db:"created_by"`
	NotificationSent bool             `db:"notification_sent"`
}

// AuditEntry is an append-only audit log row (spec §3). Populated by the
// out-of-scope admin surface; the Repository Layer only needs to persist
// and list it.
type AuditEntry struct {
	ID         int64     `db:"id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	OldValue   string    `db:"old_value"` // JSON
	NewValue   string    `db:"new_value"` // JSON
	PerformedBy string   `db:"performed_by"`
	IP         string    `db:"ip"`
	PerformedAt time.Time `db:"performed_at"`
	Notes      string    `db:"notes"`
}

// ConfigValueType drives how ConfigEntry.Value is parsed (spec §4.A).
type ConfigValueType string

const (
	ConfigTypeString ConfigValueType = "string"
	ConfigTypeInt    ConfigValueType = "int"
	ConfigTypeBool   ConfigValueType = "bool"
	ConfigTypeJSON   ConfigValueType = "json"
)

// ConfigEntry is one row of the ConfigStore-backed key/value table
// (spec §3, §4.A).
type ConfigEntry struct {
	Key         string          `db:"key_name"`
	Value       string          `db:"value"`
	ValueType   ConfigValueType `db:"value_type"`
	Category    string          `db:"category"`
	Description string          `db:"description"`
	UpdatedAt   time.Time       `db:"updated_at"`
	UpdatedBy   string          `db:"updated_by"`
}
