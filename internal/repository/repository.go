// Package repository exposes typed CRUD over the entities in the data
// model (spec §4.E) on top of a MySQL-backed sqlx.DB. It surfaces the
// idempotent-ingestion outcome (Created | Duplicate | Error) required by
// invariant I1 instead of letting a duplicate-key error propagate as a
// generic failure.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rhernandezbas/splynx-tickets/internal/model"
)

// IncidentOutcome is the result of an idempotent Incident insert.
type IncidentOutcome int

const (
	Created IncidentOutcome = iota
	Duplicate
	Error
)

func (o IncidentOutcome) String() string {
	switch o {
	case Created:
		return "Created"
	case Duplicate:
		return "Duplicate"
	default:
		return "Error"
	}
}

// Repository is the storage contract every worker depends on. It is an
// interface so workers can be unit tested against a fake without a live
// MySQL instance.
type Repository interface {
	CreateWebhookRecord(rec *model.WebhookRecord) error
	ListUnprocessedWebhooks(kind model.WebhookKind, limit int) ([]model.WebhookRecord, error)
	MarkWebhookProcessed(id int64, at time.Time) error
	FindWebhookByTicketNumber(kind model.WebhookKind, ticketNumber string) (*model.WebhookRecord, error)

	CreateIncident(inc *model.Incident) (IncidentOutcome, error)
	GetIncident(id int64) (*model.Incident, error)
	GetIncidentByExternalID(externalID string) (*model.Incident, error)
	UpdateIncident(inc *model.Incident) error
	ListUnmirroredIncidents(limit int) ([]model.Incident, error)
	ListOpenIncidentsWithExternalID() ([]model.Incident, error)
	ListOpenIncidentsInReopenWindow() ([]model.Incident, error)
	ListOpenIncidentsByAssignee(personID int64) ([]model.Incident, error)

	GetOperator(personID int64) (*model.OperatorConfig, error)
	ListOperators() ([]model.OperatorConfig, error)
	ListSchedules() ([]model.OperatorSchedule, error)

	GetCounter(personID int64) (*model.AssignmentCounter, error)
	ListCounters() ([]model.AssignmentCounter, error)
	IncrementCounter(personID int64, at time.Time) error
	ResetAllCounters() error

	CreateReassignmentHistory(h *model.ReassignmentHistory) error
	CreateAuditEntry(e *model.AuditEntry) error
	ListRecentAuditEntries(limit int) ([]model.AuditEntry, error)

	GetConfig(key string) (*model.ConfigEntry, error)
	SetConfig(e model.ConfigEntry) error
}

// store is the sqlx-backed implementation.
type store struct {
	db *sqlx.DB
}

// New builds a Repository backed by db.
func New(db *sqlx.DB) Repository {
	return &store{db: db}
}

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("repository: not found")

func (s *store) CreateWebhookRecord(rec *model.WebhookRecord) error {
	res, err := s.db.NamedExec(`
		INSERT INTO webhook_records
			(kind, ticket_number, company, channel, contact_reason, customer_ref,
			 phone, user_name, created_at_raw, closed_at_raw, received_at, processed, raw_payload)
		VALUES
			(:kind, :ticket_number, :company, :channel, :contact_reason, :customer_ref,
			 :phone, :user_name, :created_at_raw, :closed_at_raw, :received_at, :processed, :raw_payload)
	`, rec)
	if err != nil {
		return fmt.Errorf("create webhook record: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		rec.ID = id
	}
	return nil
}

func (s *store) ListUnprocessedWebhooks(kind model.WebhookKind, limit int) ([]model.WebhookRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []model.WebhookRecord
	err := s.db.Select(&rows, `
		SELECT * FROM webhook_records
		WHERE kind = ? AND processed = FALSE
		ORDER BY received_at ASC
		LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed webhooks: %w", err)
	}
	return rows, nil
}

func (s *store) MarkWebhookProcessed(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE webhook_records SET processed = TRUE, processed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}

func (s *store) FindWebhookByTicketNumber(kind model.WebhookKind, ticketNumber string) (*model.WebhookRecord, error) {
	var rec model.WebhookRecord
	err := s.db.Get(&rec, `
		SELECT * FROM webhook_records WHERE kind = ? AND ticket_number = ? ORDER BY received_at DESC LIMIT 1
	`, kind, ticketNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook by ticket number: %w", err)
	}
	return &rec, nil
}

// CreateIncident inserts inc, enforcing I1 (unique created_at_raw) as a
// non-error Duplicate outcome rather than surfacing the driver's
// duplicate-key error to the caller.
func (s *store) CreateIncident(inc *model.Incident) (IncidentOutcome, error) {
	res, err := s.db.NamedExec(`
		INSERT INTO incidents
			(customer_ref, display_name, subject, created_at_raw, created_at,
			 external_ticket_id, status_label, priority, is_created_remote,
			 assigned_to, last_update, ticket_number)
		VALUES
			(:customer_ref, :display_name, :subject, :created_at_raw, :created_at,
			 :external_ticket_id, :status_label, :priority, :is_created_remote,
			 :assigned_to, :last_update, :ticket_number)
	`, inc)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return Duplicate, nil
		}
		return Error, fmt.Errorf("create incident: %w", err)
	}
	id, idErr := res.LastInsertId()
	if idErr == nil {
		inc.ID = id
	}
	return Created, nil
}

func (s *store) GetIncident(id int64) (*model.Incident, error) {
	var inc model.Incident
	if err := s.db.Get(&inc, `SELECT * FROM incidents WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &inc, nil
}

func (s *store) GetIncidentByExternalID(externalID string) (*model.Incident, error) {
	var inc model.Incident
	if err := s.db.Get(&inc, `SELECT * FROM incidents WHERE external_ticket_id = ?`, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get incident by external id: %w", err)
	}
	return &inc, nil
}

func (s *store) UpdateIncident(inc *model.Incident) error {
	_, err := s.db.NamedExec(`
		UPDATE incidents SET
			external_ticket_id = :external_ticket_id,
			status_label = :status_label,
			is_created_remote = :is_created_remote,
			assigned_to = :assigned_to,
			closed_at = :closed_at,
			is_closed = :is_closed,
			last_update = :last_update,
			exceeded_threshold = :exceeded_threshold,
			response_time_minutes = :response_time_minutes,
			first_alert_sent_at = :first_alert_sent_at,
			last_alert_sent_at = :last_alert_sent_at,
			pre_alert_sent_at = :pre_alert_sent_at,
			alert_count = :alert_count,
			resolution_time_minutes = :resolution_time_minutes,
			remote_closed_at = :remote_closed_at,
			recreado = :recreado,
			audit_requested = :audit_requested,
			audit_status = :audit_status,
			audit_requested_at = :audit_requested_at,
			audit_requested_by = :audit_requested_by,
			audit_reviewed_at = :audit_reviewed_at,
			audit_reviewed_by = :audit_reviewed_by,
			audit_notified = :audit_notified
		WHERE id = :id
	`, inc)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

func (s *store) ListUnmirroredIncidents(limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []model.Incident
	err := s.db.Select(&rows, `
		SELECT * FROM incidents WHERE is_created_remote = FALSE ORDER BY created_row_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored incidents: %w", err)
	}
	return rows, nil
}

func (s *store) ListOpenIncidentsWithExternalID() ([]model.Incident, error) {
	var rows []model.Incident
	err := s.db.Select(&rows, `
		SELECT * FROM incidents WHERE is_closed = FALSE AND external_ticket_id <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	return rows, nil
}

func (s *store) ListOpenIncidentsInReopenWindow() ([]model.Incident, error) {
	var rows []model.Incident
	err := s.db.Select(&rows, `
		SELECT * FROM incidents WHERE is_closed = FALSE AND remote_closed_at IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list reopen-window incidents: %w", err)
	}
	return rows, nil
}

func (s *store) ListOpenIncidentsByAssignee(personID int64) ([]model.Incident, error) {
	var rows []model.Incident
	err := s.db.Select(&rows, `
		SELECT * FROM incidents WHERE is_closed = FALSE AND assigned_to = ?
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("list incidents by assignee: %w", err)
	}
	return rows, nil
}

func (s *store) GetOperator(personID int64) (*model.OperatorConfig, error) {
	var op model.OperatorConfig
	if err := s.db.Get(&op, `SELECT * FROM operator_configs WHERE person_id = ?`, personID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return &op, nil
}

func (s *store) ListOperators() ([]model.OperatorConfig, error) {
	var rows []model.OperatorConfig
	if err := s.db.Select(&rows, `SELECT * FROM operator_configs ORDER BY person_id ASC`); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return rows, nil
}

func (s *store) ListSchedules() ([]model.OperatorSchedule, error) {
	var rows []model.OperatorSchedule
	if err := s.db.Select(&rows, `SELECT * FROM operator_schedules`); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return rows, nil
}

func (s *store) GetCounter(personID int64) (*model.AssignmentCounter, error) {
	var c model.AssignmentCounter
	err := s.db.Get(&c, `SELECT * FROM assignment_counters WHERE person_id = ?`, personID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.AssignmentCounter{PersonID: personID, TicketCount: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get counter: %w", err)
	}
	return &c, nil
}

func (s *store) ListCounters() ([]model.AssignmentCounter, error) {
	var rows []model.AssignmentCounter
	if err := s.db.Select(&rows, `SELECT * FROM assignment_counters`); err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	return rows, nil
}

// IncrementCounter uses an UPSERT so the first assignment for an operator
// does not require a separate row-creation step. The row-level lock taken
// by MySQL on the updated row serializes concurrent increments for the
// same person_id, satisfying the single-writer-counter property (spec §8.3).
func (s *store) IncrementCounter(personID int64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO assignment_counters (person_id, ticket_count, last_assigned)
		VALUES (?, 1, ?)
		ON DUPLICATE KEY UPDATE ticket_count = ticket_count + 1, last_assigned = VALUES(last_assigned)
	`, personID, at)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

func (s *store) ResetAllCounters() error {
	_, err := s.db.Exec(`UPDATE assignment_counters SET ticket_count = 0`)
	if err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}

func (s *store) CreateReassignmentHistory(h *model.ReassignmentHistory) error {
	_, err := s.db.NamedExec(`
		INSERT INTO reassignment_history
			(ticket_id, from_operator_id, from_operator_name, to_operator_id, to_operator_name,
			 reason, reassignment_type, created_by, notification_sent)
		VALUES
			(:ticket_id, :from_operator_id, :from_operator_name, :to_operator_id, :to_operator_name,
			 :reason, :reassignment_type, :created_by, :notification_sent)
	`, h)
	if err != nil {
		return fmt.Errorf("create reassignment history: %w", err)
	}
	return nil
}

func (s *store) CreateAuditEntry(e *model.AuditEntry) error {
	_, err := s.db.NamedExec(`
		INSERT INTO audit_entries
			(action, entity_type, entity_id, old_value, new_value, performed_by, ip, notes)
		VALUES
			(:action, :entity_type, :entity_id, :old_value, :new_value, :performed_by, :ip, :notes)
	`, e)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (s *store) ListRecentAuditEntries(limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.AuditEntry
	err := s.db.Select(&rows, `SELECT * FROM audit_entries ORDER BY performed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return rows, nil
}

func (s *store) GetConfig(key string) (*model.ConfigEntry, error) {
	var e model.ConfigEntry
	err := s.db.Get(&e, `SELECT * FROM config_entries WHERE key_name = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &e, nil
}

func (s *store) SetConfig(e model.ConfigEntry) error {
	_, err := s.db.NamedExec(`
		INSERT INTO config_entries (key_name, value, value_type, category, description, updated_by)
		VALUES (:key_name, :value, :value_type, :category, :description, :updated_by)
		ON DUPLICATE KEY UPDATE
			value = VALUES(value), value_type = VALUES(value_type),
			category = VALUES(category), description = VALUES(description),
			updated_by = VALUES(updated_by)
	`, e)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}
