// Package db owns the MySQL connection pool and schema migration for the
// ticket-orchestration engine. It mirrors the teacher's "open, then
// migrate with raw CREATE TABLE IF NOT EXISTS" pattern rather than a
// versioned migration framework, since DB migrations proper are out of
// scope (spec §1).
package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
)

// Config holds the connection parameters enumerated in spec §6.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// DSN builds a go-sql-driver/mysql data source name with settings safe
// for a long-lived service connection pool (parseTime so DATETIME columns
// scan directly into time.Time).
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local&multiStatements=true",
		c.User, c.Password, c.Host, port, c.Name)
}

// Open connects to MySQL and configures the pool. It does not run
// migrations; call Migrate separately so callers can decide ordering
// relative to other startup steps.
func Open(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates every table this service owns if it does not already
// exist. Safe to call on every boot.
func Migrate(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	customer_ref VARCHAR(128) NOT NULL,
	display_name VARCHAR(255) NOT NULL,
	subject VARCHAR(512) NOT NULL,
	created_at_raw VARCHAR(64) NOT NULL,
	created_at DATETIME NULL,
	external_ticket_id VARCHAR(64) NOT NULL DEFAULT '',
	status_label VARCHAR(32) NOT NULL DEFAULT 'PENDING',
	priority VARCHAR(16) NOT NULL DEFAULT 'medium',
	is_created_remote BOOLEAN NOT NULL DEFAULT FALSE,
	assigned_to BIGINT NULL,
	closed_at DATETIME NULL,
	is_closed BOOLEAN NOT NULL DEFAULT FALSE,
	last_update DATETIME NULL,
	ticket_number VARCHAR(64) NOT NULL DEFAULT '',
	exceeded_threshold BOOLEAN NOT NULL DEFAULT FALSE,
	response_time_minutes INT NULL,
	first_alert_sent_at DATETIME NULL,
	last_alert_sent_at DATETIME NULL,
	pre_alert_sent_at DATETIME NULL,
	alert_count INT NOT NULL DEFAULT 0,
	resolution_time_minutes INT NULL,
	remote_closed_at DATETIME NULL,
	recreado INT NOT NULL DEFAULT 0,
	audit_requested BOOLEAN NOT NULL DEFAULT FALSE,
	audit_status VARCHAR(16) NOT NULL DEFAULT 'pending',
	audit_requested_at DATETIME NULL,
	audit_requested_by VARCHAR(128) NOT NULL DEFAULT '',
	audit_reviewed_at DATETIME NULL,
	audit_reviewed_by VARCHAR(128) NOT NULL DEFAULT '',
	audit_notified BOOLEAN NOT NULL DEFAULT FALSE,
	created_row_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_row_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	UNIQUE KEY uq_incidents_created_at_raw (created_at_raw),
	INDEX idx_incidents_open (is_closed, external_ticket_id),
	INDEX idx_incidents_assigned (assigned_to, is_closed),
	INDEX idx_incidents_remote_closed (remote_closed_at, is_closed)
);

CREATE TABLE IF NOT EXISTS webhook_records (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	kind VARCHAR(16) NOT NULL,
	ticket_number VARCHAR(64) NOT NULL DEFAULT '',
	company VARCHAR(255) NOT NULL DEFAULT '',
	channel VARCHAR(64) NOT NULL DEFAULT '',
	contact_reason VARCHAR(255) NOT NULL DEFAULT '',
	customer_ref VARCHAR(128) NOT NULL DEFAULT '',
	phone VARCHAR(32) NOT NULL DEFAULT '',
	user_name VARCHAR(255) NOT NULL DEFAULT '',
	created_at_raw VARCHAR(64) NOT NULL DEFAULT '',
	closed_at_raw VARCHAR(64) NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at DATETIME NULL,
	raw_payload MEDIUMTEXT NOT NULL,
	INDEX idx_webhook_unprocessed (kind, processed, received_at)
);

CREATE TABLE IF NOT EXISTS operator_configs (
	person_id BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	whatsapp_number VARCHAR(32) NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_paused BOOLEAN NOT NULL DEFAULT FALSE,
	assignment_paused BOOLEAN NOT NULL DEFAULT FALSE,
	notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	paused_reason VARCHAR(255) NOT NULL DEFAULT '',
	paused_at DATETIME NULL,
	paused_by VARCHAR(128) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS operator_schedules (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	person_id BIGINT NOT NULL,
	day_of_week TINYINT NOT NULL,
	start_minute SMALLINT NOT NULL,
	end_minute SMALLINT NOT NULL,
	schedule_type VARCHAR(16) NOT NULL,
	INDEX idx_schedules_person_day (person_id, day_of_week, schedule_type)
);

CREATE TABLE IF NOT EXISTS assignment_counters (
	person_id BIGINT PRIMARY KEY,
	ticket_count INT NOT NULL DEFAULT 0,
	last_assigned DATETIME NULL
);

CREATE TABLE IF NOT EXISTS reassignment_history (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	ticket_id VARCHAR(64) NOT NULL,
	from_operator_id BIGINT NULL,
	from_operator_name VARCHAR(255) NOT NULL DEFAULT '',
	to_operator_id BIGINT NULL,
	to_operator_name VARCHAR(255) NOT NULL DEFAULT '',
	reason VARCHAR(255) NOT NULL DEFAULT '',
	reassignment_type VARCHAR(32) NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_by VARCHAR(128) NOT NULL DEFAULT '',
	notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	INDEX idx_reassignment_ticket (ticket_id)
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	action VARCHAR(64) NOT NULL,
	entity_type VARCHAR(64) NOT NULL,
	entity_id VARCHAR(64) NOT NULL,
	old_value MEDIUMTEXT NOT NULL DEFAULT '',
	new_value MEDIUMTEXT NOT NULL DEFAULT '',
	performed_by VARCHAR(128) NOT NULL DEFAULT '',
	ip VARCHAR(64) NOT NULL DEFAULT '',
	performed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	notes VARCHAR(512) NOT NULL DEFAULT '',
	INDEX idx_audit_entity (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS config_entries (
	key_name VARCHAR(128) PRIMARY KEY,
	value TEXT NOT NULL,
	value_type VARCHAR(16) NOT NULL DEFAULT 'string',
	category VARCHAR(64) NOT NULL DEFAULT '',
	description VARCHAR(512) NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	updated_by VARCHAR(128) NOT NULL DEFAULT ''
);
`
