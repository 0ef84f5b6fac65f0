package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the Store interface.
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects to a MySQL database and ensures the schema
// exists.
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id VARCHAR(36) PRIMARY KEY,
			sender VARCHAR(255) NOT NULL,
			subject TEXT NOT NULL,
			body MEDIUMTEXT NOT NULL,
			recipients TEXT NOT NULL,
			attachments TEXT NOT NULL,
			bunit VARCHAR(255),
			department VARCHAR(255),
			received_at VARCHAR(64) NOT NULL,
			risk_score DOUBLE,
			category VARCHAR(64),
			is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
			case_id VARCHAR(36),
			case_reopened BOOLEAN NOT NULL DEFAULT FALSE,
			created_at VARCHAR(64) NOT NULL,
			INDEX idx_emails_sender (sender)
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			id VARCHAR(36) PRIMARY KEY,
			email_id VARCHAR(36) NOT NULL,
			status VARCHAR(32) NOT NULL,
			assigned_to VARCHAR(255),
			escalation_reason TEXT NOT NULL,
			resolution_notes TEXT,
			version BIGINT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			updated_at VARCHAR(64) NOT NULL,
			INDEX idx_cases_email (email_id)
		)`,
		`CREATE TABLE IF NOT EXISTS case_transitions (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			case_id VARCHAR(36) NOT NULL,
			actor VARCHAR(255) NOT NULL,
			from_status VARCHAR(32) NOT NULL,
			to_status VARCHAR(32) NOT NULL,
			reason TEXT,
			occurred_at VARCHAR(64) NOT NULL,
			INDEX idx_transitions_case (case_id)
		)`,
		`CREATE TABLE IF NOT EXISTS flagged_senders (
			sender VARCHAR(255) PRIMARY KEY,
			reason TEXT NOT NULL,
			flagged_at VARCHAR(64) NOT NULL,
			flagged_by VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS admin_rules (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			conditions TEXT NOT NULL,
			action VARCHAR(32) NOT NULL,
			action_value VARCHAR(255),
			priority INT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS model_snapshots (
			id VARCHAR(36) PRIMARY KEY,
			version BIGINT NOT NULL,
			trained_at VARCHAR(64) NOT NULL,
			training_size INT NOT NULL,
			payload MEDIUMTEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &MySQLStore{sqlStore{db: db, logger: logger}}, nil
}
