package store

import (
	"fmt"

	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the Store interface.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (or creates) a SQLite database and ensures the
// schema exists.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			recipients TEXT NOT NULL,
			attachments TEXT NOT NULL,
			bunit TEXT,
			department TEXT,
			received_at TEXT NOT NULL,
			risk_score REAL,
			category TEXT,
			is_flagged BOOLEAN NOT NULL DEFAULT 0,
			case_id TEXT,
			case_reopened BOOLEAN NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender)`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			email_id TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_to TEXT,
			escalation_reason TEXT NOT NULL,
			resolution_notes TEXT,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_email ON cases(email_id)`,
		`CREATE TABLE IF NOT EXISTS case_transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			case_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT,
			occurred_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_case ON case_transitions(case_id)`,
		`CREATE TABLE IF NOT EXISTS flagged_senders (
			sender TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			flagged_at TEXT NOT NULL,
			flagged_by TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS admin_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			conditions TEXT NOT NULL,
			action TEXT NOT NULL,
			action_value TEXT,
			priority INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS model_snapshots (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			trained_at TEXT NOT NULL,
			training_size INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{sqlStore{db: db, logger: logger}}, nil
}
