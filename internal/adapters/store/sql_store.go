package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// sqlStore implements the Store interface over database/sql. SQLite and
// MySQL share it: both drivers take `?` placeholders, and timestamps are
// stored as RFC3339 strings. Only the DDL differs per backend.
type sqlStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// SaveEmail inserts a new email record.
func (s *sqlStore) SaveEmail(ctx context.Context, email *core.Email) error {
	recipients, err := json.Marshal(email.Recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}
	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (id, sender, subject, body, recipients, attachments,
			bunit, department, received_at, risk_score, category, is_flagged,
			case_id, case_reopened, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, email.ID.String(), email.Sender, email.Subject, email.Body,
		string(recipients), string(attachments),
		email.BusinessUnit, email.Department,
		email.ReceivedAt.UTC().Format(time.RFC3339Nano),
		email.RiskScore, email.Category, email.IsFlagged,
		uuidPtrString(email.CaseID), email.CaseReopened,
		email.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}
	return nil
}

// UpdateEmail rewrites the mutable fields of an existing email.
func (s *sqlStore) UpdateEmail(ctx context.Context, email *core.Email) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET risk_score = ?, category = ?, is_flagged = ?, case_id = ?, case_reopened = ?
		WHERE id = ?
	`, email.RiskScore, email.Category, email.IsFlagged,
		uuidPtrString(email.CaseID), email.CaseReopened, email.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return core.ErrEmailNotFound
	}
	return nil
}

// GetEmail retrieves an email by id.
func (s *sqlStore) GetEmail(ctx context.Context, id uuid.UUID) (*core.Email, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender, subject, body, recipients, attachments, bunit,
			department, received_at, risk_score, category, is_flagged,
			case_id, case_reopened, created_at
		FROM emails WHERE id = ?
	`, id.String())

	email, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrEmailNotFound
	}
	return email, err
}

// ListEmails returns all stored emails in insertion order.
func (s *sqlStore) ListEmails(ctx context.Context) ([]*core.Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, subject, body, recipients, attachments, bunit,
			department, received_at, risk_score, category, is_flagged,
			case_id, case_reopened, created_at
		FROM emails ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	var out []*core.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// ListTrainingExamples returns (text, label) pairs from emails whose cases
// reached a terminal state.
func (s *sqlStore) ListTrainingExamples(ctx context.Context) ([]core.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.subject, e.body, e.category, c.status
		FROM cases c
		JOIN emails e ON e.id = c.email_id
		WHERE c.status IN (?, ?)
	`, string(core.StatusClosed), string(core.StatusFalsePositive))
	if err != nil {
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var out []core.TrainingExample
	for rows.Next() {
		var subject, body, status string
		var category sql.NullString
		if err := rows.Scan(&subject, &body, &category, &status); err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}

		label := core.CategoryBenign
		if core.CaseStatus(status) == core.StatusClosed {
			if !category.Valid {
				continue
			}
			label = category.String
		}
		out = append(out, core.TrainingExample{Text: subject + " " + body, Label: label})
	}
	return out, rows.Err()
}

// CreateCase inserts a new case.
func (s *sqlStore) CreateCase(ctx context.Context, c *core.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, email_id, status, assigned_to, escalation_reason,
			resolution_notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID.String(), c.EmailID.String(), string(c.Status), c.AssignedTo,
		c.EscalationReason, c.ResolutionNotes, c.Version,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

// GetCase retrieves a case with its audit trail.
func (s *sqlStore) GetCase(ctx context.Context, id uuid.UUID) (*core.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email_id, status, assigned_to, escalation_reason,
			resolution_notes, version, created_at, updated_at
		FROM cases WHERE id = ?
	`, id.String())

	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Audit, err = s.listTransitions(ctx, id)
	return c, err
}

// GetCaseByEmail retrieves the most recent case referencing an email.
func (s *sqlStore) GetCaseByEmail(ctx context.Context, emailID uuid.UUID) (*core.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email_id, status, assigned_to, escalation_reason,
			resolution_notes, version, created_at, updated_at
		FROM cases WHERE email_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, emailID.String())

	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Audit, err = s.listTransitions(ctx, c.ID)
	return c, err
}

// ApplyTransition commits a transition inside one transaction: a guarded
// update on the version plus the audit-trail insert. Both succeed or both
// roll back.
func (s *sqlStore) ApplyTransition(ctx context.Context, c *core.Case, expectedVersion int64, tr core.CaseTransition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE cases
		SET status = ?, assigned_to = ?, resolution_notes = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, string(c.Status), c.AssignedTo, c.ResolutionNotes, c.Version,
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		c.ID.String(), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var actual int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM cases WHERE id = ?`, c.ID.String()).Scan(&actual)
		if err == sql.ErrNoRows {
			return core.ErrCaseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read case version: %w", err)
		}
		return &core.ConcurrentModificationError{CaseID: c.ID, Expected: expectedVersion, Actual: actual}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_transitions (case_id, actor, from_status, to_status, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.CaseID.String(), tr.Actor, string(tr.FromStatus), string(tr.ToStatus),
		tr.Reason, tr.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	return tx.Commit()
}

// ListCases returns all stored cases without audit trails.
func (s *sqlStore) ListCases(ctx context.Context) ([]*core.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email_id, status, assigned_to, escalation_reason,
			resolution_notes, version, created_at, updated_at
		FROM cases ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	var out []*core.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) listTransitions(ctx context.Context, caseID uuid.UUID) ([]core.CaseTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, actor, from_status, to_status, reason, occurred_at
		FROM case_transitions WHERE case_id = ? ORDER BY seq
	`, caseID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []core.CaseTransition
	for rows.Next() {
		var tr core.CaseTransition
		var id, from, to, occurred string
		if err := rows.Scan(&id, &tr.Actor, &from, &to, &tr.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.CaseID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transition case id: %w", err)
		}
		tr.FromStatus = core.CaseStatus(from)
		tr.ToStatus = core.CaseStatus(to)
		tr.OccurredAt, err = time.Parse(time.RFC3339Nano, occurred)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transition timestamp: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// UpsertFlaggedSender inserts or refreshes a sender record.
func (s *sqlStore) UpsertFlaggedSender(ctx context.Context, sender *core.FlaggedSender) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO flagged_senders (sender, reason, flagged_at, flagged_by, active)
		VALUES (?, ?, ?, ?, ?)
	`, strings.ToLower(sender.Sender), sender.Reason,
		sender.FlaggedAt.UTC().Format(time.RFC3339Nano), sender.FlaggedBy, sender.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert flagged sender: %w", err)
	}
	return nil
}

// GetFlaggedSender retrieves a sender record, or nil when absent.
func (s *sqlStore) GetFlaggedSender(ctx context.Context, sender string) (*core.FlaggedSender, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sender, reason, flagged_at, flagged_by, active
		FROM flagged_senders WHERE sender = ?
	`, strings.ToLower(sender))

	record, err := scanSender(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// DeactivateFlaggedSender sets active=false, preserving the row.
func (s *sqlStore) DeactivateFlaggedSender(ctx context.Context, sender string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE flagged_senders SET active = ? WHERE sender = ? AND active = ?
	`, false, strings.ToLower(sender), true)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate flagged sender: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListFlaggedSenders returns all sender records sorted by address.
func (s *sqlStore) ListFlaggedSenders(ctx context.Context) ([]*core.FlaggedSender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, reason, flagged_at, flagged_by, active
		FROM flagged_senders ORDER BY sender
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged senders: %w", err)
	}
	defer rows.Close()

	var out []*core.FlaggedSender
	for rows.Next() {
		record, err := scanSender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// SaveRule inserts or updates a rule.
func (s *sqlStore) SaveRule(ctx context.Context, r *core.AdminRule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO admin_rules (id, name, conditions, action, action_value, priority, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID.String(), r.Name, string(conditions), string(r.Action),
		r.ActionValue, r.Priority, r.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// ListEnabledRules returns enabled rules sorted ascending by priority.
func (s *sqlStore) ListEnabledRules(ctx context.Context) ([]*core.AdminRule, error) {
	return s.queryRules(ctx, `
		SELECT id, name, conditions, action, action_value, priority, enabled
		FROM admin_rules WHERE enabled = ? ORDER BY priority, name
	`, true)
}

// ListRules returns every rule, disabled ones included.
func (s *sqlStore) ListRules(ctx context.Context) ([]*core.AdminRule, error) {
	return s.queryRules(ctx, `
		SELECT id, name, conditions, action, action_value, priority, enabled
		FROM admin_rules ORDER BY priority, name
	`)
}

func (s *sqlStore) queryRules(ctx context.Context, query string, args ...any) ([]*core.AdminRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*core.AdminRule
	for rows.Next() {
		var r core.AdminRule
		var id, conditions, action string
		if err := rows.Scan(&id, &r.Name, &conditions, &action, &r.ActionValue, &r.Priority, &r.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rule id: %w", err)
		}
		if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions: %w", err)
		}
		r.Action = core.RuleAction(action)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveSnapshot persists a model snapshot as an opaque JSON blob.
func (s *sqlStore) SaveSnapshot(ctx context.Context, snap *core.ModelSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_snapshots (id, version, trained_at, training_size, payload)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID.String(), snap.Version,
		snap.TrainedAt.UTC().Format(time.RFC3339Nano), snap.TrainingSize, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the highest-version snapshot.
func (s *sqlStore) LatestSnapshot(ctx context.Context) (*core.ModelSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM model_snapshots ORDER BY version DESC LIMIT 1
	`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, core.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	var snap core.ModelSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*core.Email, error) {
	var email core.Email
	var id, recipients, attachments, receivedAt, createdAt string
	var category, caseID sql.NullString
	var riskScore sql.NullFloat64

	err := row.Scan(&id, &email.Sender, &email.Subject, &email.Body,
		&recipients, &attachments, &email.BusinessUnit, &email.Department,
		&receivedAt, &riskScore, &category, &email.IsFlagged,
		&caseID, &email.CaseReopened, &createdAt)
	if err != nil {
		return nil, err
	}

	email.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email id: %w", err)
	}
	if err := json.Unmarshal([]byte(recipients), &email.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &email.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	email.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at: %w", err)
	}
	email.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if riskScore.Valid {
		email.RiskScore = &riskScore.Float64
	}
	if category.Valid {
		email.Category = &category.String
	}
	if caseID.Valid {
		parsed, err := uuid.Parse(caseID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse case id: %w", err)
		}
		email.CaseID = &parsed
	}
	return &email, nil
}

func scanCase(row rowScanner) (*core.Case, error) {
	var c core.Case
	var id, emailID, status, createdAt, updatedAt string
	var assignedTo, notes sql.NullString

	err := row.Scan(&id, &emailID, &status, &assignedTo, &c.EscalationReason,
		&notes, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse case id: %w", err)
	}
	c.EmailID, err = uuid.Parse(emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse case email id: %w", err)
	}
	c.Status = core.CaseStatus(status)
	if assignedTo.Valid {
		c.AssignedTo = &assignedTo.String
	}
	if notes.Valid {
		c.ResolutionNotes = &notes.String
	}
	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse case created_at: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse case updated_at: %w", err)
	}
	return &c, nil
}

func scanSender(row rowScanner) (*core.FlaggedSender, error) {
	var record core.FlaggedSender
	var flaggedAt string

	err := row.Scan(&record.Sender, &record.Reason, &flaggedAt, &record.FlaggedBy, &record.Active)
	if err != nil {
		return nil, err
	}

	record.FlaggedAt, err = time.Parse(time.RFC3339Nano, flaggedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flagged_at: %w", err)
	}
	return &record, nil
}

func uuidPtrString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
