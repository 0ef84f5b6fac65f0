// Package cases owns the investigation-case state machine.
package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// transitions is the lifecycle matrix: allowed targets per current status.
// Closed and false_positive are terminal.
var transitions = map[core.CaseStatus][]core.CaseStatus{
	core.StatusOpen:          {core.StatusUnderReview, core.StatusEscalated, core.StatusFalsePositive},
	core.StatusUnderReview:   {core.StatusEscalated, core.StatusClosed, core.StatusFalsePositive},
	core.StatusEscalated:     {core.StatusClosed},
	core.StatusClosed:        {},
	core.StatusFalsePositive: {},
}

// CanTransition reports whether the matrix permits from -> to.
func CanTransition(from, to core.CaseStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionOptions carries the optional fields a transition may set.
type TransitionOptions struct {
	AssignedTo      *string
	ResolutionNotes *string
}

// Manager creates cases and drives them through the lifecycle.
type Manager struct {
	emails core.EmailStore
	store  core.CaseStore
	logger *zap.Logger
}

// NewManager creates a case lifecycle manager.
func NewManager(emails core.EmailStore, store core.CaseStore, logger *zap.Logger) *Manager {
	return &Manager{
		emails: emails,
		store:  store,
		logger: logger,
	}
}

// CreateCase opens a new case for an email. Exactly one case per email: a
// second creation fails with DuplicateCaseError, unless the existing case
// ended as a false positive and the email has not been re-opened before
// (one-shot re-open).
func (m *Manager) CreateCase(ctx context.Context, email *core.Email, reason string) (*core.Case, error) {
	if email.CaseID != nil {
		existing, err := m.store.GetCase(ctx, *email.CaseID)
		if err != nil && !errors.Is(err, core.ErrCaseNotFound) {
			return nil, fmt.Errorf("failed to load existing case: %w", err)
		}
		if existing != nil {
			if existing.Status != core.StatusFalsePositive || email.CaseReopened {
				return nil, &core.DuplicateCaseError{EmailID: email.ID, CaseID: existing.ID}
			}
			email.CaseReopened = true
		}
	}

	now := time.Now().UTC()
	c := &core.Case{
		ID:               uuid.New(),
		EmailID:          email.ID,
		Status:           core.StatusOpen,
		EscalationReason: reason,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	email.CaseID = &c.ID
	if err := m.emails.UpdateEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to link case to email: %w", err)
	}

	m.logger.Info("Created case",
		zap.String("case_id", c.ID.String()),
		zap.String("email_id", email.ID.String()),
		zap.String("reason", reason))

	return c, nil
}

// Transition moves a case to a new status. version is the optimistic
// concurrency guard: it must match the stored version or the call fails
// with ConcurrentModificationError. On success the audit trail gains an
// entry, the version increments and the updated case is returned; on any
// failure the case is untouched.
func (m *Manager) Transition(ctx context.Context, caseID uuid.UUID, target core.CaseStatus, actor, reason string, version int64, opts *TransitionOptions) (*core.Case, error) {
	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(c.Status, target) {
		return nil, &core.InvalidTransitionError{CaseID: caseID, From: c.Status, To: target}
	}
	if c.Version != version {
		return nil, &core.ConcurrentModificationError{CaseID: caseID, Expected: version, Actual: c.Version}
	}

	tr := core.CaseTransition{
		CaseID:     caseID,
		Actor:      actor,
		FromStatus: c.Status,
		ToStatus:   target,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}

	updated := *c
	updated.Status = target
	updated.Version = c.Version + 1
	updated.UpdatedAt = tr.OccurredAt
	if opts != nil {
		if opts.AssignedTo != nil {
			updated.AssignedTo = opts.AssignedTo
		}
		if opts.ResolutionNotes != nil {
			updated.ResolutionNotes = opts.ResolutionNotes
		}
	}

	// The store applies the status change and audit append atomically,
	// re-checking the version. A concurrent winner makes this fail with
	// ConcurrentModificationError.
	if err := m.store.ApplyTransition(ctx, &updated, version, tr); err != nil {
		return nil, err
	}
	updated.Audit = append(updated.Audit, tr)

	m.logger.Info("Case transitioned",
		zap.String("case_id", caseID.String()),
		zap.String("from", string(tr.FromStatus)),
		zap.String("to", string(tr.ToStatus)),
		zap.String("actor", actor))

	return &updated, nil
}

// Get returns a case with its audit trail.
func (m *Manager) Get(ctx context.Context, caseID uuid.UUID) (*core.Case, error) {
	return m.store.GetCase(ctx, caseID)
}
