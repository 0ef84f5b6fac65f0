package core

import (
	"context"

	"github.com/google/uuid"
)

// EmailStore persists email records.
type EmailStore interface {
	// SaveEmail inserts a new email record.
	SaveEmail(ctx context.Context, email *Email) error

	// UpdateEmail rewrites the mutable fields (score, category, flag,
	// case back-reference) of an existing email.
	UpdateEmail(ctx context.Context, email *Email) error

	// GetEmail retrieves an email by id, or ErrEmailNotFound.
	GetEmail(ctx context.Context, id uuid.UUID) (*Email, error)

	// ListEmails returns all stored emails.
	ListEmails(ctx context.Context) ([]*Email, error)

	// ListTrainingExamples returns (text, label) pairs for emails whose
	// cases reached a terminal state. False-positive cases label the
	// email benign; closed cases use the email's confirmed category.
	ListTrainingExamples(ctx context.Context) ([]TrainingExample, error)
}

// CaseStore persists cases and their audit trails. The status change and
// the audit-trail append of a transition are atomic: both happen or
// neither does.
type CaseStore interface {
	// CreateCase inserts a new case together with its opening audit
	// entry.
	CreateCase(ctx context.Context, c *Case) error

	// GetCase retrieves a case with its audit trail, or ErrCaseNotFound.
	GetCase(ctx context.Context, id uuid.UUID) (*Case, error)

	// GetCaseByEmail retrieves the case referencing an email, or
	// ErrCaseNotFound.
	GetCaseByEmail(ctx context.Context, emailID uuid.UUID) (*Case, error)

	// ApplyTransition commits an already-validated transition if and only
	// if the stored version still equals expectedVersion. On a version
	// mismatch it returns ConcurrentModificationError and leaves the case
	// unchanged.
	ApplyTransition(ctx context.Context, c *Case, expectedVersion int64, tr CaseTransition) error

	// ListCases returns all stored cases.
	ListCases(ctx context.Context) ([]*Case, error)
}

// SenderStore persists sender reputation records.
type SenderStore interface {
	// UpsertFlaggedSender inserts or reactivates a sender record.
	UpsertFlaggedSender(ctx context.Context, s *FlaggedSender) error

	// GetFlaggedSender retrieves a sender record regardless of active
	// state; returns nil when no record exists.
	GetFlaggedSender(ctx context.Context, sender string) (*FlaggedSender, error)

	// DeactivateFlaggedSender sets active=false, preserving the row.
	// Returns false when no active record existed.
	DeactivateFlaggedSender(ctx context.Context, sender string) (bool, error)

	// ListFlaggedSenders returns all sender records, active or not.
	ListFlaggedSenders(ctx context.Context) ([]*FlaggedSender, error)
}

// RuleStore persists administrator-defined rules. The rule engine consumes
// them read-only.
type RuleStore interface {
	// SaveRule inserts or updates a rule.
	SaveRule(ctx context.Context, r *AdminRule) error

	// ListEnabledRules returns enabled rules sorted ascending by
	// priority.
	ListEnabledRules(ctx context.Context) ([]*AdminRule, error)

	// ListRules returns every rule, disabled ones included.
	ListRules(ctx context.Context) ([]*AdminRule, error)
}

// ModelStore persists classifier snapshots as opaque versioned blobs.
type ModelStore interface {
	// SaveSnapshot persists a snapshot.
	SaveSnapshot(ctx context.Context, s *ModelSnapshot) error

	// LatestSnapshot returns the highest-version snapshot, or
	// ErrNoSnapshot when none has been saved.
	LatestSnapshot(ctx context.Context) (*ModelSnapshot, error)
}

// Store is the complete durable-store contract the pipeline depends on.
type Store interface {
	EmailStore
	CaseStore
	SenderStore
	RuleStore
	ModelStore

	// Close releases the underlying resources.
	Close() error
}

// SenderChecker is the high-frequency read path consulted during
// classification. Implementations must be safe for concurrent use and must
// not mutate state.
type SenderChecker interface {
	IsActive(ctx context.Context, sender string) bool
}
