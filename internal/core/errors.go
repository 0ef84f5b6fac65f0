package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrEmailNotFound is returned when an email record does not exist.
	ErrEmailNotFound = errors.New("email not found")
	// ErrCaseNotFound is returned when a case record does not exist.
	ErrCaseNotFound = errors.New("case not found")
	// ErrNoSnapshot is returned when no trained model snapshot has been
	// published yet.
	ErrNoSnapshot = errors.New("no model snapshot available")
	// ErrInsufficientTrainingData is returned by retraining when the
	// labeled corpus is too small to produce a usable model.
	ErrInsufficientTrainingData = errors.New("insufficient training data")
	// ErrDegenerateVocabulary is returned by retraining when the corpus
	// yields too few distinct tokens to publish a snapshot.
	ErrDegenerateVocabulary = errors.New("degenerate vocabulary")
)

// ValidationError describes a single malformed row. It is recovered by
// skipping the row and recording a skip reason, never raised across the
// batch boundary.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: invalid %s: %s", e.Row, e.Field, e.Reason)
}

// SkipReason converts the error into its ingestion-report form.
func (e *ValidationError) SkipReason() SkipReason {
	return SkipReason{Row: e.Row, Field: e.Field, Reason: e.Reason}
}

// BatchRejectedError is fatal to a whole import: the batch is missing
// required columns and nothing is persisted.
type BatchRejectedError struct {
	MissingColumns []string
}

func (e *BatchRejectedError) Error() string {
	return fmt.Sprintf("batch rejected: missing required columns %v", e.MissingColumns)
}

// DuplicateCaseError signals a violation of the one-case-per-email
// invariant.
type DuplicateCaseError struct {
	EmailID uuid.UUID
	CaseID  uuid.UUID
}

func (e *DuplicateCaseError) Error() string {
	return fmt.Sprintf("email %s already has case %s", e.EmailID, e.CaseID)
}

// InvalidTransitionError signals a status change not allowed by the
// lifecycle matrix. The case is left untouched.
type InvalidTransitionError struct {
	CaseID uuid.UUID
	From   CaseStatus
	To     CaseStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("case %s: invalid transition %s -> %s", e.CaseID, e.From, e.To)
}

// ConcurrentModificationError signals that a transition was attempted with a
// stale version. The caller is expected to reload and retry.
type ConcurrentModificationError struct {
	CaseID   uuid.UUID
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("case %s: stale version %d (current %d)", e.CaseID, e.Expected, e.Actual)
}
