package core

import (
	"time"

	"github.com/google/uuid"
)

// Email represents one imported message record. Sender, subject and body are
// immutable after normalization; only the classifier and rule engine touch
// the scoring fields.
type Email struct {
	ID           uuid.UUID
	Sender       string
	Subject      string
	Body         string
	Recipients   []string
	Attachments  []string
	BusinessUnit string
	Department   string
	ReceivedAt   time.Time
	RiskScore    *float64
	Category     *string
	IsFlagged    bool
	CaseID       *uuid.UUID
	CaseReopened bool
	CreatedAt    time.Time
}

// Classified reports whether the email carries a score and category.
// The two are always set together.
func (e *Email) Classified() bool {
	return e.RiskScore != nil && e.Category != nil
}

// SetClassification assigns score and category as a pair.
func (e *Email) SetClassification(score float64, category string) {
	e.RiskScore = &score
	e.Category = &category
}

// Text returns the free-text fields the classifier trains and predicts on.
func (e *Email) Text() string {
	return e.Subject + " " + e.Body
}

// Classification categories (closed set).
const (
	CategoryBenign          = "benign"
	CategoryNeedsReview     = "needs-review"
	CategoryPolicyViolation = "policy-violation"
	CategoryUnknown         = "unknown"
)

// Categories lists every valid classification label.
var Categories = []string{
	CategoryBenign,
	CategoryNeedsReview,
	CategoryPolicyViolation,
	CategoryUnknown,
}

// Classification is the classifier's output for a single email.
type Classification struct {
	Score    float64
	Category string
}

// CaseStatus enumerates the case lifecycle states.
type CaseStatus string

const (
	StatusOpen          CaseStatus = "open"
	StatusUnderReview   CaseStatus = "under_review"
	StatusEscalated     CaseStatus = "escalated"
	StatusClosed        CaseStatus = "closed"
	StatusFalsePositive CaseStatus = "false_positive"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CaseStatus) Terminal() bool {
	return s == StatusClosed || s == StatusFalsePositive
}

// Case is an investigation unit created from a qualifying email.
// Version is the optimistic-concurrency guard: every successful transition
// increments it, and a transition supplying a stale version is rejected.
type Case struct {
	ID               uuid.UUID
	EmailID          uuid.UUID
	Status           CaseStatus
	AssignedTo       *string
	EscalationReason string
	ResolutionNotes  *string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Audit            []CaseTransition
}

// CaseTransition is one audit-trail entry recording a status change.
type CaseTransition struct {
	CaseID     uuid.UUID
	Actor      string
	FromStatus CaseStatus
	ToStatus   CaseStatus
	Reason     string
	OccurredAt time.Time
}

// FlaggedSender is a sender reputation record. Deactivation keeps the row so
// history survives an unflag.
type FlaggedSender struct {
	Sender    string
	Reason    string
	FlaggedAt time.Time
	FlaggedBy string
	Active    bool
}

// RuleAction enumerates what a matching admin rule may do.
type RuleAction string

const (
	ActionFlagSender    RuleAction = "flag-sender"
	ActionForceCategory RuleAction = "force-category"
	ActionCreateCase    RuleAction = "create-case"
	ActionIgnore        RuleAction = "ignore"
)

// RuleCondition is a single field/operator/value predicate. All conditions
// of a rule must hold for the rule to match.
type RuleCondition struct {
	Field    string
	Operator string
	Value    string
}

// AdminRule is an administrator-defined condition/action pair. Lower
// priority evaluates first; disabled rules are retained but skipped.
type AdminRule struct {
	ID          uuid.UUID
	Name        string
	Conditions  []RuleCondition
	Action      RuleAction
	ActionValue string
	Priority    int
	Enabled     bool
}

// RuleOutcome is the accumulated effect of rule evaluation on one email.
type RuleOutcome struct {
	Category   *string
	Flag       bool
	FlagReason string
	Escalate   bool
	MatchedIDs []uuid.UUID
}

// ModelSnapshot is the trained classifier artifact: an immutable, versioned
// bundle of vocabulary and class weights. Published atomically; readers
// never observe a partially written snapshot.
type ModelSnapshot struct {
	ID           uuid.UUID
	Version      int64
	TrainedAt    time.Time
	TrainingSize int
	Categories   []string
	Vocabulary   map[string]int
	ClassPriors  map[string]float64
	// TokenWeights holds per-class log-likelihoods indexed by vocabulary
	// position.
	TokenWeights map[string][]float64
}

// TrainingExample is one (text, human-confirmed label) pair drawn from a
// resolved case.
type TrainingExample struct {
	Text  string
	Label string
}

// SkipReason explains why a single imported row was dropped.
type SkipReason struct {
	Row    int
	Field  string
	Reason string
}

// IngestReport summarizes one normalization pass.
// Accepted+Skipped always equals the number of input rows.
type IngestReport struct {
	Accepted    int
	Skipped     int
	SkipReasons []SkipReason
}

// BatchResult summarizes one full pipeline run over an imported batch.
type BatchResult struct {
	Imported     int
	Classified   int
	Flagged      int
	CasesCreated int
	Skipped      int
	SkipReasons  []SkipReason
}

// ReclassifyResult summarizes a classifier-only re-scoring pass.
type ReclassifyResult struct {
	Reclassified int
	Flagged      int
	CasesCreated int
}

// RiskBucket maps a risk score to a categorical bucket for reporting.
func RiskBucket(score float64) string {
	switch {
	case score >= 0.85:
		return "critical"
	case score >= 0.70:
		return "high"
	case score >= 0.50:
		return "medium"
	case score >= 0.30:
		return "low"
	default:
		return "none"
	}
}

// StatsFilter narrows the dashboard aggregation.
type StatsFilter struct {
	From     time.Time
	To       time.Time
	Status   CaseStatus
	Category string
}

// DashboardStats is the read-only aggregation consumed by the dashboard.
type DashboardStats struct {
	TotalEmails       int
	TotalCases        int
	FlaggedEmails     int
	CasesByStatus     map[CaseStatus]int
	EmailsByCategory  map[string]int
	EmailsByBucket    map[string]int
	EmailsByDay       map[string]int
	TopFlaggedSenders []SenderCount
}

// SenderCount pairs a sender with how many of its emails were flagged.
type SenderCount struct {
	Sender string
	Count  int
}
