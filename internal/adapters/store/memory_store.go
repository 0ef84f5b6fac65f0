// Package store provides the durable-store backends: in-memory, SQLite and
// MySQL implementations of the core store ports.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// MemoryStore is an in-memory implementation of the Store interface. Used
// as the default backend and throughout the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	emails    map[uuid.UUID]*core.Email
	emailSeq  []uuid.UUID
	cases     map[uuid.UUID]*core.Case
	caseSeq   []uuid.UUID
	senders   map[string]*core.FlaggedSender
	rules     map[uuid.UUID]*core.AdminRule
	snapshots []*core.ModelSnapshot
	logger    *zap.Logger
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		emails:  map[uuid.UUID]*core.Email{},
		cases:   map[uuid.UUID]*core.Case{},
		senders: map[string]*core.FlaggedSender{},
		rules:   map[uuid.UUID]*core.AdminRule{},
		logger:  logger,
	}
}

// SaveEmail inserts a new email record.
func (s *MemoryStore) SaveEmail(ctx context.Context, email *core.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[email.ID]; !exists {
		s.emailSeq = append(s.emailSeq, email.ID)
	}
	s.emails[email.ID] = copyEmail(email)
	return nil
}

// UpdateEmail rewrites the mutable fields of an existing email.
func (s *MemoryStore) UpdateEmail(ctx context.Context, email *core.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[email.ID]; !ok {
		return core.ErrEmailNotFound
	}
	s.emails[email.ID] = copyEmail(email)
	return nil
}

// GetEmail retrieves an email by id.
func (s *MemoryStore) GetEmail(ctx context.Context, id uuid.UUID) (*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[id]
	if !ok {
		return nil, core.ErrEmailNotFound
	}
	return copyEmail(email), nil
}

// ListEmails returns all stored emails in insertion order.
func (s *MemoryStore) ListEmails(ctx context.Context) ([]*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Email, 0, len(s.emailSeq))
	for _, id := range s.emailSeq {
		out = append(out, copyEmail(s.emails[id]))
	}
	return out, nil
}

// ListTrainingExamples returns (text, label) pairs from emails whose cases
// reached a terminal state.
func (s *MemoryStore) ListTrainingExamples(ctx context.Context) ([]core.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.TrainingExample
	for _, id := range s.caseSeq {
		c := s.cases[id]
		if !c.Status.Terminal() {
			continue
		}
		email, ok := s.emails[c.EmailID]
		if !ok {
			continue
		}
		label := core.CategoryBenign
		if c.Status == core.StatusClosed {
			if email.Category == nil {
				continue
			}
			label = *email.Category
		}
		out = append(out, core.TrainingExample{Text: email.Text(), Label: label})
	}
	return out, nil
}

// CreateCase inserts a new case.
func (s *MemoryStore) CreateCase(ctx context.Context, c *core.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; !exists {
		s.caseSeq = append(s.caseSeq, c.ID)
	}
	s.cases[c.ID] = copyCase(c)
	return nil
}

// GetCase retrieves a case with its audit trail.
func (s *MemoryStore) GetCase(ctx context.Context, id uuid.UUID) (*core.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, core.ErrCaseNotFound
	}
	return copyCase(c), nil
}

// GetCaseByEmail retrieves the case referencing an email.
func (s *MemoryStore) GetCaseByEmail(ctx context.Context, emailID uuid.UUID) (*core.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk newest-first so a re-opened email resolves to its live case.
	for i := len(s.caseSeq) - 1; i >= 0; i-- {
		if c := s.cases[s.caseSeq[i]]; c.EmailID == emailID {
			return copyCase(c), nil
		}
	}
	return nil, core.ErrCaseNotFound
}

// ApplyTransition commits a transition with a compare-and-swap on the
// version: the status change and the audit append happen under one lock,
// so at most one of two concurrent attempts with the same starting version
// succeeds.
func (s *MemoryStore) ApplyTransition(ctx context.Context, c *core.Case, expectedVersion int64, tr core.CaseTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[c.ID]
	if !ok {
		return core.ErrCaseNotFound
	}
	if stored.Version != expectedVersion {
		return &core.ConcurrentModificationError{
			CaseID:   c.ID,
			Expected: expectedVersion,
			Actual:   stored.Version,
		}
	}

	updated := copyCase(c)
	updated.Audit = append(append([]core.CaseTransition{}, stored.Audit...), tr)
	s.cases[c.ID] = updated
	return nil
}

// ListCases returns all stored cases in insertion order.
func (s *MemoryStore) ListCases(ctx context.Context) ([]*core.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Case, 0, len(s.caseSeq))
	for _, id := range s.caseSeq {
		out = append(out, copyCase(s.cases[id]))
	}
	return out, nil
}

// UpsertFlaggedSender inserts or refreshes a sender record.
func (s *MemoryStore) UpsertFlaggedSender(ctx context.Context, sender *core.FlaggedSender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sender
	s.senders[strings.ToLower(sender.Sender)] = &cp
	return nil
}

// GetFlaggedSender retrieves a sender record, or nil when absent.
func (s *MemoryStore) GetFlaggedSender(ctx context.Context, sender string) (*core.FlaggedSender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.senders[strings.ToLower(sender)]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

// DeactivateFlaggedSender sets active=false, preserving the record.
func (s *MemoryStore) DeactivateFlaggedSender(ctx context.Context, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.senders[strings.ToLower(sender)]
	if !ok || !record.Active {
		return false, nil
	}
	record.Active = false
	return true, nil
}

// ListFlaggedSenders returns all sender records sorted by address.
func (s *MemoryStore) ListFlaggedSenders(ctx context.Context) ([]*core.FlaggedSender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.FlaggedSender, 0, len(s.senders))
	for _, record := range s.senders {
		cp := *record
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out, nil
}

// SaveRule inserts or updates a rule.
func (s *MemoryStore) SaveRule(ctx context.Context, r *core.AdminRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.Conditions = append([]core.RuleCondition{}, r.Conditions...)
	s.rules[r.ID] = &cp
	return nil
}

// ListEnabledRules returns enabled rules sorted ascending by priority.
func (s *MemoryStore) ListEnabledRules(ctx context.Context) ([]*core.AdminRule, error) {
	all, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.AdminRule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRules returns every rule sorted ascending by priority.
func (s *MemoryStore) ListRules(ctx context.Context) ([]*core.AdminRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.AdminRule, 0, len(s.rules))
	for _, r := range s.rules {
		cp := *r
		cp.Conditions = append([]core.RuleCondition{}, r.Conditions...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SaveSnapshot persists a model snapshot.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *core.ModelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snap)
	return nil
}

// LatestSnapshot returns the highest-version snapshot.
func (s *MemoryStore) LatestSnapshot(ctx context.Context) (*core.ModelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, core.ErrNoSnapshot
	}
	latest := s.snapshots[0]
	for _, snap := range s.snapshots[1:] {
		if snap.Version > latest.Version {
			latest = snap
		}
	}
	return latest, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyEmail(e *core.Email) *core.Email {
	cp := *e
	cp.Recipients = append([]string(nil), e.Recipients...)
	cp.Attachments = append([]string(nil), e.Attachments...)
	if e.RiskScore != nil {
		v := *e.RiskScore
		cp.RiskScore = &v
	}
	if e.Category != nil {
		v := *e.Category
		cp.Category = &v
	}
	if e.CaseID != nil {
		v := *e.CaseID
		cp.CaseID = &v
	}
	return &cp
}

func copyCase(c *core.Case) *core.Case {
	cp := *c
	cp.Audit = append([]core.CaseTransition(nil), c.Audit...)
	if c.AssignedTo != nil {
		v := *c.AssignedTo
		cp.AssignedTo = &v
	}
	if c.ResolutionNotes != nil {
		v := *c.ResolutionNotes
		cp.ResolutionNotes = &v
	}
	return &cp
}
