package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "guardian.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteEmailRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	score := 0.8
	category := core.CategoryNeedsReview
	email := &core.Email{
		ID:           uuid.New(),
		Sender:       "a@b.com",
		Subject:      "quarterly numbers",
		Body:         "see attached",
		Recipients:   []string{"c@d.com", "e@f.com"},
		Attachments:  []string{"numbers.xlsx"},
		BusinessUnit: "emea",
		Department:   "finance",
		ReceivedAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		RiskScore:    &score,
		Category:     &category,
		IsFlagged:    true,
		CreatedAt:    time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveEmail(ctx, email))

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, email.Sender, got.Sender)
	assert.Equal(t, email.Recipients, got.Recipients)
	assert.Equal(t, email.Attachments, got.Attachments)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, score, *got.RiskScore)
	require.NotNil(t, got.Category)
	assert.Equal(t, category, *got.Category)
	assert.True(t, got.IsFlagged)
	assert.True(t, email.ReceivedAt.Equal(got.ReceivedAt))

	_, err = s.GetEmail(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrEmailNotFound)
}

func TestSQLiteEmailNullableFields(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	email := &core.Email{
		ID:         uuid.New(),
		Sender:     "a@b.com",
		Subject:    "unscored",
		Body:       "body",
		ReceivedAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveEmail(ctx, email))

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RiskScore)
	assert.Nil(t, got.Category)
	assert.Nil(t, got.CaseID)
	assert.Empty(t, got.Recipients)
}

func TestSQLiteUpdateEmail(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	email := &core.Email{
		ID:         uuid.New(),
		Sender:     "a@b.com",
		Subject:    "s",
		Body:       "b",
		ReceivedAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveEmail(ctx, email))

	score := 0.9
	category := core.CategoryPolicyViolation
	caseID := uuid.New()
	email.RiskScore = &score
	email.Category = &category
	email.IsFlagged = true
	email.CaseID = &caseID
	require.NoError(t, s.UpdateEmail(ctx, email))

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CaseID)
	assert.Equal(t, caseID, *got.CaseID)
	assert.True(t, got.IsFlagged)

	missing := *email
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.UpdateEmail(ctx, &missing), core.ErrEmailNotFound)
}

func TestSQLiteCaseTransitionsAtomic(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	c := newCase(uuid.New())
	require.NoError(t, s.CreateCase(ctx, c))

	updated := *c
	updated.Status = core.StatusUnderReview
	updated.Version = 2
	updated.UpdatedAt = time.Now().UTC()
	tr := core.CaseTransition{
		CaseID:     c.ID,
		Actor:      "analyst",
		FromStatus: core.StatusOpen,
		ToStatus:   core.StatusUnderReview,
		Reason:     "picking up",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransition(ctx, &updated, 1, tr))

	// A stale retry fails and must not leave a dangling audit row.
	err := s.ApplyTransition(ctx, &updated, 1, tr)
	var conflict *core.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.Actual)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusUnderReview, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Audit, 1)
	assert.Equal(t, "analyst", got.Audit[0].Actor)
	assert.Equal(t, core.StatusOpen, got.Audit[0].FromStatus)
}

func TestSQLiteGetCaseByEmailPrefersNewest(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	emailID := uuid.New()
	old := newCase(emailID)
	old.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, s.CreateCase(ctx, old))

	fresh := newCase(emailID)
	require.NoError(t, s.CreateCase(ctx, fresh))

	got, err := s.GetCaseByEmail(ctx, emailID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)

	_, err = s.GetCaseByEmail(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrCaseNotFound)
}

func TestSQLiteRulesRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	r := &core.AdminRule{
		ID:          uuid.New(),
		Name:        "escalate rival",
		Action:      core.ActionCreateCase,
		ActionValue: "",
		Priority:    2,
		Enabled:     true,
		Conditions: []core.RuleCondition{
			{Field: "sender_domain", Operator: "equals", Value: "rival.com"},
			{Field: "risk_score", Operator: "gte", Value: "0.5"},
		},
	}
	require.NoError(t, s.SaveRule(ctx, r))

	disabled := &core.AdminRule{
		ID:       uuid.New(),
		Name:     "off",
		Action:   core.ActionIgnore,
		Priority: 1,
		Enabled:  false,
		Conditions: []core.RuleCondition{
			{Field: "subject", Operator: "contains", Value: "x"},
		},
	}
	require.NoError(t, s.SaveRule(ctx, disabled))

	enabled, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, r.Conditions, enabled[0].Conditions)

	// REPLACE keeps one row per rule id.
	r.Priority = 9
	require.NoError(t, s.SaveRule(ctx, r))
	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteFlaggedSenders(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	record, err := s.GetFlaggedSender(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, s.UpsertFlaggedSender(ctx, &core.FlaggedSender{
		Sender:    "Mallory@Rival.com",
		Reason:    "leaks",
		FlaggedAt: time.Now().UTC(),
		FlaggedBy: "admin",
		Active:    true,
	}))

	record, err = s.GetFlaggedSender(ctx, "mallory@rival.com")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Active)

	deactivated, err := s.DeactivateFlaggedSender(ctx, "MALLORY@rival.com")
	require.NoError(t, err)
	assert.True(t, deactivated)

	deactivated, err = s.DeactivateFlaggedSender(ctx, "mallory@rival.com")
	require.NoError(t, err)
	assert.False(t, deactivated)
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, core.ErrNoSnapshot)

	snap := &core.ModelSnapshot{
		ID:           uuid.New(),
		Version:      1,
		TrainedAt:    time.Now().UTC(),
		TrainingSize: 12,
		Categories:   []string{core.CategoryBenign, core.CategoryPolicyViolation},
		Vocabulary:   map[string]int{"wire": 0, "lunch": 1},
		ClassPriors:  map[string]float64{core.CategoryBenign: -0.7},
		TokenWeights: map[string][]float64{core.CategoryBenign: {-1.2, -0.3}},
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	require.NoError(t, s.SaveSnapshot(ctx, &core.ModelSnapshot{ID: uuid.New(), Version: 2, TrainedAt: time.Now().UTC()}))

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
}

func TestSQLiteTrainingExamples(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	violation := core.CategoryPolicyViolation
	confirmed := &core.Email{
		ID:         uuid.New(),
		Sender:     "a@b.com",
		Subject:    "wire",
		Body:       "transfer",
		Category:   &violation,
		ReceivedAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveEmail(ctx, confirmed))
	closed := newCase(confirmed.ID)
	closed.Status = core.StatusClosed
	require.NoError(t, s.CreateCase(ctx, closed))

	cleared := &core.Email{
		ID:         uuid.New(),
		Sender:     "c@d.com",
		Subject:    "lunch",
		Body:       "friday",
		ReceivedAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveEmail(ctx, cleared))
	fp := newCase(cleared.ID)
	fp.Status = core.StatusFalsePositive
	require.NoError(t, s.CreateCase(ctx, fp))

	examples, err := s.ListTrainingExamples(ctx)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	labels := map[string]string{}
	for _, ex := range examples {
		labels[ex.Text] = ex.Label
	}
	assert.Equal(t, core.CategoryPolicyViolation, labels["wire transfer"])
	assert.Equal(t, core.CategoryBenign, labels["lunch friday"])
}
