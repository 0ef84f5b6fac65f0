package rules

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

func newRule(name string, priority int, action core.RuleAction, value string, conds ...core.RuleCondition) *core.AdminRule {
	return &core.AdminRule{
		ID:          uuid.New(),
		Name:        name,
		Priority:    priority,
		Action:      action,
		ActionValue: value,
		Conditions:  conds,
		Enabled:     true,
	}
}

func cond(field, op, value string) core.RuleCondition {
	return core.RuleCondition{Field: field, Operator: op, Value: value}
}

func testEmail() *core.Email {
	score := 0.42
	category := core.CategoryNeedsReview
	return &core.Email{
		ID:           uuid.New(),
		Sender:       "mallory@rival.com",
		Subject:      "Confidential pricing sheet",
		Body:         "please keep this between us",
		Recipients:   []string{"press@leaks.org"},
		Attachments:  []string{"pricing.xlsx"},
		Department:   "Sales",
		BusinessUnit: "EMEA",
		RiskScore:    &score,
		Category:     &category,
	}
}

func TestEvaluateFirstForceCategoryWins(t *testing.T) {
	e := NewEngine(zap.NewNop())

	r1 := newRule("first", 1, core.ActionForceCategory, core.CategoryPolicyViolation,
		cond("sender_domain", "equals", "rival.com"))
	r2 := newRule("second", 2, core.ActionForceCategory, core.CategoryBenign,
		cond("sender_domain", "equals", "rival.com"))

	// Registration order must not matter, only priority.
	outcome := e.Evaluate(testEmail(), []*core.AdminRule{r2, r1})
	require.NotNil(t, outcome.Category)
	assert.Equal(t, core.CategoryPolicyViolation, *outcome.Category)
	assert.Len(t, outcome.MatchedIDs, 2)
}

func TestEvaluatePriorityTiesBreakByName(t *testing.T) {
	e := NewEngine(zap.NewNop())

	ra := newRule("alpha", 5, core.ActionForceCategory, core.CategoryPolicyViolation,
		cond("department", "equals", "sales"))
	rb := newRule("beta", 5, core.ActionForceCategory, core.CategoryBenign,
		cond("department", "equals", "sales"))

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{rb, ra})
	require.NotNil(t, outcome.Category)
	assert.Equal(t, core.CategoryPolicyViolation, *outcome.Category)
}

func TestEvaluateConditionsAreANDed(t *testing.T) {
	e := NewEngine(zap.NewNop())

	r := newRule("both", 1, core.ActionFlagSender, "",
		cond("subject", "contains", "confidential"),
		cond("department", "equals", "engineering"))

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{r})
	assert.False(t, outcome.Flag)
	assert.Empty(t, outcome.MatchedIDs)
}

func TestEvaluateCreateCaseShortCircuits(t *testing.T) {
	e := NewEngine(zap.NewNop())

	creator := newRule("escalate", 1, core.ActionCreateCase, "",
		cond("subject", "contains", "confidential"))
	later := newRule("flag", 2, core.ActionFlagSender, "",
		cond("sender", "contains", "mallory"))

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{later, creator})
	assert.True(t, outcome.Escalate)
	assert.False(t, outcome.Flag)
	assert.Len(t, outcome.MatchedIDs, 1)
}

func TestEvaluateFlagSenderAccumulates(t *testing.T) {
	e := NewEngine(zap.NewNop())

	flag := newRule("watch rival", 1, core.ActionFlagSender, "",
		cond("sender_domain", "equals", "rival.com"))
	force := newRule("mark violation", 2, core.ActionForceCategory, core.CategoryPolicyViolation,
		cond("risk_score", "gte", "0.3"))

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{flag, force})
	assert.True(t, outcome.Flag)
	assert.Equal(t, "rule: watch rival", outcome.FlagReason)
	require.NotNil(t, outcome.Category)
	assert.Equal(t, core.CategoryPolicyViolation, *outcome.Category)
	assert.False(t, outcome.Escalate)
}

func TestEvaluateDisabledRulesAreSkipped(t *testing.T) {
	e := NewEngine(zap.NewNop())

	r := newRule("off", 1, core.ActionCreateCase, "",
		cond("subject", "contains", "confidential"))
	r.Enabled = false

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{r})
	assert.False(t, outcome.Escalate)
	assert.Empty(t, outcome.MatchedIDs)
}

func TestEvaluateRuleWithoutConditionsNeverMatches(t *testing.T) {
	e := NewEngine(zap.NewNop())

	r := newRule("empty", 1, core.ActionCreateCase, "")
	outcome := e.Evaluate(testEmail(), []*core.AdminRule{r})
	assert.False(t, outcome.Escalate)
}

func TestEvaluateMalformedConditionIsNonFatal(t *testing.T) {
	e := NewEngine(zap.NewNop())

	broken := newRule("broken field", 1, core.ActionCreateCase, "",
		cond("moon_phase", "equals", "full"))
	badOp := newRule("broken operator", 2, core.ActionCreateCase, "",
		cond("subject", "sounds_like", "confidential"))
	badNum := newRule("broken number", 3, core.ActionCreateCase, "",
		cond("risk_score", "gte", "very high"))
	good := newRule("good", 4, core.ActionFlagSender, "",
		cond("subject", "starts_with", "confidential"))

	outcome := e.Evaluate(testEmail(), []*core.AdminRule{broken, badOp, badNum, good})
	assert.False(t, outcome.Escalate)
	assert.True(t, outcome.Flag)
	assert.Len(t, outcome.MatchedIDs, 1)
}

func TestEvalConditionOperators(t *testing.T) {
	e := NewEngine(zap.NewNop())
	email := testEmail()

	tests := []struct {
		name string
		cond core.RuleCondition
		want bool
	}{
		{name: "equals", cond: cond("sender", "equals", "Mallory@Rival.com"), want: true},
		{name: "not equals", cond: cond("sender", "not_equals", "other@rival.com"), want: true},
		{name: "contains", cond: cond("body", "contains", "between us"), want: true},
		{name: "not contains", cond: cond("body", "not_contains", "weather"), want: true},
		{name: "starts with", cond: cond("subject", "starts_with", "confidential"), want: true},
		{name: "ends with", cond: cond("subject", "ends_with", "sheet"), want: true},
		{name: "recipients", cond: cond("recipients", "contains", "leaks.org"), want: true},
		{name: "attachments", cond: cond("attachments", "ends_with", ".xlsx"), want: true},
		{name: "business unit", cond: cond("business_unit", "equals", "emea"), want: true},
		{name: "category", cond: cond("category", "equals", core.CategoryNeedsReview), want: true},
		{name: "score gte", cond: cond("risk_score", "gte", "0.4"), want: true},
		{name: "score lte miss", cond: cond("risk_score", "lte", "0.1"), want: false},
		{name: "subject miss", cond: cond("subject", "contains", "payroll"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.evalCondition(email, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalNumericWithoutScoreNeverMatches(t *testing.T) {
	e := NewEngine(zap.NewNop())
	email := testEmail()
	email.RiskScore = nil

	got, err := e.evalCondition(email, cond("risk_score", "gte", "0.0"))
	require.NoError(t, err)
	assert.False(t, got)
}
