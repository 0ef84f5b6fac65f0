// Package rules evaluates administrator-defined condition/action pairs
// against classified emails.
package rules

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// Engine evaluates rules strictly in ascending priority order. Conditions
// within a rule are ANDed. Non-case-creating matches accumulate; a matching
// create-case rule short-circuits evaluation.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a rule engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Evaluate applies the enabled rules to one email and returns the
// accumulated outcome. A rule with an unknown field or operator is logged
// and treated as non-matching; it never aborts the batch.
func (e *Engine) Evaluate(email *core.Email, ruleSet []*core.AdminRule) core.RuleOutcome {
	ordered := make([]*core.AdminRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	// Priority is a total order: ties break by name, then id.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	var outcome core.RuleOutcome
	for _, rule := range ordered {
		if !e.matches(email, rule) {
			continue
		}
		outcome.MatchedIDs = append(outcome.MatchedIDs, rule.ID)

		switch rule.Action {
		case core.ActionForceCategory:
			// First match wins; lower-priority overrides are not
			// displaced by later matches.
			if outcome.Category == nil {
				v := rule.ActionValue
				outcome.Category = &v
			}
		case core.ActionFlagSender:
			outcome.Flag = true
			if outcome.FlagReason == "" {
				outcome.FlagReason = "rule: " + rule.Name
			}
		case core.ActionCreateCase:
			// Case creation is decisive; stop evaluating.
			outcome.Escalate = true
			return outcome
		case core.ActionIgnore:
			// Matched no-op.
		default:
			e.logger.Warn("Rule with unknown action skipped",
				zap.String("rule", rule.Name),
				zap.String("action", string(rule.Action)))
		}
	}

	return outcome
}

// matches reports whether all of the rule's conditions hold for the email.
func (e *Engine) matches(email *core.Email, rule *core.AdminRule) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		ok, err := e.evalCondition(email, cond)
		if err != nil {
			e.logger.Warn("Malformed rule condition treated as non-matching",
				zap.String("rule", rule.Name),
				zap.String("field", cond.Field),
				zap.String("operator", cond.Operator),
				zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func (e *Engine) evalCondition(email *core.Email, cond core.RuleCondition) (bool, error) {
	if cond.Field == "risk_score" {
		return evalNumeric(email, cond)
	}

	value, err := fieldValue(email, cond.Field)
	if err != nil {
		return false, err
	}
	return evalString(value, cond)
}

// fieldValue resolves a condition field to its lower-cased text value.
func fieldValue(email *core.Email, field string) (string, error) {
	switch field {
	case "sender":
		return strings.ToLower(email.Sender), nil
	case "sender_domain":
		parts := strings.Split(email.Sender, "@")
		if len(parts) != 2 {
			return "", nil
		}
		return strings.ToLower(parts[1]), nil
	case "subject":
		return strings.ToLower(email.Subject), nil
	case "body":
		return strings.ToLower(email.Body), nil
	case "recipients":
		return strings.ToLower(strings.Join(email.Recipients, ",")), nil
	case "attachments":
		return strings.ToLower(strings.Join(email.Attachments, ",")), nil
	case "department":
		return strings.ToLower(email.Department), nil
	case "business_unit":
		return strings.ToLower(email.BusinessUnit), nil
	case "category":
		if email.Category == nil {
			return "", nil
		}
		return strings.ToLower(*email.Category), nil
	default:
		return "", &unknownFieldError{field}
	}
}

func evalString(value string, cond core.RuleCondition) (bool, error) {
	want := strings.ToLower(cond.Value)
	switch cond.Operator {
	case "equals":
		return value == want, nil
	case "not_equals":
		return value != want, nil
	case "contains":
		return strings.Contains(value, want), nil
	case "not_contains":
		return !strings.Contains(value, want), nil
	case "starts_with":
		return strings.HasPrefix(value, want), nil
	case "ends_with":
		return strings.HasSuffix(value, want), nil
	default:
		return false, &unknownOperatorError{cond.Operator}
	}
}

func evalNumeric(email *core.Email, cond core.RuleCondition) (bool, error) {
	threshold, err := strconv.ParseFloat(cond.Value, 64)
	if err != nil {
		return false, &malformedValueError{cond.Value}
	}
	if email.RiskScore == nil {
		return false, nil
	}
	switch cond.Operator {
	case "gte":
		return *email.RiskScore >= threshold, nil
	case "lte":
		return *email.RiskScore <= threshold, nil
	case "equals":
		return *email.RiskScore == threshold, nil
	default:
		return false, &unknownOperatorError{cond.Operator}
	}
}

type unknownFieldError struct{ field string }

func (e *unknownFieldError) Error() string { return "unknown condition field: " + e.field }

type unknownOperatorError struct{ op string }

func (e *unknownOperatorError) Error() string { return "unknown condition operator: " + e.op }

type malformedValueError struct{ value string }

func (e *malformedValueError) Error() string { return "malformed numeric value: " + e.value }
