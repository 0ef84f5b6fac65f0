// Package pipeline sequences normalization, classification, rule evaluation
// and case creation for imported batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/cases"
	"github.com/emailguardian/email-guardian/internal/classifier"
	"github.com/emailguardian/email-guardian/internal/core"
	"github.com/emailguardian/email-guardian/internal/ingest"
	"github.com/emailguardian/email-guardian/internal/registry"
	"github.com/emailguardian/email-guardian/internal/rules"
)

// Orchestrator runs the full pipeline: Normalizer -> Classifier ->
// Rule Engine -> Case Lifecycle Manager.
type Orchestrator struct {
	store      core.Store
	normalizer *ingest.Normalizer
	classifier *classifier.Classifier
	snapshots  *classifier.SnapshotProvider
	trainer    *classifier.Trainer
	engine     *rules.Engine
	caseMgr    *cases.Manager
	senders    *registry.Registry
	logger     *zap.Logger

	escalationThreshold float64
	workers             int
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(
	store core.Store,
	normalizer *ingest.Normalizer,
	clf *classifier.Classifier,
	snapshots *classifier.SnapshotProvider,
	trainer *classifier.Trainer,
	engine *rules.Engine,
	caseMgr *cases.Manager,
	senders *registry.Registry,
	logger *zap.Logger,
	escalationThreshold float64,
	workers int,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:               store,
		normalizer:          normalizer,
		classifier:          clf,
		snapshots:           snapshots,
		trainer:             trainer,
		engine:              engine,
		caseMgr:             caseMgr,
		senders:             senders,
		logger:              logger,
		escalationThreshold: escalationThreshold,
		workers:             workers,
	}
}

// ProcessBatch ingests raw rows end to end. Batch-level validation failures
// reject the whole import with nothing persisted; single bad rows are
// skipped and reported.
func (o *Orchestrator) ProcessBatch(ctx context.Context, rows []map[string]string) (*core.BatchResult, error) {
	emails, report, err := o.normalizer.NormalizeBatch(rows)
	if err != nil {
		return nil, err
	}

	result := &core.BatchResult{
		Skipped:     report.Skipped,
		SkipReasons: report.SkipReasons,
	}

	for _, email := range emails {
		if err := o.store.SaveEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to persist email: %w", err)
		}
		result.Imported++
	}

	o.classifyAll(ctx, emails)
	result.Classified = len(emails)

	ruleSet, err := o.store.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	for _, email := range emails {
		escalate, reason := o.applyRules(ctx, email, ruleSet)
		if email.IsFlagged {
			result.Flagged++
		}

		if escalate {
			if _, err := o.caseMgr.CreateCase(ctx, email, reason); err != nil {
				return nil, err
			}
			result.CasesCreated++
		} else if err := o.store.UpdateEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to update email: %w", err)
		}
	}

	o.logger.Info("Batch processed",
		zap.Int("imported", result.Imported),
		zap.Int("classified", result.Classified),
		zap.Int("flagged", result.Flagged),
		zap.Int("cases_created", result.CasesCreated),
		zap.Int("skipped", result.Skipped))

	return result, nil
}

// classifyAll scores emails in parallel. Classification is a pure function
// of (text, snapshot), so emails are independent; every worker classifies
// against the same snapshot loaded once up front.
func (o *Orchestrator) classifyAll(ctx context.Context, emails []*core.Email) {
	snapshot := o.snapshots.Current()

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for _, email := range emails {
		wg.Add(1)
		sem <- struct{}{}
		go func(e *core.Email) {
			defer wg.Done()
			defer func() { <-sem }()
			c := o.classifier.Classify(ctx, e, snapshot)
			e.SetClassification(c.Score, c.Category)
		}(email)
	}
	wg.Wait()
}

// applyRules evaluates the rule set against one email, applies the
// accumulated effects, and reports whether a case should be created.
func (o *Orchestrator) applyRules(ctx context.Context, email *core.Email, ruleSet []*core.AdminRule) (bool, string) {
	outcome := o.engine.Evaluate(email, ruleSet)

	if outcome.Category != nil {
		score := *email.RiskScore
		email.SetClassification(score, *outcome.Category)
	}

	if outcome.Flag {
		email.IsFlagged = true
		if err := o.senders.Flag(ctx, email.Sender, outcome.FlagReason, "rule-engine"); err != nil {
			o.logger.Error("Failed to flag sender from rule", zap.Error(err),
				zap.String("sender", email.Sender))
		}
	}
	if o.senders.IsActive(ctx, email.Sender) {
		email.IsFlagged = true
	}

	var reasons []string
	escalate := false
	if outcome.Escalate {
		escalate = true
		reasons = append(reasons, "rule demanded escalation")
	}
	if *email.RiskScore >= o.escalationThreshold {
		escalate = true
		reasons = append(reasons, fmt.Sprintf("risk score %.2f above threshold %.2f",
			*email.RiskScore, o.escalationThreshold))
	}

	return escalate, strings.Join(reasons, "; ")
}

// ReclassifyAll re-runs the classifier and rule engine over every stored
// email, typically after retraining. Scores and categories are refreshed;
// case creation stays a one-time event per email, except that a case
// resolved as a false positive permits exactly one re-open. Idempotent
// under an unchanged snapshot.
func (o *Orchestrator) ReclassifyAll(ctx context.Context) (*core.ReclassifyResult, error) {
	emails, err := o.store.ListEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	ruleSet, err := o.store.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	o.classifyAll(ctx, emails)

	result := &core.ReclassifyResult{}
	for _, email := range emails {
		escalate, reason := o.applyRules(ctx, email, ruleSet)
		if email.IsFlagged {
			result.Flagged++
		}

		if escalate {
			_, err := o.caseMgr.CreateCase(ctx, email, reason)
			switch {
			case err == nil:
				result.CasesCreated++
			case isDuplicateCase(err):
				// Live case already tracks this email.
				if err := o.store.UpdateEmail(ctx, email); err != nil {
					return nil, fmt.Errorf("failed to update email: %w", err)
				}
			default:
				return nil, err
			}
		} else if err := o.store.UpdateEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to update email: %w", err)
		}
		result.Reclassified++
	}

	o.logger.Info("Reclassification complete",
		zap.Int("reclassified", result.Reclassified),
		zap.Int("flagged", result.Flagged),
		zap.Int("cases_created", result.CasesCreated))

	return result, nil
}

// Retrain trains a new snapshot from resolved-case labels, persists it and
// publishes it atomically. In-flight classification finishes against the
// snapshot it started with.
func (o *Orchestrator) Retrain(ctx context.Context) (*core.ModelSnapshot, error) {
	snapshot, err := o.trainer.Retrain(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	o.snapshots.Publish(snapshot)
	return snapshot, nil
}

func isDuplicateCase(err error) bool {
	var dup *core.DuplicateCaseError
	return errors.As(err, &dup)
}
