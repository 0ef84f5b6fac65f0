// Package classifier scores email text for policy risk using a multinomial
// naive bayes model over subject and body tokens.
package classifier

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// riskWeights calibrate class probabilities into a single risk score: the
// score is the probability mass of each class weighted by how risky that
// class is.
var riskWeights = map[string]float64{
	core.CategoryPolicyViolation: 1.0,
	core.CategoryNeedsReview:     0.6,
	core.CategoryUnknown:         0.4,
	core.CategoryBenign:          0.05,
}

// Classifier turns email text into a risk score and category. Inference is a
// pure function of (email text, snapshot); the sender registry read is the
// only external input and never mutates state.
type Classifier struct {
	senders core.SenderChecker
	logger  *zap.Logger
	floor   float64
}

// NewClassifier creates a classifier. floor is the minimum effective score
// for emails from actively flagged senders.
func NewClassifier(senders core.SenderChecker, logger *zap.Logger, floor float64) *Classifier {
	return &Classifier{
		senders: senders,
		logger:  logger,
		floor:   floor,
	}
}

// Classify scores one email against a model snapshot. A nil snapshot
// degrades to the deterministic heuristic fallback (category unknown,
// score 0) rather than failing. Flagged senders are never auto-cleared by
// text alone: their score is raised to at least the configured floor.
func (c *Classifier) Classify(ctx context.Context, email *core.Email, snapshot *core.ModelSnapshot) core.Classification {
	result := c.classifyText(email.Text(), snapshot)

	if c.senders != nil && c.senders.IsActive(ctx, email.Sender) {
		if result.Score < c.floor {
			c.logger.Debug("Raised score to flagged-sender floor",
				zap.String("sender", email.Sender),
				zap.Float64("text_score", result.Score),
				zap.Float64("floor", c.floor))
			result.Score = c.floor
		}
		if result.Category == core.CategoryBenign {
			result.Category = core.CategoryNeedsReview
		}
	}

	return result
}

func (c *Classifier) classifyText(text string, snapshot *core.ModelSnapshot) core.Classification {
	if snapshot == nil || len(snapshot.Vocabulary) == 0 || len(snapshot.Categories) == 0 {
		return core.Classification{Score: 0, Category: core.CategoryUnknown}
	}

	counts := TokenCounts(text)

	// Log-space class scores: prior plus per-token likelihoods for tokens
	// the model knows about.
	logScores := make([]float64, len(snapshot.Categories))
	for i, class := range snapshot.Categories {
		score := snapshot.ClassPriors[class]
		weights := snapshot.TokenWeights[class]
		for tok, n := range counts {
			idx, ok := snapshot.Vocabulary[tok]
			if !ok || idx >= len(weights) {
				continue
			}
			score += float64(n) * weights[idx]
		}
		logScores[i] = score
	}

	probs := softmax(logScores)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	riskScore := 0.0
	for i, class := range snapshot.Categories {
		weight, ok := riskWeights[class]
		if !ok {
			weight = 0.5
		}
		riskScore += probs[i] * weight
	}

	return core.Classification{
		Score:    clamp01(riskScore),
		Category: snapshot.Categories[best],
	}
}

// softmax converts log-space scores into a probability distribution,
// shifting by the max for numeric stability.
func softmax(logScores []float64) []float64 {
	max := logScores[0]
	for _, s := range logScores[1:] {
		if s > max {
			max = s
		}
	}

	probs := make([]float64, len(logScores))
	var sum float64
	for i, s := range logScores {
		probs[i] = math.Exp(s - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
