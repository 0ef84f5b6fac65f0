package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// Trainer builds new model snapshots from historical labeled outcomes. A
// snapshot is only produced when the corpus is large enough and the
// vocabulary is non-degenerate; publishing is left to the caller.
type Trainer struct {
	emails     core.EmailStore
	models     core.ModelStore
	logger     *zap.Logger
	minSamples int
	minVocab   int
}

// NewTrainer creates a trainer.
func NewTrainer(emails core.EmailStore, models core.ModelStore, logger *zap.Logger, minSamples, minVocab int) *Trainer {
	return &Trainer{
		emails:     emails,
		models:     models,
		logger:     logger,
		minSamples: minSamples,
		minVocab:   minVocab,
	}
}

// Retrain trains a multinomial naive bayes model on (text, confirmed label)
// pairs from resolved cases and returns a validated, versioned snapshot.
func (t *Trainer) Retrain(ctx context.Context) (*core.ModelSnapshot, error) {
	examples, err := t.emails.ListTrainingExamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load training examples: %w", err)
	}

	valid := make([]core.TrainingExample, 0, len(examples))
	known := map[string]bool{}
	for _, c := range core.Categories {
		known[c] = true
	}
	for _, ex := range examples {
		if known[ex.Label] {
			valid = append(valid, ex)
		}
	}

	if len(valid) < t.minSamples {
		return nil, fmt.Errorf("%w: %d labeled emails, need %d",
			core.ErrInsufficientTrainingData, len(valid), t.minSamples)
	}

	snapshot, err := t.fit(valid)
	if err != nil {
		return nil, err
	}

	snapshot.Version, err = t.nextVersion(ctx)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Trained model snapshot",
		zap.Int64("version", snapshot.Version),
		zap.Int("training_size", snapshot.TrainingSize),
		zap.Int("vocabulary", len(snapshot.Vocabulary)),
		zap.Strings("classes", snapshot.Categories))

	return snapshot, nil
}

// fit computes vocabulary, class priors and per-class token log-likelihoods
// with Laplace smoothing.
func (t *Trainer) fit(examples []core.TrainingExample) (*core.ModelSnapshot, error) {
	vocabulary := map[string]int{}
	classDocs := map[string]int{}
	classTokenCounts := map[string]map[string]int{}

	for _, ex := range examples {
		classDocs[ex.Label]++
		if classTokenCounts[ex.Label] == nil {
			classTokenCounts[ex.Label] = map[string]int{}
		}
		for tok, n := range TokenCounts(ex.Text) {
			if _, ok := vocabulary[tok]; !ok {
				vocabulary[tok] = len(vocabulary)
			}
			classTokenCounts[ex.Label][tok] += n
		}
	}

	if len(vocabulary) < t.minVocab {
		return nil, fmt.Errorf("%w: %d distinct tokens, need %d",
			core.ErrDegenerateVocabulary, len(vocabulary), t.minVocab)
	}

	// Classes in canonical order, restricted to those seen in training.
	classes := make([]string, 0, len(classDocs))
	for _, c := range core.Categories {
		if classDocs[c] > 0 {
			classes = append(classes, c)
		}
	}

	vocabSize := len(vocabulary)
	priors := make(map[string]float64, len(classes))
	weights := make(map[string][]float64, len(classes))

	for _, class := range classes {
		priors[class] = math.Log(float64(classDocs[class]) / float64(len(examples)))

		total := 0
		for _, n := range classTokenCounts[class] {
			total += n
		}

		w := make([]float64, vocabSize)
		denom := math.Log(float64(total + vocabSize))
		for tok, idx := range vocabulary {
			count := classTokenCounts[class][tok]
			w[idx] = math.Log(float64(count+1)) - denom
		}
		weights[class] = w
	}

	return &core.ModelSnapshot{
		ID:           uuid.New(),
		TrainedAt:    time.Now().UTC(),
		TrainingSize: len(examples),
		Categories:   classes,
		Vocabulary:   vocabulary,
		ClassPriors:  priors,
		TokenWeights: weights,
	}, nil
}

func (t *Trainer) nextVersion(ctx context.Context) (int64, error) {
	latest, err := t.models.LatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNoSnapshot) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	return latest.Version + 1, nil
}
