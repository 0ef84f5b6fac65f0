package classifier

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// SnapshotProvider holds the currently published model snapshot. Publishing
// is a single pointer swap: in-flight classification calls keep the snapshot
// they loaded and never observe a torn mix of old and new weights.
type SnapshotProvider struct {
	current atomic.Pointer[core.ModelSnapshot]
	logger  *zap.Logger
}

// NewSnapshotProvider creates a provider with no snapshot published.
func NewSnapshotProvider(logger *zap.Logger) *SnapshotProvider {
	return &SnapshotProvider{logger: logger}
}

// Current returns the published snapshot, or nil when none exists. Safe for
// concurrent callers.
func (p *SnapshotProvider) Current() *core.ModelSnapshot {
	return p.current.Load()
}

// Publish atomically replaces the published snapshot.
func (p *SnapshotProvider) Publish(s *core.ModelSnapshot) {
	p.current.Store(s)
	p.logger.Info("Published model snapshot",
		zap.Int64("version", s.Version),
		zap.Int("training_size", s.TrainingSize),
		zap.Int("vocabulary", len(s.Vocabulary)))
}

// LoadLatest publishes the most recent persisted snapshot, if any. A missing
// snapshot is not an error; the classifier degrades to its heuristic
// fallback until one is trained.
func (p *SnapshotProvider) LoadLatest(ctx context.Context, store core.ModelStore) error {
	snap, err := store.LatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, core.ErrNoSnapshot) {
			p.logger.Info("No persisted model snapshot, starting without one")
			return nil
		}
		return err
	}
	p.Publish(snap)
	return nil
}
