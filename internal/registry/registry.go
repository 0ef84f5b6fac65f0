// Package registry tracks flagged senders and their active status.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

// Registry is the sender reputation surface: written by administrative
// action, read by the classifier and rule engine on every evaluation.
type Registry struct {
	store  core.SenderStore
	logger *zap.Logger
}

// NewRegistry creates a sender registry backed by the given store.
func NewRegistry(store core.SenderStore, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

// Flag marks a sender as flagged. Idempotent: re-flagging an active sender
// updates the reason, actor and timestamp rather than duplicating.
func (r *Registry) Flag(ctx context.Context, sender, reason, actor string) error {
	record := &core.FlaggedSender{
		Sender:    canonical(sender),
		Reason:    reason,
		FlaggedAt: time.Now().UTC(),
		FlaggedBy: actor,
		Active:    true,
	}
	if err := r.store.UpsertFlaggedSender(ctx, record); err != nil {
		return fmt.Errorf("failed to flag sender: %w", err)
	}

	r.logger.Info("Flagged sender",
		zap.String("sender", record.Sender),
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}

// Unflag deactivates a sender's record, preserving its history. Unflagging
// a sender with no active record is a no-op, not an error.
func (r *Registry) Unflag(ctx context.Context, sender, actor string) error {
	deactivated, err := r.store.DeactivateFlaggedSender(ctx, canonical(sender))
	if err != nil {
		return fmt.Errorf("failed to unflag sender: %w", err)
	}
	if !deactivated {
		r.logger.Debug("Unflag was a no-op", zap.String("sender", canonical(sender)))
		return nil
	}

	r.logger.Info("Unflagged sender",
		zap.String("sender", canonical(sender)),
		zap.String("actor", actor))
	return nil
}

// IsActive reports whether the sender currently has an active flag. Read
// path used during classification; never mutates state.
func (r *Registry) IsActive(ctx context.Context, sender string) bool {
	record, err := r.store.GetFlaggedSender(ctx, canonical(sender))
	if err != nil {
		r.logger.Error("Failed to read flagged sender", zap.Error(err),
			zap.String("sender", canonical(sender)))
		return false
	}
	return record != nil && record.Active
}

// List returns every sender record, active or not.
func (r *Registry) List(ctx context.Context) ([]*core.FlaggedSender, error) {
	return r.store.ListFlaggedSenders(ctx)
}

func canonical(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
