// Package stats exposes the read-only aggregation consumed by dashboards
// and reports. It owns no rendering.
package stats

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

const topSenderLimit = 10

// Service aggregates email and case state into dashboard statistics.
type Service struct {
	store  core.Store
	logger *zap.Logger
}

// NewService creates a statistics service.
func NewService(store core.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Dashboard computes counts by case status, category, risk bucket and day,
// narrowed by the filter.
func (s *Service) Dashboard(ctx context.Context, filter core.StatsFilter) (*core.DashboardStats, error) {
	emails, err := s.store.ListEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	caseList, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	stats := &core.DashboardStats{
		CasesByStatus:    map[core.CaseStatus]int{},
		EmailsByCategory: map[string]int{},
		EmailsByBucket:   map[string]int{},
		EmailsByDay:      map[string]int{},
	}

	flaggedBySender := map[string]int{}

	for _, email := range emails {
		if !matchesEmail(email, filter) {
			continue
		}
		stats.TotalEmails++
		if email.IsFlagged {
			stats.FlaggedEmails++
			flaggedBySender[email.Sender]++
		}
		if email.Category != nil {
			stats.EmailsByCategory[*email.Category]++
		}
		if email.RiskScore != nil {
			stats.EmailsByBucket[core.RiskBucket(*email.RiskScore)]++
		}
		stats.EmailsByDay[email.ReceivedAt.Format("2006-01-02")]++
	}

	for _, c := range caseList {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && c.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && c.CreatedAt.After(filter.To) {
			continue
		}
		stats.TotalCases++
		stats.CasesByStatus[c.Status]++
	}

	stats.TopFlaggedSenders = topSenders(flaggedBySender, topSenderLimit)

	s.logger.Debug("Computed dashboard statistics",
		zap.Int("emails", stats.TotalEmails),
		zap.Int("cases", stats.TotalCases))

	return stats, nil
}

func matchesEmail(email *core.Email, filter core.StatsFilter) bool {
	if !filter.From.IsZero() && email.ReceivedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && email.ReceivedAt.After(filter.To) {
		return false
	}
	if filter.Category != "" {
		if email.Category == nil || *email.Category != filter.Category {
			return false
		}
	}
	return true
}

func topSenders(counts map[string]int, limit int) []core.SenderCount {
	out := make([]core.SenderCount, 0, len(counts))
	for sender, count := range counts {
		out = append(out, core.SenderCount{Sender: sender, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sender < out[j].Sender
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
