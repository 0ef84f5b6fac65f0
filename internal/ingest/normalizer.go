// Package ingest converts raw imported rows into canonical email entities.
package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
	"github.com/emailguardian/email-guardian/internal/utils"
)

// nullValues are placeholder strings treated as absent, matching what the
// upstream export tools emit for empty cells.
var nullValues = map[string]struct{}{
	"-":    {},
	"":     {},
	"null": {},
	"NULL": {},
	"None": {},
	"N/A":  {},
	"n/a":  {},
}

// dateFormats are tried in order when parsing the received timestamp.
var dateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	time.RFC3339,
}

// Normalizer validates raw rows and builds unscored email entities. It has
// no side effects beyond entity construction; persistence belongs to the
// orchestrator.
type Normalizer struct {
	logger      *zap.Logger
	text        *utils.TextProcessor
	maxBodySize int
	now         func() time.Time
}

// NewNormalizer creates a new normalizer.
func NewNormalizer(logger *zap.Logger, text *utils.TextProcessor, maxBodySize int) *Normalizer {
	return &Normalizer{
		logger:      logger,
		text:        text,
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// NormalizeBatch converts a sequence of raw rows into email entities plus an
// ingestion report. Missing required columns reject the whole batch; a
// malformed single row is skipped and counted, never fatal.
func (n *Normalizer) NormalizeBatch(rows []map[string]string) ([]*core.Email, *core.IngestReport, error) {
	if err := n.checkRequiredColumns(rows); err != nil {
		return nil, nil, err
	}

	emails := make([]*core.Email, 0, len(rows))
	report := &core.IngestReport{}

	for i, row := range rows {
		email, vErr := n.normalizeRow(i+1, row)
		if vErr != nil {
			report.Skipped++
			report.SkipReasons = append(report.SkipReasons, vErr.SkipReason())
			n.logger.Debug("Skipped row", zap.Error(vErr))
			continue
		}
		report.Accepted++
		emails = append(emails, email)
	}

	n.logger.Info("Normalized batch",
		zap.Int("total", len(rows)),
		zap.Int("accepted", report.Accepted),
		zap.Int("skipped", report.Skipped))

	return emails, report, nil
}

// checkRequiredColumns rejects a batch that cannot possibly yield valid
// emails: sender, subject and one of body/content must appear somewhere in
// the column set.
func (n *Normalizer) checkRequiredColumns(rows []map[string]string) error {
	if len(rows) == 0 {
		return nil
	}

	seen := map[string]bool{}
	for _, row := range rows {
		for col := range row {
			seen[strings.ToLower(strings.TrimSpace(col))] = true
		}
	}

	var missing []string
	if !seen["sender"] {
		missing = append(missing, "sender")
	}
	if !seen["subject"] {
		missing = append(missing, "subject")
	}
	if !seen["body"] && !seen["content"] {
		missing = append(missing, "body|content")
	}

	if len(missing) > 0 {
		return &core.BatchRejectedError{MissingColumns: missing}
	}
	return nil
}

// normalizeRow builds one email entity, or a validation error when the row
// is malformed. Unknown columns are ignored.
func (n *Normalizer) normalizeRow(rowNum int, row map[string]string) (*core.Email, *core.ValidationError) {
	fields := map[string]string{}
	for col, val := range row {
		fields[strings.ToLower(strings.TrimSpace(col))] = val
	}

	sender := normalizeValue(fields["sender"])
	if sender == "" {
		return nil, &core.ValidationError{Row: rowNum, Field: "sender", Reason: "empty sender"}
	}

	subject := normalizeValue(fields["subject"])
	if subject == "" {
		return nil, &core.ValidationError{Row: rowNum, Field: "subject", Reason: "empty subject"}
	}

	body := normalizeValue(fields["body"])
	if body == "" {
		body = normalizeValue(fields["content"])
	}

	receivedAt := n.now()
	if raw := normalizeValue(fields["date"]); raw != "" {
		if parsed, ok := parseDate(raw); ok {
			receivedAt = parsed
		}
		// Unparsable dates fall back to ingestion time rather than
		// losing the row.
	}

	return &core.Email{
		ID:           uuid.New(),
		Sender:       strings.ToLower(sender),
		Subject:      n.text.SanitizeUTF8(subject),
		Body:         n.text.Clean(body, n.maxBodySize),
		Recipients:   splitMultiValue(normalizeValue(fields["recipients"])),
		Attachments:  splitMultiValue(normalizeValue(fields["attachments"])),
		BusinessUnit: normalizeValue(fields["bunit"]),
		Department:   normalizeValue(fields["department"]),
		ReceivedAt:   receivedAt,
		CreatedAt:    n.now(),
	}, nil
}

// normalizeValue trims a raw cell and maps known null placeholders to the
// empty string.
func normalizeValue(v string) string {
	trimmed := strings.TrimSpace(v)
	if _, ok := nullValues[trimmed]; ok {
		return ""
	}
	return trimmed
}

// splitMultiValue splits a multi-valued cell on the first delimiter found.
func splitMultiValue(v string) []string {
	if v == "" {
		return nil
	}
	for _, delim := range []string{",", ";", "|"} {
		if strings.Contains(v, delim) {
			parts := strings.Split(v, delim)
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return []string{v}
}

// parseDate attempts each known format in order.
func parseDate(raw string) (time.Time, bool) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
