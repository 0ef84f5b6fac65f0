package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// stopwords are dropped during tokenization. The list covers the most
// frequent English function words seen in subject lines.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

var folder = cases.Fold()

// Tokenize splits free text into lower-cased alphanumeric tokens, dropping
// stopwords and single-character tokens. Deterministic: the same text
// always yields the same token sequence.
func Tokenize(text string) []string {
	folded := folder.String(text)

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// TokenCounts returns token frequencies for a text.
func TokenCounts(text string) map[string]int {
	counts := map[string]int{}
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	return counts
}
