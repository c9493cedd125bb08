// Package parser turns a raw lookup string into the words the index is
// queried with.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
)

// MaxWords caps how many distinct words one lookup may carry.
const MaxWords = 64

type Plan struct {
	Raw   string
	Words []string
}

// Empty reports whether the query produced no words.
func (p *Plan) Empty() bool {
	return len(p.Words) == 0
}

// Parse splits raw with lexer, the same lexer files were indexed with, so
// query words and indexed words match. Repeated words are dropped.
func Parse(lexer tokenizer.Lexer, raw string) (*Plan, error) {
	plan := &Plan{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return plan, nil
	}
	plan.Words = tokenizer.Distinct(lexer, raw)
	if len(plan.Words) > MaxWords {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "query has %d words, limit is %d", len(plan.Words), MaxWords)
	}
	return plan, nil
}
