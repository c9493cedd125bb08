package tokenizer

import (
	"io"
	"iter"
	"strings"

	"github.com/surgebase/porter2"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// AnalyzingLexer normalizes the words of an inner Lexer: lower-casing,
// optional stop-word removal and optional porter2 stemming.
type AnalyzingLexer struct {
	inner     Lexer
	stem      bool
	stopWords bool
}

// NewAnalyzingLexer wraps inner.
func NewAnalyzingLexer(inner Lexer, stem, dropStopWords bool) *AnalyzingLexer {
	return &AnalyzingLexer{inner: inner, stem: stem, stopWords: dropStopWords}
}

func (a *AnalyzingLexer) Tokenize(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for word, err := range a.inner.Tokenize(r) {
			if err != nil {
				yield("", err)
				return
			}
			norm, ok := a.normalize(word)
			if !ok {
				continue
			}
			if !yield(norm, nil) {
				return
			}
		}
	}
}

func (a *AnalyzingLexer) normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if a.stopWords {
		if _, isStop := stopWords[word]; isStop {
			return "", false
		}
	}
	if a.stem {
		word = porter2.Stem(word)
	}
	return word, word != ""
}
