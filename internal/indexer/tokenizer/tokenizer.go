// Package tokenizer turns file content into words for the index. A Lexer
// splits a text stream lazily; the Provider opens files and collects the
// distinct words a Lexer yields for them.
package tokenizer

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"strings"
	"unicode"
)

// DefaultMaxWordLength caps a single unbroken run of text.
const DefaultMaxWordLength = 200

// Lexer splits a readable text source into words. The returned sequence is
// lazy and finite; a read error is yielded once as the final element.
type Lexer interface {
	Tokenize(r io.Reader) iter.Seq2[string, error]
}

// NaiveLexer splits on whitespace and sentence punctuation. Runs longer than
// MaxWordLength runes are cut at the limit and the remainder starts a new
// word, which bounds memory per word regardless of the input.
type NaiveLexer struct {
	MaxWordLength int
}

// NewNaiveLexer returns a NaiveLexer with the given limit, or the default
// when maxWordLength is not positive.
func NewNaiveLexer(maxWordLength int) *NaiveLexer {
	if maxWordLength <= 0 {
		maxWordLength = DefaultMaxWordLength
	}
	return &NaiveLexer{MaxWordLength: maxWordLength}
}

// IsSeparator reports whether r ends a word.
func IsSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ',', ':', '.', '?', '!', ';':
		return true
	}
	return false
}

func (l *NaiveLexer) Tokenize(r io.Reader) iter.Seq2[string, error] {
	limit := l.MaxWordLength
	if limit <= 0 {
		limit = DefaultMaxWordLength
	}
	return func(yield func(string, error) bool) {
		br, ok := r.(io.RuneReader)
		if !ok {
			br = bufio.NewReader(r)
		}
		word := make([]rune, 0, 32)
		for {
			ch, _, err := br.ReadRune()
			if err != nil {
				if len(word) > 0 && !yield(string(word), nil) {
					return
				}
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
			if IsSeparator(ch) {
				if len(word) > 0 {
					if !yield(string(word), nil) {
						return
					}
					word = word[:0]
				}
				continue
			}
			if len(word) == limit {
				if !yield(string(word), nil) {
					return
				}
				word = word[:0]
			}
			word = append(word, ch)
		}
	}
}

// Words drains a Lexer over a string. Intended for queries and tests.
func Words(l Lexer, text string) []string {
	var out []string
	for w, err := range l.Tokenize(strings.NewReader(text)) {
		if err != nil {
			break
		}
		out = append(out, w)
	}
	return out
}

// Distinct is Words with repeats removed, keeping first-seen order.
func Distinct(l Lexer, text string) []string {
	words := Words(l, text)
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
