package tokenizer

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
)

// ctxCheckEvery is how many words are read between cancellation checks.
const ctxCheckEvery = 1024

// Provider maps a file path to the distinct words currently in it.
type Provider struct {
	lexer Lexer
}

// NewProvider returns a Provider backed by lexer.
func NewProvider(lexer Lexer) *Provider {
	return &Provider{lexer: lexer}
}

// FromConfig builds the Lexer selected by cfg.
func FromConfig(cfg config.TokenizerConfig) (Lexer, error) {
	naive := NewNaiveLexer(cfg.MaxWordLength)
	switch cfg.Lexer {
	case "", config.LexerNaive:
		return naive, nil
	case config.LexerAnalyzing:
		return NewAnalyzingLexer(naive, cfg.Stem, cfg.StopWords), nil
	default:
		return nil, fmt.Errorf("unknown lexer %q", cfg.Lexer)
	}
}

// Lexer returns the lexer used for files, so queries can be normalized the
// same way.
func (p *Provider) Lexer() Lexer {
	return p.lexer
}

// Provide reads path and returns its distinct words in first-seen order.
// Open and read failures are returned wrapped; callers treat them as
// transient.
func (p *Provider) Provide(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	words := make([]string, 0, 64)
	n := 0
	for word, err := range p.lexer.Tokenize(bufio.NewReader(f)) {
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("tokenizing %s: %w", path, err)
			}
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		words = append(words, word)
	}
	return words, nil
}
