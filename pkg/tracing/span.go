// Package tracing times reconciliation work. A tick opens a root span, each
// path it reconciles opens a child, and the tree is written to slog once the
// tick completes.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type spanKey struct{}

// slowest is how many of a root's children Log reports at Info.
const slowest = 3

type Span struct {
	Name    string
	TraceID string
	Start   time.Time

	mu       sync.Mutex
	duration time.Duration
	ended    bool
	attrs    []slog.Attr
	children []*Span
}

// NewTraceID returns a random 8-byte hex id.
func NewTraceID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StartSpan opens a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan opens a span under the one in ctx. Without a parent it is
// a detached root with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{Name: name, Start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, child), child
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// End fixes the span's duration. Later calls are ignored.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.duration = time.Since(s.Start)
}

// Duration is zero until End.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Children returns a copy of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.children)
}

// Log writes the span with a summary of its children at Info, naming the
// slowest few, and every child at Debug.
func (s *Span) Log() {
	s.log(slog.Default(), slog.LevelInfo)
}

func (s *Span) log(logger *slog.Logger, level slog.Level) {
	ctx := context.Background()
	s.mu.Lock()
	attrs := append([]slog.Attr{
		slog.String("trace_id", s.TraceID),
		slog.String("span", s.Name),
		slog.Int64("duration_ms", s.duration.Milliseconds()),
	}, s.attrs...)
	children := slices.Clone(s.children)
	s.mu.Unlock()

	if len(children) > 0 {
		attrs = append(attrs, slog.Int("children", len(children)))
		ranked := slices.Clone(children)
		slices.SortFunc(ranked, func(a, b *Span) int {
			return int(b.Duration() - a.Duration())
		})
		names := make([]string, 0, slowest)
		for _, c := range ranked[:min(slowest, len(ranked))] {
			names = append(names, c.label()+" "+c.Duration().String())
		}
		attrs = append(attrs, slog.Any("slowest", names))
	}
	logger.LogAttrs(ctx, level, "span", attrs...)

	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for _, c := range children {
		c.log(logger, slog.LevelDebug)
	}
}

// label is the span's "path" attribute when set, else its name.
func (s *Span) label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attrs {
		if a.Key == "path" {
			return a.Value.String()
		}
	}
	return s.Name
}
