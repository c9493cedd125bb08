// Package indexer wires the watch registrar, the change queue and the index
// store into one engine that a host can start, feed roots and query.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/watch"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/tracing"
)

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records engine metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver registers fn to receive every non-empty tick report.
func WithObserver(fn queue.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

type Engine struct {
	cfg       config.Config
	store     *index.Store
	provider  *tokenizer.Provider
	queue     *queue.Queue
	registrar *watch.Registrar
	metrics   *metrics.Metrics
	observers []queue.Observer
	logger    *slog.Logger

	// generation advances after every tick that mutated the store.
	generation atomic.Uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  bool
}

func NewEngine(cfg config.Config, opts ...Option) (*Engine, error) {
	lexer, err := tokenizer.FromConfig(cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("building lexer: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		store:    index.NewStore(cfg.Index.Shards),
		provider: tokenizer.NewProvider(lexer),
		logger:   slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	qopts := []queue.Option{
		queue.WithWorkers(cfg.Watch.Workers),
		queue.WithMetrics(e.metrics),
		queue.WithRetireHook(e.retire),
		queue.WithObserver(e.afterTick),
	}
	for _, obs := range e.observers {
		qopts = append(qopts, queue.WithObserver(obs))
	}
	e.queue = queue.New(e.store, e.provider, qopts...)

	e.registrar, err = watch.New(e.queue, watch.Options{
		Exclude:        cfg.Watch.Exclude,
		FollowSymlinks: cfg.Watch.FollowSymlinks,
		Metrics:        e.metrics,
		OnOverflow:     e.requeueIndexed,
	})
	if err != nil {
		return nil, fmt.Errorf("creating watch registrar: %w", err)
	}
	return e, nil
}

// Start delivers watch events, registers the configured roots and starts
// the tick loop. Roots that fail to register are reported together; the
// engine keeps running for the others.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil || e.stopped {
		return fmt.Errorf("engine already started")
	}

	e.registrar.Start()
	var firstErr error
	for _, root := range e.cfg.Watch.Roots {
		if err := e.registrar.Add(root); err != nil {
			e.logger.Error("failed to register root", "path", root, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	go e.tickLoop(loopCtx)

	e.logger.Info("engine started",
		"roots", len(e.registrar.Roots()),
		"tick_interval", e.cfg.Watch.TickInterval,
		"workers", e.cfg.Watch.Workers,
	)
	return firstErr
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer close(e.loopDone)
	ticker := time.NewTicker(e.cfg.Watch.TickInterval)
	defer ticker.Stop()
	// A tick that has begun must finish even if Stop cancels ctx.
	tickCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(tickCtx)
		}
	}
}

// Stop stops the tick timer, retires every watch, then waits for a tick
// already in flight to complete.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true

	if e.cancel != nil {
		e.cancel()
	}
	err := e.registrar.Close()
	if e.loopDone != nil {
		<-e.loopDone
	}
	e.logger.Info("engine stopped", "pending", e.queue.Pending())
	return err
}

// Tick runs one reconciliation pass immediately.
func (e *Engine) Tick(ctx context.Context) queue.Report {
	ctx, span := tracing.StartSpan(ctx, "reconcile.tick", tracing.NewTraceID())
	report := e.queue.Tick(ctx)
	span.End()
	if len(report.Results) == 0 {
		return report
	}
	span.SetAttr("seq", report.Seq)
	span.SetAttr("paths", len(report.Results))
	span.SetAttr("failed", report.Failed())
	if e.cfg.Tracing.Enabled {
		span.Log()
	}
	return report
}

func (e *Engine) afterTick(report queue.Report) {
	if report.Mutated() {
		e.generation.Add(1)
	}
	st := e.store.Stats()
	e.metrics.SetIndexSize(st.Files, st.Words)
}

func (e *Engine) retire(path string) {
	e.registrar.RetireFile(path)
}

// requeueIndexed marks every indexed path as reported, so deletions lost in
// an event overflow are still noticed.
func (e *Engine) requeueIndexed() {
	paths := e.store.Paths()
	for _, p := range paths {
		e.queue.Enqueue(p, true)
	}
	e.logger.Warn("re-queued indexed paths after overflow", "paths", len(paths))
}

// Add registers a file or directory root. Failures are reported once and
// the root is not retried.
func (e *Engine) Add(path string) error {
	return e.registrar.Add(path)
}

// Remove retires a root's watches. Its files leave the index only once a
// tick observes them missing.
func (e *Engine) Remove(path string) bool {
	return e.registrar.Remove(path)
}

// Roots lists the registered roots.
func (e *Engine) Roots() []string {
	return e.registrar.Roots()
}

// Lookup returns, per word in order, every path containing it. Paths that
// match several words appear once per word.
func (e *Engine) Lookup(words ...string) []string {
	return e.store.Lookup(words...)
}

// Normalize splits a raw query with the indexing lexer, dropping repeated
// words.
func (e *Engine) Normalize(raw string) []string {
	return tokenizer.Distinct(e.provider.Lexer(), raw)
}

// Lexer is the lexer files are indexed with.
func (e *Engine) Lexer() tokenizer.Lexer {
	return e.provider.Lexer()
}

// Query normalizes raw and looks the resulting words up.
func (e *Engine) Query(raw string) (words []string, paths []string) {
	words = e.Normalize(raw)
	return words, e.store.Lookup(words...)
}

// Generation identifies the current index contents; it changes whenever a
// tick mutates the store.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Stats is a point-in-time engine summary.
type Stats struct {
	Files         int    `json:"files"`
	Words         int    `json:"words"`
	Roots         int    `json:"roots"`
	Subscriptions int    `json:"subscriptions"`
	Pending       int    `json:"pending"`
	Generation    uint64 `json:"generation"`
}

func (e *Engine) Stats() Stats {
	st := e.store.Stats()
	return Stats{
		Files:         st.Files,
		Words:         st.Words,
		Roots:         len(e.registrar.Roots()),
		Subscriptions: e.registrar.Subscriptions(),
		Pending:       e.queue.Pending(),
		Generation:    e.Generation(),
	}
}

// Verify checks that the forward and inverted maps agree.
func (e *Engine) Verify() error {
	return e.store.Verify()
}
