// Package queue coalesces filesystem signals per path and reconciles them
// against the index once per tick.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/tracing"
)

// DefaultWorkers bounds per-tick parallelism when none is configured.
const DefaultWorkers = 8

// Store is the subset of the index the queue mutates.
type Store interface {
	Add(words []string, path string)
	Change(words []string, path string)
	Delete(path string) bool
	Has(path string) bool
	PathsUnder(dir string) []string
}

// TokenProvider returns the distinct words of a file.
type TokenProvider interface {
	Provide(ctx context.Context, path string) ([]string, error)
}

// Observer receives the report of every non-empty tick.
type Observer func(Report)

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers bounds how many paths a tick processes at once.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithObserver registers fn to be called after each non-empty tick.
func WithObserver(fn Observer) Option {
	return func(q *Queue) { q.observers = append(q.observers, fn) }
}

// WithRetireHook registers fn to be called with each path the tick
// deleted.
func WithRetireHook(fn func(path string)) Option {
	return func(q *Queue) { q.retire = fn }
}

// WithMetrics records tick and action metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithStat replaces os.Stat, mainly for tests.
func WithStat(fn func(string) (fs.FileInfo, error)) Option {
	return func(q *Queue) { q.stat = fn }
}

// Queue is the pending-change table plus the tick that drains it.
type Queue struct {
	store    Store
	provider TokenProvider

	mu      sync.Mutex
	pending map[string]bool

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex
	seq    atomic.Uint64

	workers   int
	stat      func(string) (fs.FileInfo, error)
	retire    func(string)
	observers []Observer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an empty Queue.
func New(store Store, provider TokenProvider, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		provider: provider,
		pending:  make(map[string]bool),
		workers:  DefaultWorkers,
		stat:     os.Stat,
		logger:   slog.Default().With("component", "queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records a signal for path. The stored flag is the logical AND of
// the existing and incoming flags, so a path first seen with reported=false
// is added before it is ever changed.
func (q *Queue) Enqueue(path string, reported bool) {
	q.mu.Lock()
	if prev, ok := q.pending[path]; ok {
		reported = prev && reported
	}
	q.pending[path] = reported
	q.mu.Unlock()
}

// Pending returns the number of paths awaiting the next tick.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot copies the pending table.
func (q *Queue) Snapshot() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]bool, len(q.pending))
	for p, r := range q.pending {
		out[p] = r
	}
	return out
}

func (q *Queue) swap() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	captured := q.pending
	q.pending = make(map[string]bool, len(captured))
	return captured
}

// Tick swaps out the pending table, classifies every captured path and
// applies the resulting actions with bounded parallelism. It returns once
// every dispatched action has finished or been re-enqueued. Failures never
// escape Tick.
func (q *Queue) Tick(ctx context.Context) Report {
	q.tickMu.Lock()
	defer q.tickMu.Unlock()

	start := time.Now()
	captured := q.swap()
	report := Report{Started: start}
	if len(captured) == 0 {
		q.metrics.ObserveTick(time.Since(start), q.Pending())
		return report
	}
	report.Seq = q.seq.Add(1)

	results := make([]Result, 0, len(captured))
	var resultsMu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(q.workers)
	for path, reported := range captured {
		g.Go(func() error {
			res := q.apply(ctx, path, reported)
			if res.Err != nil {
				q.Enqueue(path, reported)
			}
			resultsMu.Lock()
			results = append(results, res)
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.Duration = time.Since(start)
	q.metrics.ObserveTick(report.Duration, q.Pending())

	failed := report.Failed()
	level := slog.LevelDebug
	if failed > 0 {
		level = slog.LevelInfo
	}
	counts := report.Counts()
	q.logger.Log(ctx, level, "tick complete",
		"seq", report.Seq,
		"paths", len(captured),
		"added", counts[ActionAdd],
		"changed", counts[ActionChange],
		"deleted", counts[ActionDelete],
		"failed", failed,
		"duration", report.Duration,
	)

	for _, obs := range q.observers {
		obs(report)
	}
	return report
}

func (q *Queue) apply(ctx context.Context, path string, reported bool) Result {
	ctx, span := tracing.StartChildSpan(ctx, "reconcile.path")
	defer span.End()
	span.SetAttr("path", path)

	start := time.Now()
	res := Result{Path: path, Reported: reported}
	defer func() { span.SetAttr("action", res.Action.String()) }()

	info, err := q.stat(path)
	exists := err == nil
	if err != nil && !missing(err) {
		res.Action = Classify(reported, true)
		res.Err = fmt.Errorf("stat %s: %w", path, err)
		return q.finish(res, start)
	}
	res.Action = Classify(reported, exists)
	if exists && info.IsDir() {
		// Directories are tracked by the registrar, never indexed.
		res.Action = ActionNone
		return q.finish(res, start)
	}

	switch res.Action {
	case ActionAdd, ActionChange:
		words, err := q.provider.Provide(ctx, path)
		if err != nil {
			res.Err = err
			break
		}
		if res.Action == ActionAdd {
			q.store.Add(words, path)
		} else {
			q.store.Change(words, path)
		}
		res.Words = len(words)
	case ActionDelete:
		if !q.store.Delete(path) {
			q.fanOut(path)
		}
		if q.retire != nil {
			q.retire(path)
		}
	}
	return q.finish(res, start)
}

// missing reports whether a stat error means the path is gone. A path whose
// parent was replaced by a regular file fails with ENOTDIR, which fs does
// not count as ErrNotExist.
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// fanOut handles a deleted path that was never indexed itself: if it was a
// directory, every indexed file below it is queued for deletion next tick.
func (q *Queue) fanOut(dir string) {
	children := q.store.PathsUnder(dir)
	if len(children) == 0 {
		return
	}
	for _, p := range children {
		q.Enqueue(p, true)
	}
	q.logger.Debug("directory vanished, queued contents",
		"dir", dir,
		"paths", len(children),
	)
}

func (q *Queue) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	q.metrics.ObserveAction(res.Action.String(), res.Status())
	if res.Err != nil {
		q.logger.Warn("action failed, path re-queued",
			"path", res.Path,
			"action", res.Action.String(),
			"reported", res.Reported,
			"error", res.Err,
		)
		return res
	}
	if res.Action != ActionNone {
		q.logger.Debug("action applied",
			"path", res.Path,
			"action", res.Action.String(),
			"words", res.Words,
			"duration", res.Duration,
		)
	}
	return res
}
