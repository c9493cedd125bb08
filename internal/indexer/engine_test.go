package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor   = 5 * time.Second
	pollEvery = 20 * time.Millisecond
)

// manualConfig returns a config whose timer never fires during a test, so
// ticks are driven explicitly.
func manualConfig() config.Config {
	cfg := config.Default()
	cfg.Watch.TickInterval = time.Hour
	cfg.Watch.Exclude = nil
	return *cfg
}

func startEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// tickUntil drives ticks until cond holds.
func tickUntil(t *testing.T, e *Engine, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.Tick(context.Background())
		return cond()
	}, waitFor, pollEvery)
}

func equalPaths(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEndToEndAddChangeDelete(t *testing.T) {
	dir := t.TempDir()
	e := startEngine(t, manualConfig())
	require.NoError(t, e.Add(dir))

	f := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(f, []byte("a b"), 0o644))
	tickUntil(t, e, func() bool {
		return equalPaths(e.Lookup("a"), f) && equalPaths(e.Lookup("b"), f)
	})

	fh, err := os.OpenFile(f, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(" c")
	require.NoError(t, err)
	require.NoError(t, fh.Close())
	tickUntil(t, e, func() bool { return equalPaths(e.Lookup("c"), f) })
	assert.Equal(t, []string{f}, e.Lookup("a"))

	require.NoError(t, os.Remove(f))
	tickUntil(t, e, func() bool {
		return len(e.Lookup("a")) == 0 && len(e.Lookup("c")) == 0
	})
	require.NoError(t, e.Verify())
}

func TestExistingFilesAreIndexedOnFirstTick(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "seed.txt")
	require.NoError(t, os.WriteFile(f, []byte("seeded content"), 0o644))

	cfg := manualConfig()
	cfg.Watch.Roots = []string{dir}
	e := startEngine(t, cfg)

	rep := e.Tick(context.Background())
	require.Len(t, rep.Results, 1)
	assert.Equal(t, queue.ActionAdd, rep.Results[0].Action)
	assert.Equal(t, []string{f}, e.Lookup("seeded"))
	assert.Equal(t, uint64(1), e.Generation())
}

func TestRenameEndToEnd(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	g := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(f, []byte("old words"), 0o644))

	e := startEngine(t, manualConfig())
	require.NoError(t, e.Add(dir))
	e.Tick(context.Background())
	require.Equal(t, []string{f}, e.Lookup("old"))

	require.NoError(t, os.Rename(f, g))
	tickUntil(t, e, func() bool {
		return equalPaths(e.Lookup("old", "words"), g, g)
	})
	require.NoError(t, e.Verify())
}

func TestSingleFileRootRenameKeepsTracking(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "draft.txt")
	g := filepath.Join(dir, "final.txt")
	require.NoError(t, os.WriteFile(f, []byte("first"), 0o644))

	e := startEngine(t, manualConfig())
	require.NoError(t, e.Add(f))
	e.Tick(context.Background())
	require.Equal(t, []string{f}, e.Lookup("first"))

	require.NoError(t, os.Rename(f, g))
	tickUntil(t, e, func() bool { return equalPaths(e.Lookup("first"), g) })
	assert.Equal(t, []string{g}, e.Roots())

	require.NoError(t, os.WriteFile(g, []byte("second"), 0o644))
	tickUntil(t, e, func() bool { return equalPaths(e.Lookup("second"), g) })
}

func TestSingleFileRootRetiredAfterDelete(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "solo.txt")
	require.NoError(t, os.WriteFile(f, []byte("solo"), 0o644))

	e := startEngine(t, manualConfig())
	require.NoError(t, e.Add(f))
	e.Tick(context.Background())

	require.NoError(t, os.Remove(f))
	tickUntil(t, e, func() bool { return len(e.Roots()) == 0 })
	assert.Empty(t, e.Lookup("solo"))
	assert.Zero(t, e.Stats().Subscriptions)
}

func TestRemoveDoesNotTouchIndex(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(f, []byte("kept"), 0o644))

	e := startEngine(t, manualConfig())
	require.NoError(t, e.Add(dir))
	e.Tick(context.Background())

	assert.True(t, e.Remove(dir))
	assert.False(t, e.Remove(dir))
	e.Tick(context.Background())
	assert.Equal(t, []string{f}, e.Lookup("kept"))
	assert.Empty(t, e.Roots())
}

func TestAddMissingRootFailsSynchronously(t *testing.T) {
	e := startEngine(t, manualConfig())
	err := e.Add(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, apperrors.ErrRootNotFound)
}

func TestStartReportsBadConfiguredRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := manualConfig()
	cfg.Watch.Roots = []string{filepath.Join(dir, "missing"), dir}

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	err = e.Start(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRootNotFound)
	assert.Equal(t, []string{dir}, e.Roots())
	require.NoError(t, e.Stop())
}

func TestTimerDrivesTicks(t *testing.T) {
	dir := t.TempDir()
	cfg := manualConfig()
	cfg.Watch.TickInterval = 20 * time.Millisecond
	cfg.Watch.Roots = []string{dir}

	var reports int
	reportsCh := make(chan struct{}, 16)
	e := startEngine(t, cfg, WithObserver(func(queue.Report) {
		select {
		case reportsCh <- struct{}{}:
		default:
		}
	}))

	f := filepath.Join(dir, "auto.txt")
	require.NoError(t, os.WriteFile(f, []byte("automatic"), 0o644))
	require.Eventually(t, func() bool { return equalPaths(e.Lookup("automatic"), f) }, waitFor, pollEvery)

	for len(reportsCh) > 0 {
		<-reportsCh
		reports++
	}
	assert.Positive(t, reports)
}

func TestQueryNormalizesWithIndexLexer(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(f, []byte("Running dogs"), 0o644))

	cfg := manualConfig()
	cfg.Tokenizer.Lexer = config.LexerAnalyzing
	cfg.Tokenizer.Stem = true
	cfg.Tokenizer.StopWords = true
	cfg.Watch.Roots = []string{dir}
	e := startEngine(t, cfg)
	e.Tick(context.Background())

	words, paths := e.Query("the RUNNING dog, runs")
	assert.Equal(t, []string{"run", "dog"}, words)
	assert.Equal(t, []string{f, f}, paths)
}

func TestStopIsIdempotentAndOrdered(t *testing.T) {
	dir := t.TempDir()
	cfg := manualConfig()
	cfg.Watch.Roots = []string{dir}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Zero(t, e.Stats().Subscriptions)
	assert.Error(t, e.Start(context.Background()))
}

func TestStatsReflectIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y z"), 0o644))

	cfg := manualConfig()
	cfg.Watch.Roots = []string{dir}
	e := startEngine(t, cfg)
	before := e.Stats()
	assert.Equal(t, 2, before.Pending)

	e.Tick(context.Background())
	st := e.Stats()
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 3, st.Words)
	assert.Equal(t, 1, st.Roots)
	assert.Equal(t, 1, st.Subscriptions)
	assert.Zero(t, st.Pending)
	assert.Equal(t, uint64(1), st.Generation)
}
