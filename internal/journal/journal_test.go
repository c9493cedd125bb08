package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memSink records batches in memory and fails while fail is set.
type memSink struct {
	mu      sync.Mutex
	batches [][]Event
	fail    error
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, append([]Event(nil), events...))
	return nil
}

func (s *memSink) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memSink) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		for _, ev := range b {
			out = append(out, ev.Path)
		}
	}
	return out
}

func events(paths ...string) []Event {
	out := make([]Event, len(paths))
	for i, p := range paths {
		out[i] = Event{Path: p, Action: "add", Status: "ok"}
	}
	return out
}

func TestFromReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := queue.Report{
		Seq:     7,
		Started: started,
		Results: []queue.Result{
			{Path: "/a", Action: queue.ActionAdd, Words: 3, Duration: 2 * time.Millisecond},
			{Path: "/b", Action: queue.ActionNone},
			{Path: "/c", Action: queue.ActionChange, Err: errors.New("access denied")},
			{Path: "/d", Action: queue.ActionDelete},
		},
	}

	got := FromReport(report)
	require.Len(t, got, 3)
	assert.Equal(t, Event{Tick: 7, Action: "add", Path: "/a", Status: "ok", Words: 3, LatencyMs: 2, Timestamp: started}, got[0])
	assert.Equal(t, "retry", got[1].Status)
	assert.Equal(t, "access denied", got[1].Error)
	assert.Equal(t, "delete", got[2].Action)
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	sink := &memSink{}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 2, FlushInterval: time.Hour, BufferLimit: 10}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track(events("/a", "/b")...)
	require.Eventually(t, func() bool { return len(sink.paths()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	bc.Close()
	assert.Equal(t, []string{"/a", "/b"}, sink.paths())
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	sink := &memSink{}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferLimit: 1000}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	defer func() {
		cancel()
		bc.Close()
	}()

	bc.Track(events("/only")...)
	require.Eventually(t, func() bool { return len(sink.paths()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollectorFinalFlushOnShutdown(t *testing.T) {
	sink := &memSink{}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 100, FlushInterval: time.Hour, BufferLimit: 1000}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track(events("/x", "/y", "/z")...)
	cancel()
	bc.Close()
	assert.Equal(t, []string{"/x", "/y", "/z"}, sink.paths())
	assert.Zero(t, bc.BufferLen())
}

func TestFailedBatchIsRequeuedInOrder(t *testing.T) {
	sink := &memSink{fail: errors.New("broker down")}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 2, FlushInterval: time.Hour, BufferLimit: 10}, nil)

	bc.Track(events("/1", "/2", "/3")...)
	bc.Flush(context.Background())
	assert.Equal(t, 3, bc.BufferLen())
	assert.Empty(t, sink.paths())

	sink.setFail(nil)
	bc.Track(events("/4")...)
	bc.Flush(context.Background())
	assert.Equal(t, []string{"/1", "/2", "/3", "/4"}, sink.paths())
	assert.Zero(t, bc.BufferLen())
}

func TestBufferLimitDropsOldest(t *testing.T) {
	sink := &memSink{fail: errors.New("down")}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 2, FlushInterval: time.Hour, BufferLimit: 4}, nil)

	bc.Track(events("/1", "/2", "/3", "/4", "/5", "/6")...)
	assert.Equal(t, 4, bc.BufferLen())

	sink.setFail(nil)
	bc.Close()
	assert.Equal(t, []string{"/3", "/4", "/5", "/6"}, sink.paths())
}

func TestObserveJournalsReport(t *testing.T) {
	sink := &memSink{}
	bc := NewBatchCollector(sink, config.JournalConfig{BatchSize: 10, FlushInterval: time.Hour, BufferLimit: 100}, nil)
	bc.Observe(queue.Report{Seq: 1, Results: []queue.Result{
		{Path: "/a", Action: queue.ActionAdd},
		{Path: "/skip", Action: queue.ActionNone},
	}})
	bc.Close()
	assert.Equal(t, []string{"/a"}, sink.paths())
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	good := &memSink{}
	bad := &memSink{fail: errors.New("disk full")}
	err := MultiSink{good, bad}.Write(context.Background(), events("/a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mem: disk full")
	assert.Equal(t, []string{"/a"}, good.paths())
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
	calls   int
}

func (p *fakePublisher) PublishBatch(_ context.Context, evs []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, evs)
	return nil
}

func TestKafkaSinkKeysByPath(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewKafkaSink(pub, nil)
	require.NoError(t, sink.Write(context.Background(), events("/a", "/b")))

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "/a", pub.batches[0][0].Key)
	assert.Equal(t, "/b", pub.batches[0][1].Key)
	assert.Equal(t, "/a", pub.batches[0][0].Value.(Event).Path)
}

func TestKafkaSinkStopsCallingWhenBreakerOpens(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no brokers")}
	breaker := resilience.NewCircuitBreaker("journal-kafka", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	sink := NewKafkaSink(pub, breaker)

	for i := 0; i < 2; i++ {
		assert.Error(t, sink.Write(context.Background(), events("/a")))
	}
	err := sink.Write(context.Background(), events("/a"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, pub.calls)
}
