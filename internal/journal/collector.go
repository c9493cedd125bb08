package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
)

// BatchCollector accumulates events and writes them to a Sink when the
// buffer reaches BatchSize or every FlushInterval, whichever comes first.
// Failed batches go back to the front of the buffer; once the buffer holds
// more than BufferLimit events the oldest are dropped.
type BatchCollector struct {
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	bufferLimit   int
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []Event

	// flushMu serializes writes so batches reach the sink in tick order.
	flushMu sync.Mutex
	kick    chan struct{}
	done    chan struct{}
	started bool
}

func NewBatchCollector(sink Sink, cfg config.JournalConfig, m *metrics.Metrics) *BatchCollector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BufferLimit < cfg.BatchSize {
		cfg.BufferLimit = cfg.BatchSize * 3
	}
	return &BatchCollector{
		sink:          sink,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		bufferLimit:   cfg.BufferLimit,
		metrics:       m,
		logger:        slog.Default().With("component", "journal", "sink", sink.Name()),
		buffer:        make([]Event, 0, cfg.BatchSize),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. Cancelling ctx performs a final flush and
// ends the loop; Close waits for that.
func (bc *BatchCollector) Start(ctx context.Context) {
	bc.started = true
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-bc.kick:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("journal collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
		"buffer_limit", bc.bufferLimit,
	)
}

// Observe is a queue.Observer that journals every result of a tick.
func (bc *BatchCollector) Observe(report queue.Report) {
	bc.Track(FromReport(report)...)
}

// Track buffers events without blocking on the sink.
func (bc *BatchCollector) Track(events ...Event) {
	if len(events) == 0 {
		return
	}
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, events...)
	dropped := bc.trimLocked()
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if dropped > 0 {
		bc.metrics.ObserveJournal("dropped", dropped)
		bc.logger.Warn("journal buffer full, oldest events dropped", "dropped", dropped)
	}
	if full {
		select {
		case bc.kick <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop to finish. Without Start it flushes once
// in the caller.
func (bc *BatchCollector) Close() {
	if !bc.started {
		bc.Flush(context.Background())
		return
	}
	<-bc.done
}

// BufferLen returns the number of events waiting to be written.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush writes everything buffered, one batch at a time, stopping at the
// first failed batch.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()
	for {
		bc.mu.Lock()
		if len(bc.buffer) == 0 {
			bc.mu.Unlock()
			return
		}
		n := min(len(bc.buffer), bc.batchSize)
		batch := make([]Event, n)
		copy(batch, bc.buffer[:n])
		bc.buffer = append(bc.buffer[:0:0], bc.buffer[n:]...)
		bc.mu.Unlock()

		if err := bc.sink.Write(ctx, batch); err != nil {
			bc.metrics.ObserveJournal("failed", len(batch))
			bc.logger.Error("journal flush failed", "batch_size", len(batch), "error", err)
			bc.requeue(batch)
			return
		}
		bc.metrics.ObserveJournal("written", len(batch))
		bc.logger.Debug("journal batch written", "events", len(batch))
	}
}

func (bc *BatchCollector) requeue(batch []Event) {
	bc.mu.Lock()
	bc.buffer = append(batch, bc.buffer...)
	dropped := bc.trimLocked()
	bc.mu.Unlock()
	if dropped > 0 {
		bc.metrics.ObserveJournal("dropped", dropped)
		bc.logger.Warn("journal buffer overflow, events dropped", "dropped", dropped)
	}
}

// trimLocked drops the oldest events beyond bufferLimit.
func (bc *BatchCollector) trimLocked() int {
	over := len(bc.buffer) - bc.bufferLimit
	if over <= 0 {
		return 0
	}
	bc.buffer = append(bc.buffer[:0:0], bc.buffer[over:]...)
	return over
}
