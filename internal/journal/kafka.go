package journal

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/resilience"
)

// Publisher is the subset of *kafka.Producer the sink needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// KafkaSink publishes events keyed by path, so every event for one file
// lands on the same partition in tick order.
type KafkaSink struct {
	publisher Publisher
	breaker   *resilience.CircuitBreaker
}

func NewKafkaSink(publisher Publisher, breaker *resilience.CircuitBreaker) *KafkaSink {
	return &KafkaSink{publisher: publisher, breaker: breaker}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	batch := make([]kafka.Event, len(events))
	for i, ev := range events {
		batch[i] = kafka.Event{Key: ev.Path, Value: ev}
	}
	publish := func() error { return s.publisher.PublishBatch(ctx, batch) }
	if s.breaker == nil {
		return publish()
	}
	return s.breaker.Execute(publish)
}
