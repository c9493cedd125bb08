package journal

import (
	"context"
	"errors"
	"fmt"
)

// Sink persists a batch of events. Write either stores the whole batch or
// returns an error; the collector re-queues failed batches.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []Event) error
}

// MultiSink writes every batch to each of its sinks. A batch counts as
// failed when any sink fails, so a sink that succeeded may see it again.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, events); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
