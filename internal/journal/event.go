// Package journal records what each reconciliation tick did to the index.
// Events are batched and shipped to Kafka, Postgres, or both. The journal is
// an audit trail; the index is rebuilt from the filesystem on restart, not
// from it.
package journal

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/queue"
)

// Event is one path's outcome within a tick.
type Event struct {
	Tick      uint64    `json:"tick"`
	Action    string    `json:"action"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Words     int       `json:"words"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// FromReport converts every result in report into an Event. Skipped paths
// are left out.
func FromReport(report queue.Report) []Event {
	events := make([]Event, 0, len(report.Results))
	ts := report.Started.UTC()
	for _, res := range report.Results {
		if res.Status() == "skip" {
			continue
		}
		ev := Event{
			Tick:      report.Seq,
			Action:    res.Action.String(),
			Path:      res.Path,
			Status:    res.Status(),
			Words:     res.Words,
			LatencyMs: res.Duration.Milliseconds(),
			Timestamp: ts,
		}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		events = append(events, ev)
	}
	return events
}
