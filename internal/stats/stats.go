// Package stats answers the aggregate questions a dashboard asks about a run.
package stats

import (
	"time"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// QueueView reports pending work and how many items the queue discarded.
type QueueView interface {
	Size() int
	Dropped() int
}

// Snapshot is one read of the run's aggregates.
type Snapshot struct {
	Pending        int           `json:"pending"`
	Dropped        int           `json:"dropped"`
	Processed      int           `json:"processed"`
	Throttled      int           `json:"throttled"`
	Gone           int           `json:"gone"`
	Failed         int           `json:"failed"`
	Succeeded      int           `json:"succeeded"`
	AverageLatency time.Duration `json:"-"`
}

// AverageLatencyMS reports AverageLatency in milliseconds.
func (s Snapshot) AverageLatencyMS() float64 {
	return float64(s.AverageLatency) / float64(time.Millisecond)
}

// Stats is a read-only view over the queue and the ledger. Nothing is cached;
// every call reads current state.
type Stats struct {
	queue  QueueView
	ledger crawler.Ledger
}

// New creates a Stats facade.
func New(queue QueueView, ledger crawler.Ledger) *Stats {
	return &Stats{queue: queue, ledger: ledger}
}

// Pending is the current queue size.
func (s *Stats) Pending() int {
	return s.queue.Size()
}

// Dropped counts items discarded by the drop overflow policy.
func (s *Stats) Dropped() int {
	return s.queue.Dropped()
}

// Processed is the number of recorded attempts.
func (s *Stats) Processed() int {
	return s.ledger.Count()
}

// Throttled counts attempts answered with 429.
func (s *Stats) Throttled() int {
	return s.ledger.CountWhere(func(a crawler.Attempt) bool {
		return a.Outcome == crawler.OutcomeRateLimited
	})
}

// AverageLatency is the mean elapsed time over all attempts, zero when none.
func (s *Stats) AverageLatency() time.Duration {
	return s.ledger.AverageElapsed()
}

// Snapshot reads the ledger aggregates under a single ledger read. Pending and
// Dropped are read separately and may be a moment newer.
func (s *Stats) Snapshot() Snapshot {
	summary := s.ledger.Summary()
	return Snapshot{
		Pending:        s.queue.Size(),
		Dropped:        s.queue.Dropped(),
		Processed:      summary.Count,
		Throttled:      summary.ByOutcome[crawler.OutcomeRateLimited],
		Gone:           summary.ByOutcome[crawler.OutcomeGone],
		Failed:         summary.ByOutcome[crawler.OutcomeOtherFailure],
		Succeeded:      summary.ByOutcome[crawler.OutcomeSuccess],
		AverageLatency: summary.AverageElapsed,
	}
}
