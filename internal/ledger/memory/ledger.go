// Package memory provides the in-process, append-only result ledger.
package memory

import (
	"sync"
	"time"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// Ledger records one entry per executed attempt for the lifetime of a run.
// Entries are never modified or removed once appended.
type Ledger struct {
	mu        sync.RWMutex
	attempts  []crawler.Attempt
	byOutcome map[crawler.Outcome]int
	total     time.Duration
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byOutcome: make(map[crawler.Outcome]int),
	}
}

// Append stores a copy of attempt.
func (l *Ledger) Append(attempt crawler.Attempt) {
	if attempt.Payload != nil {
		attempt.Payload = append([]byte(nil), attempt.Payload...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	l.byOutcome[attempt.Outcome]++
	l.total += attempt.Elapsed
}

// Count returns the number of recorded attempts.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.attempts)
}

// CountWhere returns how many attempts satisfy pred. pred runs under the read
// lock and must not call back into the ledger.
func (l *Ledger) CountWhere(pred func(crawler.Attempt) bool) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, a := range l.attempts {
		if pred(a) {
			n++
		}
	}
	return n
}

// CountOutcome returns how many attempts ended with outcome.
func (l *Ledger) CountOutcome(outcome crawler.Outcome) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byOutcome[outcome]
}

// AverageElapsed returns the mean attempt duration, truncated toward zero to
// the nanosecond. An empty ledger averages to zero.
func (l *Ledger) AverageElapsed() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return average(l.total, len(l.attempts))
}

// Summary returns count, per-outcome totals, and timing in one consistent read.
func (l *Ledger) Summary() crawler.LedgerSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	byOutcome := make(map[crawler.Outcome]int, len(l.byOutcome))
	for k, v := range l.byOutcome {
		byOutcome[k] = v
	}
	return crawler.LedgerSummary{
		Count:          len(l.attempts),
		ByOutcome:      byOutcome,
		TotalElapsed:   l.total,
		AverageElapsed: average(l.total, len(l.attempts)),
	}
}

// Recent returns up to n attempts, newest first.
func (l *Ledger) Recent(n int) []crawler.Attempt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.attempts) {
		n = len(l.attempts)
	}
	out := make([]crawler.Attempt, 0, n)
	for i := len(l.attempts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.attempts[i])
	}
	return out
}

func average(total time.Duration, count int) time.Duration {
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}
