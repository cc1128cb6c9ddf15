// Package simple decides whether a finished attempt is retried.
package simple

import "github.com/JakeFAU/chesscom-crawler/internal/crawler"

// Policy re-enqueues rate-limited attempts. MaxAttempts caps how many times a
// single target is tried; zero means no cap.
type Policy struct {
	MaxAttempts int
}

// New creates a new Policy.
func New(maxAttempts int) Policy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return Policy{MaxAttempts: maxAttempts}
}

// ShouldRetry reports whether a follow-up attempt for a should be enqueued.
func (p Policy) ShouldRetry(a crawler.Attempt) bool {
	if !a.Outcome.Requeue() {
		return false
	}
	return p.MaxAttempts == 0 || a.Attempt < p.MaxAttempts
}
