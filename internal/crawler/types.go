package crawler

import (
	"encoding/json"
	"net/http"
	"time"
)

// Outcome is the classified result of a single fetch attempt.
type Outcome string

// Outcome values recorded in the ledger. OutcomeUnresolved is the zero value
// and is carried only by pending work; it never appears in an Attempt.
const (
	OutcomeUnresolved   Outcome = ""
	OutcomeSuccess      Outcome = "success"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeGone         Outcome = "gone"
	OutcomeOtherFailure Outcome = "other_failure"
)

// String returns a printable label, mapping the zero value to "unresolved".
func (o Outcome) String() string {
	if o == OutcomeUnresolved {
		return "unresolved"
	}
	return string(o)
}

// WorkItem is one pending API call. Items are values: a retry is a new
// WorkItem with a higher Attempt, never an in-place update.
type WorkItem struct {
	Target     string    `json:"target"`
	Attempt    int       `json:"attempt"`
	Origin     string    `json:"origin,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at,omitzero"` // set by the queue on accept
}

// NewWorkItem returns the first attempt for target.
func NewWorkItem(target string) WorkItem {
	return WorkItem{Target: target, Attempt: 1}
}

// Discovered returns the first attempt for target, remembering the item that found it.
func (w WorkItem) Discovered(target string) WorkItem {
	return WorkItem{Target: target, Attempt: 1, Origin: w.Target}
}

// Retry returns the next attempt for the same target.
func (w WorkItem) Retry() WorkItem {
	attempt := w.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return WorkItem{Target: w.Target, Attempt: attempt + 1, Origin: w.Origin}
}

// Attempt is the immutable ledger record of one pass of a WorkItem through
// the fetch pipeline.
type Attempt struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Attempt    int             `json:"attempt"`
	Outcome    Outcome         `json:"outcome"`
	StatusCode int             `json:"status_code"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
	FinishedAt time.Time       `json:"finished_at"`
	Discovered int             `json:"discovered"`
}

// LedgerSummary is a consistent aggregate over the ledger taken under one lock.
type LedgerSummary struct {
	Count          int
	ByOutcome      map[Outcome]int
	TotalElapsed   time.Duration
	AverageElapsed time.Duration
}

// FetchRequest captures everything needed to fetch a target.
type FetchRequest struct {
	Target  string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
