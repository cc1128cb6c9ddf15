package crawler

import (
	"context"
	"io"
	"time"
)

// Queue provides FIFO semantics for pending work.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
	TryDequeue() (WorkItem, bool)
	Size() int
}

// Ledger records every executed attempt and answers aggregate reads.
type Ledger interface {
	Append(attempt Attempt)
	Count() int
	CountWhere(pred func(Attempt) bool) int
	AverageElapsed() time.Duration
	Summary() LedgerSummary
	Recent(n int) []Attempt
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes attempt notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces attempt IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
