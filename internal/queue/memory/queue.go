// Package memory provides the in-process work queue.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

// OverflowPolicy decides what Enqueue does when a bounded queue is full.
type OverflowPolicy string

// Supported overflow policies.
const (
	OverflowDrop   OverflowPolicy = "drop"
	OverflowReject OverflowPolicy = "reject"
	OverflowBlock  OverflowPolicy = "block"
)

// ParseOverflowPolicy validates a configured policy name.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case OverflowDrop, OverflowReject, OverflowBlock:
		return p, nil
	case "":
		return OverflowDrop, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", name)
	}
}

// Option customizes a Queue.
type Option func(*Queue)

// WithDedupe skips first attempts whose normalized target was already
// accepted. Keys are digests of the normalized URL.
func WithDedupe(hasher crawler.Hasher) Option {
	return func(q *Queue) {
		q.hasher = hasher
		q.seen = make(map[string]struct{})
	}
}

// WithMaxDepth bounds the number of pending first attempts. A depth <= 0
// leaves the queue unbounded.
func WithMaxDepth(depth int, policy OverflowPolicy) Option {
	return func(q *Queue) {
		q.maxDepth = depth
		q.policy = policy
	}
}

// WithClock stamps WorkItem.EnqueuedAt on every accepted item.
func WithClock(clock crawler.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

// Queue is an unbounded (by default) FIFO of pending work. Enqueue never
// blocks unless the block overflow policy is selected; Dequeue suspends until
// work arrives, the queue closes, or the context ends.
type Queue struct {
	mu      sync.Mutex
	items   []crawler.WorkItem
	changed chan struct{}
	closed  bool

	hasher crawler.Hasher
	seen   map[string]struct{}

	maxDepth int
	policy   OverflowPolicy
	dropped  int

	clock crawler.Clock
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		changed: make(chan struct{}),
		policy:  OverflowDrop,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item at the tail.
//
// Retries (Attempt > 1) bypass both the seen set and the depth bound: they
// replace an item that was just dequeued, so they never grow the queue.
func (q *Queue) Enqueue(ctx context.Context, item crawler.WorkItem) error {
	retry := item.Attempt > 1
	key := ""
	if q.seen != nil && !retry {
		key = q.seenKey(item.Target)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return crawler.ErrQueueClosed
		}
		if key != "" {
			if _, ok := q.seen[key]; ok {
				return crawler.ErrDuplicate
			}
		}
		if retry || q.maxDepth <= 0 || len(q.items) < q.maxDepth {
			break
		}
		switch q.policy {
		case OverflowReject:
			return crawler.ErrQueueFull
		case OverflowBlock:
			if err := q.waitLocked(ctx); err != nil {
				return fmt.Errorf("enqueue canceled: %w", err)
			}
		default:
			q.dropped++
			return crawler.ErrDropped
		}
	}

	if key != "" {
		q.seen[key] = struct{}{}
	}
	if q.clock != nil {
		item.EnqueuedAt = q.clock.Now()
	}
	q.items = append(q.items, item)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the head item, waiting for one if the queue is empty. It
// returns crawler.ErrQueueClosed once the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (crawler.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if item, ok := q.popLocked(); ok {
			return item, nil
		}
		if q.closed {
			return crawler.WorkItem{}, crawler.ErrQueueClosed
		}
		if err := q.waitLocked(ctx); err != nil {
			return crawler.WorkItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
	}
}

// TryDequeue pops the head item without waiting. ok is false when empty.
func (q *Queue) TryDequeue() (crawler.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items the drop overflow policy discarded.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting work and wakes blocked callers. Pending items remain
// dequeueable. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) popLocked() (crawler.WorkItem, bool) {
	if len(q.items) == 0 {
		return crawler.WorkItem{}, false
	}
	item := q.items[0]
	q.items[0] = crawler.WorkItem{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	q.broadcastLocked()
	return item, true
}

// waitLocked releases the lock until the queue changes or ctx ends.
func (q *Queue) waitLocked(ctx context.Context) error {
	changed := q.changed
	q.mu.Unlock()
	defer q.mu.Lock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) seenKey(target string) string {
	normalized, err := crawler.NormalizeURL(target)
	if err != nil {
		normalized = target
	}
	if q.hasher == nil {
		return normalized
	}
	digest, err := q.hasher.Hash([]byte(normalized))
	if err != nil {
		return normalized
	}
	return digest
}
