// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/metrics"
	"github.com/JakeFAU/chesscom-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. A pool of one keeps
// at most one request in flight.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes or every
// worker has exited because the queue was closed. In-flight attempts are
// allowed to finish before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(id int, wk *worker.Worker) {
			defer wg.Done()
			d.logger.Debug("worker started", zap.Int("worker", id))
			wk.Run(ctx)
			d.logger.Debug("worker stopped", zap.Int("worker", id))
		}(i, w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		<-done
	case <-done:
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.WorkItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Seed enqueues a first attempt for each target and returns how many were
// accepted. Already-seen targets and targets discarded by the drop overflow
// policy are skipped silently; invalid targets and queue failures are
// collected into the returned error.
func (d *Dispatcher) Seed(ctx context.Context, targets []string) (int, error) {
	accepted := 0
	var errs []error
	for _, target := range targets {
		if err := crawler.ValidateTarget(target); err != nil {
			errs = append(errs, err)
			continue
		}
		err := d.Enqueue(ctx, crawler.NewWorkItem(target))
		switch {
		case err == nil:
			accepted++
			metrics.ObserveEnqueue("seed", metrics.EnqueueAccepted)
		case errors.Is(err, crawler.ErrDuplicate):
			metrics.ObserveEnqueue("seed", metrics.EnqueueDuplicate)
		case errors.Is(err, crawler.ErrDropped):
			metrics.ObserveEnqueue("seed", metrics.EnqueueDropped)
		case errors.Is(err, crawler.ErrQueueFull):
			metrics.ObserveEnqueue("seed", metrics.EnqueueRejected)
			errs = append(errs, fmt.Errorf("seed %s: %w", target, err))
		default:
			metrics.ObserveEnqueue("seed", metrics.EnqueueError)
			errs = append(errs, fmt.Errorf("seed %s: %w", target, err))
		}
	}
	d.logger.Info("seeded targets", zap.Int("accepted", accepted), zap.Int("offered", len(targets)))
	return accepted, errors.Join(errs...)
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}
