// Package worker executes crawl attempts: fetch one target, classify the
// response, record the attempt, and feed follow-up work back to the queue.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/clock/system"
	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/hash/sha256"
	"github.com/JakeFAU/chesscom-crawler/internal/id/uuid"
	"github.com/JakeFAU/chesscom-crawler/internal/metrics"
	"github.com/JakeFAU/chesscom-crawler/internal/policy/simple"
	"github.com/JakeFAU/chesscom-crawler/internal/progress"
	"github.com/JakeFAU/chesscom-crawler/internal/storage"
	"github.com/JakeFAU/chesscom-crawler/internal/telemetry"
)

const (
	defaultContentType    = "application/json"
	defaultEnqueueTimeout = time.Second
	defaultFetchTimeout   = 30 * time.Second
)

// Enqueue kinds reported to metrics.
const (
	kindDiscovered = "discovered"
	kindRetry      = "retry"
)

// Config controls Worker behavior.
type Config struct {
	// BaseURL is the API root used to build per-player stats targets.
	BaseURL string
	// Headers are added to every outbound request.
	Headers http.Header
	// BlobPrefix is the archive path prefix for successful payloads.
	BlobPrefix string
	// ContentType labels archived payloads.
	ContentType string
	// Topic receives one notice per attempt when a Publisher is set.
	Topic string
	// EnqueueTimeout bounds how long a discovered item may wait for room in a
	// bounded queue before it is dropped.
	EnqueueTimeout time.Duration
	// FetchTimeout bounds a started fetch. Once a fetch starts it runs to
	// completion even if the caller's context ends.
	FetchTimeout time.Duration
}

// Worker runs the fetch pipeline for items taken from a queue.
type Worker struct {
	queue     crawler.Queue
	ledger    crawler.Ledger
	fetcher   crawler.Fetcher
	limiter   crawler.Limiter
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	retry     simple.Policy
	recorder  *progress.Recorder
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLimiter paces fetches through l.
func WithLimiter(l crawler.Limiter) Option {
	return func(w *Worker) { w.limiter = l }
}

// WithArchive stores successful payloads in store.
func WithArchive(store crawler.BlobStore) Option {
	return func(w *Worker) { w.blobStore = store }
}

// WithPublisher sends attempt notices to Config.Topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithHasher overrides the digest used for archive paths.
func WithHasher(h crawler.Hasher) Option {
	return func(w *Worker) { w.hasher = h }
}

// WithClock overrides the clock that stamps FinishedAt and measures queue time.
func WithClock(c crawler.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithIDGenerator overrides attempt ID generation.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(w *Worker) { w.ids = g }
}

// WithRetryPolicy caps rate-limit retries.
func WithRetryPolicy(p simple.Policy) Option {
	return func(w *Worker) { w.retry = p }
}

// WithRecorder emits a progress event per attempt.
func WithRecorder(r *progress.Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithTracerProvider selects the provider for "crawler.fetch" spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) { w.tracer = telemetry.Tracer(tp) }
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	ledger crawler.Ledger,
	fetcher crawler.Fetcher,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = crawler.DefaultBaseURL
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	w := &Worker{
		queue:   queue,
		ledger:  ledger,
		fetcher: fetcher,
		hasher:  sha256.New(),
		clock:   system.New(),
		ids:     uuid.New(),
		tracer:  telemetry.Tracer(nil),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained. Fetch failures never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if _, err := w.Process(ctx, item); err != nil {
			w.logger.Debug("attempt abandoned", zap.String("target", item.Target), zap.Error(err))
		}
	}
}

// Process executes one attempt of item. Every executed attempt is appended to
// the ledger and returned. An error means the attempt was abandoned before the
// fetch started (ctx ended before or during the limiter wait); nothing is
// recorded in that case. A started attempt finishes within cfg.FetchTimeout
// regardless of ctx.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem) (crawler.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Attempt{}, fmt.Errorf("process %s: %w", item.Target, err)
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, item.Target); err != nil {
			return crawler.Attempt{}, fmt.Errorf("wait for token: %w", err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := w.tracer.Start(ctx, "crawler.fetch", trace.WithAttributes(
		attribute.String("crawler.target", item.Target),
		attribute.Int("crawler.attempt", item.Attempt),
	))
	defer span.End()

	if !item.EnqueuedAt.IsZero() {
		span.SetAttributes(attribute.Int64("crawler.queued_ms", w.clock.Now().Sub(item.EnqueuedAt).Milliseconds()))
	}

	metrics.IncActiveWorkers()
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	start := time.Now()
	resp, fetchErr := w.fetcher.Fetch(fetchCtx, crawler.FetchRequest{Target: item.Target, Headers: w.cfg.Headers})
	elapsed := time.Since(start)
	cancel()
	metrics.DecActiveWorkers()

	attempt := w.classify(item, resp, fetchErr, elapsed)
	attempt.Discovered = w.applyQueueEffect(ctx, item, attempt)
	w.ledger.Append(attempt)

	span.SetAttributes(
		attribute.Int("http.status_code", attempt.StatusCode),
		attribute.String("crawler.outcome", attempt.Outcome.String()),
		attribute.Int("crawler.discovered", attempt.Discovered),
	)
	if attempt.Outcome != crawler.OutcomeSuccess {
		span.SetStatus(codes.Error, attempt.Outcome.String())
	}

	w.logAttempt(attempt)
	uri := w.archive(ctx, attempt)
	w.publish(ctx, attempt, uri)
	w.recorder.Attempt(attempt)

	return attempt, nil
}

func (w *Worker) classify(
	item crawler.WorkItem,
	resp crawler.FetchResponse,
	fetchErr error,
	elapsed time.Duration,
) crawler.Attempt {
	attempt := crawler.Attempt{
		ID:         w.newID(),
		Target:     item.Target,
		Attempt:    item.Attempt,
		Elapsed:    elapsed,
		FinishedAt: w.clock.Now(),
	}
	if fetchErr != nil {
		attempt.Outcome = crawler.OutcomeOtherFailure
		attempt.Reason = fetchErr.Error()
		return attempt
	}

	attempt.StatusCode = resp.StatusCode
	attempt.Outcome = crawler.Classify(resp.StatusCode)
	switch attempt.Outcome {
	case crawler.OutcomeSuccess:
		payload, err := crawler.DecodePayload(resp.Body)
		if err != nil {
			attempt.Outcome = crawler.OutcomeOtherFailure
			attempt.Reason = err.Error()
			return attempt
		}
		attempt.Payload = payload
	case crawler.OutcomeOtherFailure:
		attempt.Reason = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return attempt
}

// applyQueueEffect enqueues follow-up work for attempt and returns how many
// discovered items were accepted.
func (w *Worker) applyQueueEffect(ctx context.Context, item crawler.WorkItem, attempt crawler.Attempt) int {
	switch attempt.Outcome {
	case crawler.OutcomeSuccess:
		accepted := 0
		for _, player := range crawler.ExtractPlayers(attempt.Payload) {
			next := item.Discovered(crawler.PlayerStatsURL(w.cfg.BaseURL, player))
			if w.enqueue(ctx, next, kindDiscovered) {
				accepted++
			}
		}
		return accepted
	case crawler.OutcomeRateLimited:
		if w.retry.ShouldRetry(attempt) {
			w.enqueue(ctx, item.Retry(), kindRetry)
		} else {
			w.logger.Warn("retry budget exhausted",
				zap.String("target", item.Target),
				zap.Int("attempt", item.Attempt))
		}
	case crawler.OutcomeGone:
		w.logger.Info("target gone, dead-lettered", zap.String("target", item.Target))
	}
	return 0
}

func (w *Worker) enqueue(ctx context.Context, item crawler.WorkItem, kind string) bool {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.EnqueueTimeout)
	defer cancel()

	err := w.queue.Enqueue(ctx, item)
	switch {
	case err == nil:
		metrics.ObserveEnqueue(kind, metrics.EnqueueAccepted)
		return true
	case errors.Is(err, crawler.ErrDuplicate):
		metrics.ObserveEnqueue(kind, metrics.EnqueueDuplicate)
		w.logger.Debug("duplicate target skipped", zap.String("target", item.Target))
	case errors.Is(err, crawler.ErrDropped):
		metrics.ObserveEnqueue(kind, metrics.EnqueueDropped)
		w.logger.Debug("queue full, target dropped", zap.String("target", item.Target))
	case errors.Is(err, crawler.ErrQueueFull):
		metrics.ObserveEnqueue(kind, metrics.EnqueueRejected)
		w.logger.Warn("queue full, target dropped", zap.String("target", item.Target))
	default:
		metrics.ObserveEnqueue(kind, metrics.EnqueueError)
		w.logger.Warn("enqueue failed", zap.String("target", item.Target), zap.Error(err))
	}
	return false
}

func (w *Worker) archive(ctx context.Context, attempt crawler.Attempt) string {
	if w.blobStore == nil || attempt.Outcome != crawler.OutcomeSuccess {
		return ""
	}
	digest, err := w.hasher.Hash([]byte(attempt.Target))
	if err != nil {
		w.logger.Warn("hash target failed", zap.String("target", attempt.Target), zap.Error(err))
		return ""
	}
	path := storage.ArchivePath(w.cfg.BlobPrefix, digest, attempt.ID)
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(attempt.Payload))
	metrics.ObserveArchive(err)
	if err != nil {
		w.logger.Warn("archive payload failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) publish(ctx context.Context, attempt crawler.Attempt, archiveURI string) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	_, err := w.publisher.Publish(ctx, w.cfg.Topic, newNotice(attempt, archiveURI))
	metrics.ObservePublish(err)
	if err != nil {
		w.logger.Warn("publish attempt notice failed", zap.String("target", attempt.Target), zap.Error(err))
	}
}

func (w *Worker) logAttempt(attempt crawler.Attempt) {
	fields := []zap.Field{
		zap.String("target", attempt.Target),
		zap.Int("attempt", attempt.Attempt),
		zap.Int("status", attempt.StatusCode),
		zap.Stringer("outcome", attempt.Outcome),
		zap.Duration("elapsed", attempt.Elapsed),
	}
	if attempt.Reason != "" {
		fields = append(fields, zap.String("reason", attempt.Reason))
	}
	if attempt.Discovered > 0 {
		fields = append(fields, zap.Int("discovered", attempt.Discovered))
	}
	w.logger.Debug("attempt finished", fields...)
}

func (w *Worker) newID() string {
	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Warn("generate attempt id failed", zap.Error(err))
		return ""
	}
	return id
}
