// Package app builds the crawler's long-lived services from configuration and
// runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/api"
	"github.com/JakeFAU/chesscom-crawler/internal/clock/system"
	"github.com/JakeFAU/chesscom-crawler/internal/config"
	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/chesscom-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/chesscom-crawler/internal/hash/sha256"
	"github.com/JakeFAU/chesscom-crawler/internal/id/uuid"
	ledgermem "github.com/JakeFAU/chesscom-crawler/internal/ledger/memory"
	"github.com/JakeFAU/chesscom-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/chesscom-crawler/internal/policy/simple"
	"github.com/JakeFAU/chesscom-crawler/internal/progress"
	"github.com/JakeFAU/chesscom-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/chesscom-crawler/internal/publisher/pubsub"
	queuemem "github.com/JakeFAU/chesscom-crawler/internal/queue/memory"
	"github.com/JakeFAU/chesscom-crawler/internal/report"
	"github.com/JakeFAU/chesscom-crawler/internal/stats"
	"github.com/JakeFAU/chesscom-crawler/internal/storage/gcs"
	"github.com/JakeFAU/chesscom-crawler/internal/storage/local"
	"github.com/JakeFAU/chesscom-crawler/internal/telemetry"
	"github.com/JakeFAU/chesscom-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Option customizes App construction.
type Option func(*options)

type options struct {
	reportOut  io.Writer
	registerer prometheus.Registerer
	fetcher    crawler.Fetcher
	publisher  crawler.Publisher
}

// WithReportWriter sends the console report to w instead of stdout.
func WithReportWriter(w io.Writer) Option {
	return func(o *options) { o.reportOut = w }
}

// WithRegisterer registers run collectors with reg instead of the default
// registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPublisher sends attempt notices to p instead of dialing Pub/Sub.
// pubsub.topic_name still names the topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// App holds the shared, long-lived services for one crawl run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	queue      *queuemem.Queue
	ledger     *ledgermem.Ledger
	dispatcher *dispatcher.Dispatcher
	stats      *stats.Stats
	reporter   *report.Reporter
	api        *api.Server
	server     *http.Server
	hub        *progress.Hub
	recorder   *progress.Recorder

	closers []func(context.Context) error
}

// New wires every component from cfg. It fails fast when an external
// dependency (archive bucket, Pub/Sub client) cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{reportOut: os.Stdout, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.Background()); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
			a = nil
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.Enabled, cfg.Tracing.ServiceName)
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	a.queue, err = newQueue(cfg.Crawler)
	if err != nil {
		return a, err
	}
	a.ledger = ledgermem.NewLedger()
	a.stats = stats.New(a.queue, a.ledger)
	if err := register(o.registerer, stats.NewCollector(a.stats)); err != nil {
		return a, err
	}

	workerOpts, err := a.workerOptions(ctx, o)
	if err != nil {
		return a, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     cfg.FetchTimeout(),
			MaxBodySize: cfg.HTTP.MaxBodyBytes,
		})
	}
	workerCfg := worker.Config{
		BaseURL:      cfg.Crawler.BaseURL,
		BlobPrefix:   cfg.Storage.Prefix,
		Topic:        cfg.PubSub.TopicName,
		FetchTimeout: cfg.FetchTimeout(),
	}
	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.ledger,
			fetcher,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
			workerOpts...,
		))
	}
	a.dispatcher = dispatcher.New(a.queue, workers, logger.Named("dispatcher"))

	if cfg.Report.Enabled {
		a.reporter = report.New(a.stats, o.reportOut, report.Config{
			Interval:    cfg.Report.Interval,
			ClearScreen: cfg.Report.ClearScreen,
		}, logger.Named("report"))
	}

	a.api = api.NewServer(a.dispatcher, a.stats, a.ledger, cfg, logger.Named("api"))
	if cfg.Server.Port > 0 {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           a.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	logger.Info("application services initialized",
		zap.Int("workers", len(workers)),
		zap.Int("seeds", len(cfg.Crawler.Seeds)),
		zap.Bool("api", a.server != nil),
	)
	return a, nil
}

func newQueue(cfg config.CrawlerConfig) (*queuemem.Queue, error) {
	opts := []queuemem.Option{queuemem.WithClock(system.New())}
	if cfg.Dedupe {
		opts = append(opts, queuemem.WithDedupe(sha256.New()))
	}
	if cfg.MaxQueueDepth > 0 {
		policy, err := queuemem.ParseOverflowPolicy(cfg.OverflowPolicy)
		if err != nil {
			return nil, fmt.Errorf("configure queue: %w", err)
		}
		opts = append(opts, queuemem.WithMaxDepth(cfg.MaxQueueDepth, policy))
	}
	return queuemem.NewQueue(opts...), nil
}

func (a *App) workerOptions(ctx context.Context, o options) ([]worker.Option, error) {
	cfg := a.cfg
	opts := []worker.Option{
		worker.WithRetryPolicy(simple.New(cfg.Crawler.MaxAttempts)),
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitRPS, Burst: cfg.Crawler.RateLimitBurst})
	if !limiter.Unlimited() {
		opts = append(opts, worker.WithLimiter(limiter))
	}

	archive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		opts = append(opts, worker.WithArchive(archive))
	}

	switch {
	case cfg.PubSub.TopicName == "":
	case o.publisher != nil:
		opts = append(opts, worker.WithPublisher(o.publisher))
	default:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, func(context.Context) error {
			pub.Close()
			if err := client.Close(); err != nil {
				return fmt.Errorf("close pubsub client: %w", err)
			}
			return nil
		})
		opts = append(opts, worker.WithPublisher(pub))
		a.logger.Info("publishing attempt notices", zap.String("topic", cfg.PubSub.TopicName))
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	hubSinks := []progress.Sink{promSink}
	if cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")}, hubSinks...)
	a.closers = append(a.closers, a.hub.Close)

	runID, err := uuid.New().NewRawID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.recorder = progress.NewRecorder(runID, a.hub, system.New())
	opts = append(opts, worker.WithRecorder(a.recorder))

	return opts, nil
}

// openArchive returns nil when archiving is disabled. A local directory wins
// over a GCS bucket.
func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Storage
	switch {
	case cfg.OutputDir != "":
		store, err := local.New(local.Config{BaseDir: cfg.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		a.logger.Info("archiving payloads locally", zap.String("dir", cfg.OutputDir))
		return store, nil
	case cfg.GCSBucket != "":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.logger.Info("archiving payloads to gcs", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("register stats collector: %w", err)
	}
	return nil
}

// Stats exposes the run's stats facade.
func (a *App) Stats() *stats.Stats {
	return a.stats
}

// Handler exposes the API router, whether or not a listener is configured.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Run seeds the queue, starts workers, the reporter, and the API listener,
// and blocks until ctx ends or the listener fails. In-flight attempts finish
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.recorder.RunStarted()
	accepted, err := a.dispatcher.Seed(runCtx, a.cfg.Crawler.Seeds)
	if err != nil {
		a.logger.Warn("seeding incomplete", zap.Int("accepted", accepted), zap.Error(err))
	}

	var (
		wg        sync.WaitGroup
		serverErr error
	)
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				serverErr = fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}
	if a.reporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reporter.Run(runCtx)
		}()
	}

	a.logger.Info("dispatcher started", zap.Int("workers", a.dispatcher.Workers()))
	a.dispatcher.Run(runCtx)
	cancel()
	a.logger.Info("shutdown initiated")

	if a.server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		stop()
	}
	a.queue.Close()
	wg.Wait()

	snap := a.stats.Snapshot()
	a.recorder.RunDone(fmt.Sprintf("processed=%d pending=%d", snap.Processed, snap.Pending))
	a.logger.Info("run finished",
		zap.Int("processed", snap.Processed),
		zap.Int("pending", snap.Pending),
		zap.Int("throttled", snap.Throttled),
		zap.Duration("average_latency", snap.AverageLatency),
	)
	return serverErr
}

// Close releases external clients, flushes progress sinks, and stops
// tracing, in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
