// Package main hosts the chess.com crawler entrypoint.
//
// Architecture overview:
//   - Queue & workers: seed country listings are enqueued into an in-memory FIFO and drained by a worker pool sized
//     by crawler.concurrency (1 keeps a single request in flight). Each worker fetches one target with the
//     Colly-based fetcher, classifies the status, records an Attempt in the ledger, and enqueues follow-up player
//     stats targets or a single 429 retry.
//   - Observability: the console report prints pending/processed/throttled counts and mean latency; zap logs carry
//     target, attempt, status, and outcome; Prometheus exposes API, enqueue, rate-limit, and run stats; the progress
//     Hub batches attempt events for the log and Prometheus sinks; OpenTelemetry spans wrap each fetch when enabled.
//   - Fanout: successful payloads can be archived to a local directory or GCS, and one notice per attempt can be
//     published to Pub/Sub.
//   - HTTP API: internal/api.Server exposes health, metrics, stats, recent attempts, and seeding endpoints.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_SERVER_PORT (0 disables the API), CRAWLER_CRAWLER_CONCURRENCY,
//     CRAWLER_CRAWLER_RATE_LIMIT_RPS, CRAWLER_HTTP_TIMEOUT_SECONDS, storage (CRAWLER_STORAGE_*), and pubsub.
//   - Run locally: go run ./cmd/chesscrawler -config config.yaml (or rely solely on env overrides).
//   - SIGINT/SIGTERM stops the workers after their in-flight attempt and flushes sinks.
package main
