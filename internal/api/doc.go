// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats and /v1/attempts for watching a run.
//   - POST /v1/targets and /v1/players for seeding more work.
package api
