// Package crawler holds the domain model of the chess.com crawl: pending
// WorkItems, immutable Attempt records, response classification, and the
// URL helpers used to expand country player lists into per-player stats
// requests. Subsystems (queue, ledger, fetcher, worker) depend on the
// interfaces declared here rather than on each other.
package crawler
