package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
)

var (
	pendingDesc = prometheus.NewDesc(
		"chesscrawler_queue_pending",
		"Work items waiting in the queue.",
		nil, nil,
	)
	droppedDesc = prometheus.NewDesc(
		"chesscrawler_queue_dropped_total",
		"Work items discarded because the queue was full.",
		nil, nil,
	)
	attemptsDesc = prometheus.NewDesc(
		"chesscrawler_attempts_total",
		"Attempts recorded in the ledger, labeled by outcome.",
		[]string{"outcome"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"chesscrawler_attempt_latency_avg_seconds",
		"Mean elapsed time across recorded attempts.",
		nil, nil,
	)
)

var outcomes = []crawler.Outcome{
	crawler.OutcomeSuccess,
	crawler.OutcomeRateLimited,
	crawler.OutcomeGone,
	crawler.OutcomeOtherFailure,
}

// Collector exposes a Stats snapshot at scrape time.
type Collector struct {
	stats *Stats
}

// NewCollector wraps s for registration with a prometheus.Registerer.
func NewCollector(s *Stats) *Collector {
	return &Collector{stats: s}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pendingDesc
	ch <- droppedDesc
	ch <- attemptsDesc
	ch <- latencyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(snap.Pending))
	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(snap.Dropped))

	counts := map[crawler.Outcome]int{
		crawler.OutcomeSuccess:      snap.Succeeded,
		crawler.OutcomeRateLimited:  snap.Throttled,
		crawler.OutcomeGone:         snap.Gone,
		crawler.OutcomeOtherFailure: snap.Failed,
	}
	for _, o := range outcomes {
		ch <- prometheus.MustNewConstMetric(attemptsDesc, prometheus.CounterValue, float64(counts[o]), o.String())
	}
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, snap.AverageLatency.Seconds())
}
