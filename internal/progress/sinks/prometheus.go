package sinks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chesscom-crawler/internal/progress"
)

// PrometheusSink exports per-fetch progress metrics. Collectors are owned by
// the sink and registered on construction.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsRunning  prometheus.Gauge
	runDuration  prometheus.Histogram
	fetches      *prometheus.CounterVec
	fetchBytes   prometheus.Counter
	fetchLatency *prometheus.HistogramVec
	discovered   prometheus.Counter

	running atomic.Int64
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesscrawler_runs_started_total",
			Help: "Crawl runs started by this process.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chesscrawler_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chesscrawler_run_duration_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chesscrawler_fetches_total",
			Help: "Fetch completions partitioned by outcome and status class.",
		}, []string{"outcome", "status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesscrawler_fetch_bytes_total",
			Help: "Payload bytes received from successful fetches.",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chesscrawler_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"outcome"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chesscrawler_players_discovered_total",
			Help: "Follow-up player requests enqueued from successful responses.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runDuration,
		s.fetches,
		s.fetchBytes,
		s.fetchLatency,
		s.discovered,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.running.Add(1)
			s.runsRunning.Inc()
		case progress.StageRunDone:
			if s.running.Add(-1) >= 0 {
				s.runsRunning.Dec()
			} else {
				s.running.Store(0)
			}
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageFetchDone:
			s.handleFetchEvent(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetches.WithLabelValues(evt.Outcome, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchLatency.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	}
	if evt.Discovered > 0 {
		s.discovered.Add(float64(evt.Discovered))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
