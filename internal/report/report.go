// Package report renders live run statistics to a terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/stats"
)

const (
	// DefaultInterval is the refresh period when Config.Interval is unset.
	DefaultInterval = 500 * time.Millisecond

	clearScreen = "\033[H\033[2J"
)

// Source provides the numbers to render.
type Source interface {
	Snapshot() stats.Snapshot
}

// Config controls the reporter.
type Config struct {
	Interval    time.Duration
	ClearScreen bool
}

// Reporter periodically writes a stats block to an io.Writer.
type Reporter struct {
	source Source
	out    io.Writer
	cfg    Config
	logger *zap.Logger
}

// New creates a Reporter.
func New(source Source, out io.Writer, cfg Config, logger *zap.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{source: source, out: out, cfg: cfg, logger: logger}
}

// Run renders once per interval until ctx ends, then renders a final frame.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.write()
			return
		case <-ticker.C:
			r.write()
		}
	}
}

func (r *Reporter) write() {
	frame := Render(r.source.Snapshot())
	if r.cfg.ClearScreen {
		frame = clearScreen + frame
	}
	if _, err := io.WriteString(r.out, frame); err != nil {
		r.logger.Warn("report write failed", zap.Error(err))
	}
}

// Render formats one stats block.
func Render(s stats.Snapshot) string {
	return fmt.Sprintf(
		"Pending requests: %d\nProcessed requests: %d\nToo many requests: %d\nAverage HTTP request time: %.2fms\n",
		s.Pending,
		s.Processed,
		s.Throttled,
		s.AverageLatencyMS(),
	)
}
