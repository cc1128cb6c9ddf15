package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/progress"
)

// LogSink writes one structured log line per event. Enabled by
// progress.log_events; useful when tailing a run without a metrics stack.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage == progress.StageFetchDone {
			fields = append(fields,
				zap.String("target", evt.Target),
				zap.Int("attempt", evt.Attempt),
				zap.String("outcome", evt.Outcome),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("discovered", evt.Discovered),
			)
		}
		fields = append(fields, zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
