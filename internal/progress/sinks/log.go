// Package sinks contains Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/progress"
)

// LogSink writes one structured log line per coordination event. This is the
// per-accepted-item observability trail operators tail during a run.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("coordination event",
			zap.String("stage", string(evt.Stage)),
			zap.String("run_id", evt.RunID),
			zap.String("store_id", evt.StoreID),
			zap.String("product_id", evt.ProductID),
			zap.Int("count", evt.Count),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
