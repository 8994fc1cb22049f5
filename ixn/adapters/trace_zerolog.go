package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

type spanLoggerKey struct{}

// ZerologTracer implements the Tracer port on a zerolog logger.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan opens a logical span. A child logger scoped to the span
// name rides the context so Event attributes itself to the right span.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	spanLogger := t.logger.With().Str("span", name).Logger()
	for k, v := range attrs {
		spanLogger = spanLogger.With().Interface(k, v).Logger()
	}
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	started := time.Now()
	spanLogger.Debug().Msg("span started")

	finish := func(err error) {
		evt := spanLogger.Debug()
		if err != nil {
			evt = spanLogger.Error().Err(err)
		}
		evt.Dur("duration", time.Since(started)).Msg("span ended")
	}
	return ctx, finish
}

// Event logs a point event against the surrounding span, falling back
// to the base logger outside any span.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if spanLogger, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = spanLogger
	}

	evt := logger.Debug()
	for k, v := range attrs {
		evt = evt.Interface(k, v)
	}
	evt.Str("trace_event", name).Msg("trace event")
}

// Ensure ZerologTracer implements the Tracer interface.
var _ ports.Tracer = (*ZerologTracer)(nil)
