// Package obs carries the ambient logging, tracing, and metrics stack:
// zerolog enriched with OpenTelemetry trace context, matching the teacher's
// observability idiom.
package obs

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds the base zerolog.Logger for the service.
func NewLogger(serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithTrace returns a logger enriched with trace_id/span_id from ctx, if an
// active span is present.
func WithTrace(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	lc := l.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		lc = lc.Str("span_id", sc.SpanID().String())
	}
	return lc.Logger()
}

// Clock abstracts time for testable stage timing, matching the teacher's
// rag/service options.Clock interface.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// StageTimer measures a named pipeline stage and logs+records it on Stop.
type StageTimer struct {
	log     zerolog.Logger
	metrics *Metrics
	stage   string
	labels  map[string]string
	start   time.Time
	clock   Clock
}

// StartStage begins timing a pipeline stage.
func StartStage(clock Clock, log zerolog.Logger, metrics *Metrics, stage string, labels map[string]string) *StageTimer {
	return &StageTimer{log: log, metrics: metrics, stage: stage, labels: labels, start: clock.Now(), clock: clock}
}

// Stop finalizes the stage: logs duration and records it as a histogram.
func (t *StageTimer) Stop() time.Duration {
	d := t.clock.Now().Sub(t.start)
	t.log.Debug().Str("stage", t.stage).Dur("duration", d).Msg("stage complete")
	if t.metrics != nil {
		t.metrics.ObserveHistogram(t.stage+"_ms", float64(d.Milliseconds()), t.labels)
	}
	return d
}
