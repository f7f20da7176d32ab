package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const moveRoute = "/api/tasks/:id/move"

var tracer = otel.Tracer("flowboard/api")

type moveRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	authDuration  time.Duration
	gateDuration  time.Duration
	applyDuration time.Duration
	retried       bool
	errorStage    string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	m := &moveRequestMetrics{logger: logger, start: time.Now()}
	spanCtx, span := tracer.Start(ctx, "board.move", trace.WithAttributes(attribute.String("http.route", moveRoute)))
	m.span = span
	return m, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration > 0 {
		m.authDuration = duration
	}
}

func (m *moveRequestMetrics) ObserveGate(duration time.Duration) {
	if duration > 0 {
		m.gateDuration = duration
	}
}

func (m *moveRequestMetrics) ObserveApply(duration time.Duration) {
	if duration > 0 {
		m.applyDuration = duration
	}
}

func (m *moveRequestMetrics) SetRetried() { m.retried = true }

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    moveRoute,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
		"retried":  m.retried,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.gateDuration > 0 {
		fields["gate_ms"] = durationToMillis(m.gateDuration)
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("move.request.metrics")

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Bool("flowboard.move.retried", m.retried),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("flowboard.move.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
