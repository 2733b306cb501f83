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

const (
	treeSpanName    = "tasksync.todo.tree"
	treeEventName   = "todo.tree.request"
	treeEventDomain = "tasksync"
	treeRoute       = "/api/todos/:todoId/tasks"
)

// treeRequestMetrics measures one tree read end to end and emits a single
// observability event covering the span, timings and outcome.
type treeRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	authDuration  time.Duration
	fetchDuration time.Duration
	buildDuration time.Duration
	taskCount     int
	errorStage    string
}

func newTreeRequestMetrics(ctx context.Context, logger *log.Logger) (*treeRequestMetrics, context.Context) {
	m := &treeRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
	spanCtx, span := otel.Tracer("tasksync/api").Start(ctx, treeSpanName)
	m.span = span
	return m, spanCtx
}

func (m *treeRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *treeRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *treeRequestMetrics) ObserveBuild(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.buildDuration = duration
}

func (m *treeRequestMetrics) SetTaskCount(count int) {
	if count < 0 {
		count = 0
	}
	m.taskCount = count
}

func (m *treeRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *treeRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", treeRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("tasksync.tree.total_ms", totalMs),
		attribute.Int("tasksync.tree.tasks", m.taskCount),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("tasksync.tree.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("tasksync.tree.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.buildDuration > 0 {
		attrs = append(attrs, attribute.Float64("tasksync.tree.build_ms", durationToMillis(m.buildDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tasksync.tree.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	var traceID string
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", treeEventName),
			attribute.String("event.domain", treeEventDomain),
			attribute.String("severity_text", severityText),
		}, attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if severityText == "ERROR" {
			desc := "tree request failed"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attributes := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      treeEventName,
		"event.domain":    treeEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributes,
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
