package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	StepCounter         metric.Int64Counter
	StepDuration        metric.Float64Histogram
	ChunksIngested      metric.Int64Counter
	QueryCounter        metric.Int64Counter
	ProviderCalls       metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(ServiceName)
	m := &Metrics{}
	var err error

	if m.RequestCounter, err = meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.StepCounter, err = meter.Int64Counter(
		"rag.steps.total",
		metric.WithDescription("Durable step executions by outcome"),
	); err != nil {
		return nil, err
	}
	if m.StepDuration, err = meter.Float64Histogram(
		"rag.steps.duration",
		metric.WithDescription("Durable step duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ChunksIngested, err = meter.Int64Counter(
		"rag.chunks.ingested",
		metric.WithDescription("Chunks upserted into the vector store"),
	); err != nil {
		return nil, err
	}
	if m.QueryCounter, err = meter.Int64Counter(
		"rag.queries.total",
		metric.WithDescription("Answered queries"),
	); err != nil {
		return nil, err
	}
	if m.ProviderCalls, err = meter.Int64Counter(
		"rag.provider.calls",
		metric.WithDescription("Embedding and chat provider calls"),
	); err != nil {
		return nil, err
	}
	if m.CircuitBreakerState, err = meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordStep records one step outcome: "completed", "replayed", "retried" or "failed"
func (m *Metrics) RecordStep(ctx context.Context, step, outcome string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("rag.step", step),
		attribute.String("rag.outcome", outcome),
	)
	m.StepCounter.Add(ctx, 1, attrs)
	if outcome != "replayed" {
		m.StepDuration.Record(ctx, duration, attrs)
	}
}

// RecordChunksIngested records upserted chunks for a source
func (m *Metrics) RecordChunksIngested(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.ChunksIngested.Add(ctx, int64(count))
}

// RecordQuery records an answered query and whether it had any context
func (m *Metrics) RecordQuery(ctx context.Context, contexts int) {
	if m == nil {
		return
	}
	m.QueryCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("rag.has_context", contexts > 0)))
}

// RecordProviderCall records a provider round trip
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, success bool) {
	if m == nil {
		return
	}
	m.ProviderCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
