package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conversepdf/internal/apperr"
	"conversepdf/internal/logger"
	"conversepdf/internal/telemetry"
)

// Journal durably records completed step results for a run.
type Journal interface {
	Load(ctx context.Context, runID, step string) ([]byte, bool, error)
	Save(ctx context.Context, runID, step string, data []byte) error
}

// RetryPolicy bounds how often a failing step is attempted within one run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows four attempts starting at a two second backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// SingleAttempt is used when an outer substrate owns retries.
func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Delay returns the backoff before retry number attempt: BaseDelay doubled
// per attempt, capped at MaxDelay, with ±25% jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	backoff := p.BaseDelay * time.Duration(1<<uint(attempt))
	if backoff > maxDelay || backoff <= 0 {
		backoff = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2+1)) - backoff/4
	return backoff + jitter
}

// ShouldRetry reports whether another attempt is allowed after attempt failed with err.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && apperr.Retryable(err)
}

// Runner executes named steps with memoization and the retry policy.
type Runner struct {
	journal Journal
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

type RunnerOption func(*Runner)

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner builds a runner. A nil journal disables memoization.
func NewRunner(journal Journal, policy RetryPolicy, opts ...RunnerOption) *Runner {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Runner{
		journal: journal,
		policy:  policy,
		tracer:  otel.Tracer(telemetry.ServiceName + "/pipeline"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.Or(r.logger)
	return r
}

// Policy returns the runner's retry policy.
func (r *Runner) Policy() RetryPolicy { return r.policy }

// NewRunID returns a fresh run identifier for callers without an external one.
func NewRunID() string {
	return uuid.NewString()
}

// Step runs fn as the durable step name of runID. A result already journaled
// for (runID, name) is replayed without calling fn. Otherwise fn is attempted
// until it succeeds, fails with a non-retryable kind, or the policy is
// exhausted, and a successful result is journaled before it is returned.
func Step[T any](ctx context.Context, r *Runner, runID, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, span := r.tracer.Start(ctx, "step."+name, trace.WithAttributes(
		attribute.String("rag.run_id", runID),
		attribute.String("rag.step", name),
	))
	defer span.End()

	if r.journal != nil {
		data, ok, err := r.journal.Load(ctx, runID, name)
		if err != nil {
			span.RecordError(err)
			return zero, fmt.Errorf("step %s: load journal: %w", name, err)
		}
		if ok {
			var out T
			if err := json.Unmarshal(data, &out); err == nil {
				span.SetAttributes(attribute.Bool("rag.replayed", true))
				r.metrics.RecordStep(ctx, name, "replayed", 0)
				r.logger.Debug("step replayed", "run_id", runID, "step", name)
				return out, nil
			}
			r.logger.Warn("discarding unreadable step result", "run_id", runID, "step", name)
		}
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			if r.journal != nil {
				data, err := json.Marshal(out)
				if err != nil {
					return zero, fmt.Errorf("step %s: encode result: %w", name, err)
				}
				if err := r.journal.Save(ctx, runID, name, data); err != nil {
					span.RecordError(err)
					return zero, fmt.Errorf("step %s: save journal: %w", name, err)
				}
			}
			span.SetAttributes(attribute.Int("rag.attempts", attempt))
			r.metrics.RecordStep(ctx, name, "completed", time.Since(start).Seconds())
			r.logger.Info("step completed", "run_id", runID, "step", name, "attempts", attempt,
				"duration_ms", time.Since(start).Milliseconds())
			return out, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Int("rag.attempts", attempt))
			r.metrics.RecordStep(ctx, name, "failed", time.Since(start).Seconds())
			r.logger.Error("step failed", "run_id", runID, "step", name, "attempt", attempt,
				"kind", string(apperr.KindOf(err)), "error", err)
			return zero, err
		}

		delay := r.policy.Delay(attempt)
		r.metrics.RecordStep(ctx, name, "retried", time.Since(start).Seconds())
		r.logger.Warn("step attempt failed, retrying", "run_id", runID, "step", name,
			"attempt", attempt, "max_attempts", r.policy.MaxAttempts, "delay", delay.String(), "error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			span.RecordError(serr)
			return zero, fmt.Errorf("step %s interrupted after attempt %d (%v): %w", name, attempt, err, serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
