package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"conversepdf/internal/apperr"
	"conversepdf/internal/logger"
	"conversepdf/internal/pipeline"
	"conversepdf/models"
)

const (
	TypeIngest = "rag:ingest"
	TypeQuery  = "rag:query"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// TaskOptions are applied to every enqueued task.
type TaskOptions struct {
	Policy        pipeline.RetryPolicy
	Retention     time.Duration
	IngestTimeout time.Duration
	QueryTimeout  time.Duration
}

func (o TaskOptions) common(queue string, timeout time.Duration) []asynq.Option {
	retries := o.Policy.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	opts := []asynq.Option{asynq.MaxRetry(retries), asynq.Queue(queue)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	if o.Retention > 0 {
		opts = append(opts, asynq.Retention(o.Retention))
	}
	return opts
}

// Task creators
func NewIngestTask(req models.IngestRequest, o TaskOptions, extra ...asynq.Option) (*asynq.Task, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	timeout := o.IngestTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return asynq.NewTask(TypeIngest, payload, append(o.common(QueueCritical, timeout), extra...)...), nil
}

func NewQueryTask(req models.QueryRequest, o TaskOptions, extra ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	timeout := o.QueryTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return asynq.NewTask(TypeQuery, payload, append(o.common(QueueDefault, timeout), extra...)...), nil
}

// IngestTaskID derives a task id from a source id and its content, so an
// unchanged document is not enqueued twice while its task is retained.
// Identical bytes under different source ids are distinct documents.
func IngestTaskID(sourceID string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write(content)
	return "ingest:" + hex.EncodeToString(h.Sum(nil))
}

// RetryDelayFunc spaces asynq retries with the pipeline's backoff.
func RetryDelayFunc(policy pipeline.RetryPolicy) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return policy.Delay(n + 1)
	}
}

// Enqueuer is the part of *asynq.Client used to submit runs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Ingester interface {
	Ingest(ctx context.Context, runID string, req models.IngestRequest) (models.IngestResult, error)
}

type Querier interface {
	Query(ctx context.Context, runID string, req models.QueryRequest) (models.Answer, error)
}

// StatusRecorder receives ingestion lifecycle updates.
type StatusRecorder interface {
	MarkProcessing(ctx context.Context, sourceID, reference, taskID string) error
	MarkCompleted(ctx context.Context, sourceID string, chunks int) error
	MarkFailed(ctx context.Context, sourceID string, cause error) error
}

// Task handlers
type TaskProcessor struct {
	ingester Ingester
	querier  Querier
	recorder StatusRecorder
	logger   *slog.Logger
}

func NewTaskProcessor(ingester Ingester, querier Querier, recorder StatusRecorder, log *slog.Logger) *TaskProcessor {
	return &TaskProcessor{ingester: ingester, querier: querier, recorder: recorder, logger: logger.Or(log)}
}

// Register installs the handlers on mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeIngest, p.ProcessIngest)
	mux.HandleFunc(TypeQuery, p.ProcessQuery)
}

func (p *TaskProcessor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var req models.IngestRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := req.Normalize(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	runID := runIDFor(ctx, t)
	p.record(p.recorder.MarkProcessing(ctx, req.SourceID, req.DocumentReference, runID), "processing", req.SourceID)

	res, err := p.ingester.Ingest(ctx, runID, req)
	if err != nil {
		if final(ctx, err) {
			p.record(p.recorder.MarkFailed(context.WithoutCancel(ctx), req.SourceID, err), "failed", req.SourceID)
		}
		return taskError(err)
	}

	p.record(p.recorder.MarkCompleted(ctx, req.SourceID, res.Ingested), "completed", req.SourceID)
	return writeResult(t, res)
}

func (p *TaskProcessor) ProcessQuery(ctx context.Context, t *asynq.Task) error {
	var req models.QueryRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	answer, err := p.querier.Query(ctx, runIDFor(ctx, t), req)
	if err != nil {
		return taskError(err)
	}
	return writeResult(t, answer)
}

func (p *TaskProcessor) record(err error, status, sourceID string) {
	if err != nil {
		p.logger.Warn("failed to record ingestion status", "status", status, "source_id", sourceID, "error", err)
	}
}

// runIDFor keys the step journal by task id so retries of one task replay
// its completed steps.
func runIDFor(ctx context.Context, t *asynq.Task) string {
	if id, ok := asynq.GetTaskID(ctx); ok && id != "" {
		return id
	}
	if w := t.ResultWriter(); w != nil {
		return w.TaskID()
	}
	return pipeline.NewRunID()
}

// final reports whether asynq will give up on the task after err.
func final(ctx context.Context, err error) bool {
	if permanent(err) {
		return true
	}
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && retried >= maxRetry
}

// permanent reports errors no retry can fix. A cancelled or timed out task
// is left to asynq's retry schedule.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !apperr.Retryable(err)
}

func taskError(err error) error {
	if !permanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func writeResult(t *asynq.Task, v any) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
