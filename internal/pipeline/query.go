package pipeline

import (
	"context"
	"log/slog"

	"conversepdf/internal/logger"
	"conversepdf/internal/telemetry"
	"conversepdf/models"
)

// NoInformationAnswer is returned when retrieval finds no usable context.
const NoInformationAnswer = "I could not find relevant information in the ingested documents to answer this question."

type AnswererConfig struct {
	Runner      *Runner
	Retriever   *Retriever
	Synthesizer Synthesizer
	DefaultTopK int
	MaxTopK     int
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Answerer runs the query pipeline: a durable embed-and-search step
// followed by in-process synthesis.
type Answerer struct {
	runner      *Runner
	retriever   *Retriever
	synthesizer Synthesizer
	defaultTopK int
	maxTopK     int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

func NewAnswerer(cfg AnswererConfig) *Answerer {
	runner := cfg.Runner
	if runner == nil {
		runner = NewRunner(nil, DefaultRetryPolicy(), WithLogger(cfg.Logger), WithMetrics(cfg.Metrics))
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = max(20, cfg.DefaultTopK)
	}
	return &Answerer{
		runner:      runner,
		retriever:   cfg.Retriever,
		synthesizer: cfg.Synthesizer,
		defaultTopK: cfg.DefaultTopK,
		maxTopK:     cfg.MaxTopK,
		metrics:     cfg.Metrics,
		logger:      logger.Or(cfg.Logger),
	}
}

// Validate checks req without doing any I/O and returns the effective top_k.
func (a *Answerer) Validate(req *models.QueryRequest) (int, error) {
	return req.Resolve(a.defaultTopK, a.maxTopK)
}

func (a *Answerer) Query(ctx context.Context, runID string, req models.QueryRequest) (models.Answer, error) {
	topK, err := a.Validate(&req)
	if err != nil {
		return models.Answer{}, err
	}

	found, err := Step(ctx, a.runner, runID, StepEmbedAndSearch, func(ctx context.Context) (models.RetrievalResult, error) {
		return a.retriever.Retrieve(ctx, req.Question, topK)
	})
	if err != nil {
		return models.Answer{}, err
	}

	answer := models.Answer{
		Sources:      found.Sources,
		ContextCount: len(found.Contexts),
	}
	if answer.Sources == nil {
		answer.Sources = []string{}
	}

	if len(found.Contexts) == 0 {
		answer.Answer = NoInformationAnswer
	} else {
		answer.Answer, err = a.synthesizer.Answer(ctx, req.Question, found.Contexts)
		if err != nil {
			return models.Answer{}, err
		}
	}

	a.metrics.RecordQuery(ctx, answer.ContextCount)
	a.logger.Info("query answered", "run_id", runID, "top_k", topK,
		"contexts", answer.ContextCount, "sources", len(answer.Sources))
	return answer, nil
}
