package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conversepdf/internal/apperr"
	"conversepdf/internal/logger"
	"conversepdf/internal/telemetry"
	"conversepdf/models"
)

// Step names. They are part of the journal key, so renaming one orphans
// results recorded under the old name.
const (
	StepLoadAndChunk   = "load-and-chunk"
	StepEmbedAndUpsert = "embed-and-upsert"
	StepEmbedAndSearch = "embed-and-search"
)

type IngestorConfig struct {
	Runner   *Runner
	Loader   DocumentLoader
	Splitter Splitter
	Embedder Embedder
	Store    VectorStore
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Ingestor turns a document into indexed points in two durable steps.
type Ingestor struct {
	runner   *Runner
	loader   DocumentLoader
	splitter Splitter
	embedder Embedder
	store    VectorStore
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewIngestor(cfg IngestorConfig) *Ingestor {
	runner := cfg.Runner
	if runner == nil {
		runner = NewRunner(nil, DefaultRetryPolicy(), WithLogger(cfg.Logger), WithMetrics(cfg.Metrics))
	}
	return &Ingestor{
		runner:   runner,
		loader:   cfg.Loader,
		splitter: cfg.Splitter,
		embedder: cfg.Embedder,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger.Or(cfg.Logger),
	}
}

// Ingest runs load-and-chunk then embed-and-upsert for req under runID.
// Re-running the same run replays completed steps; re-ingesting the same
// source overwrites its points because ids derive from (source, index).
func (i *Ingestor) Ingest(ctx context.Context, runID string, req models.IngestRequest) (models.IngestResult, error) {
	if err := req.Normalize(); err != nil {
		return models.IngestResult{}, err
	}

	batch, err := Step(ctx, i.runner, runID, StepLoadAndChunk, func(ctx context.Context) (models.ChunkBatch, error) {
		return i.LoadAndChunk(ctx, req)
	})
	if err != nil {
		return models.IngestResult{}, err
	}

	result, err := Step(ctx, i.runner, runID, StepEmbedAndUpsert, func(ctx context.Context) (models.IngestResult, error) {
		return i.EmbedAndUpsert(ctx, batch)
	})
	if err != nil {
		return models.IngestResult{}, err
	}

	i.metrics.RecordChunksIngested(ctx, result.Ingested)
	i.logger.Info("document ingested", "run_id", runID, "source_id", batch.SourceID, "chunks", result.Ingested)
	return result, nil
}

// LoadAndChunk reads the document and splits every page, keeping page order.
func (i *Ingestor) LoadAndChunk(ctx context.Context, req models.IngestRequest) (models.ChunkBatch, error) {
	const op = "ingest.load_and_chunk"

	var pages []string
	if req.Text != "" {
		pages = []string{req.Text}
	} else {
		var err error
		pages, err = i.loader.Load(ctx, req.DocumentReference)
		if err != nil {
			return models.ChunkBatch{}, readError(op, err)
		}
	}

	chunks := make([]string, 0, len(pages))
	for _, page := range pages {
		chunks = append(chunks, i.splitter.Split(page)...)
	}
	return models.ChunkBatch{Chunks: chunks, SourceID: req.SourceID}, nil
}

// EmbedAndUpsert embeds the batch in one call and writes one point per chunk.
func (i *Ingestor) EmbedAndUpsert(ctx context.Context, batch models.ChunkBatch) (models.IngestResult, error) {
	const op = "ingest.embed_and_upsert"
	if len(batch.Chunks) == 0 {
		return models.IngestResult{Ingested: 0}, nil
	}

	vectors, err := i.embedder.Embed(ctx, batch.Chunks)
	if err != nil {
		return models.IngestResult{}, err
	}
	if len(vectors) != len(batch.Chunks) {
		return models.IngestResult{}, apperr.Errorf(apperr.KindEmbeddingProvider, op,
			"embedded %d of %d chunks", len(vectors), len(batch.Chunks))
	}

	points := make([]models.IndexedPoint, len(batch.Chunks))
	for idx := range batch.Chunks {
		chunk := batch.At(idx)
		points[idx] = models.IndexedPoint{
			ID:     ChunkID(chunk.SourceID, chunk.Index),
			Vector: vectors[idx],
			Payload: models.PointPayload{
				Source: chunk.SourceID,
				Text:   chunk.Text,
			},
		}
	}
	if err := i.store.Upsert(ctx, points); err != nil {
		return models.IngestResult{}, err
	}
	return models.IngestResult{Ingested: len(points)}, nil
}

// readError tags untagged loader failures as document read errors.
func readError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.E(apperr.KindDocumentRead, op, fmt.Errorf("read document: %w", err))
}
