package pipeline

import (
	"context"

	"conversepdf/internal/vectorstore"
	"conversepdf/models"
)

// Splitter turns document text into ordered chunk texts.
type Splitter interface {
	Split(text string) []string
}

// DocumentLoader reads a document reference into page texts.
type DocumentLoader interface {
	Load(ctx context.Context, reference string) ([]string, error)
}

// Embedder maps texts to vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorStore persists points and serves nearest-neighbour queries.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int, distance vectorstore.Distance) error
	Upsert(ctx context.Context, points []models.IndexedPoint) error
	Search(ctx context.Context, vector []float32, topK int) ([]models.SearchHit, error)
}

// Synthesizer produces an answer grounded in the supplied contexts.
type Synthesizer interface {
	Answer(ctx context.Context, question string, contexts []string) (string, error)
}
