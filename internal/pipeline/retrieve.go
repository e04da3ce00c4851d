package pipeline

import (
	"context"
	"strings"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

// Retriever embeds a question and fetches its nearest chunks.
type Retriever struct {
	embedder Embedder
	store    VectorStore
}

func NewRetriever(embedder Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (models.RetrievalResult, error) {
	const op = "retrieve"
	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return models.RetrievalResult{}, err
	}
	if len(vectors) != 1 {
		return models.RetrievalResult{}, apperr.Errorf(apperr.KindEmbeddingProvider, op,
			"expected one query vector, got %d", len(vectors))
	}

	hits, err := r.store.Search(ctx, vectors[0], topK)
	if err != nil {
		return models.RetrievalResult{}, err
	}
	return Aggregate(hits), nil
}

// Aggregate keeps hits with non-empty text in rank order and lists their
// sources once each, in order of first appearance.
func Aggregate(hits []models.SearchHit) models.RetrievalResult {
	result := models.RetrievalResult{
		Contexts: make([]string, 0, len(hits)),
		Sources:  []string{},
	}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		result.Contexts = append(result.Contexts, h.Text)
		if h.SourceID == "" {
			continue
		}
		if _, ok := seen[h.SourceID]; !ok {
			seen[h.SourceID] = struct{}{}
			result.Sources = append(result.Sources, h.SourceID)
		}
	}
	return result
}
