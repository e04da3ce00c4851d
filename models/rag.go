package models

import (
	"strings"

	"conversepdf/internal/apperr"
)

// Payload keys stored alongside every vector.
const (
	PayloadSource = "source"
	PayloadText   = "text"
)

// Chunk is a bounded slice of a document's text
type Chunk struct {
	Text     string `json:"text"`
	Index    int    `json:"index"`
	SourceID string `json:"source_id"`
}

// ChunkBatch is the memoized output of the load-and-chunk step
type ChunkBatch struct {
	Chunks   []string `json:"chunks"`
	SourceID string   `json:"source_id"`
}

// At returns the i-th chunk with its position and source.
func (b ChunkBatch) At(i int) Chunk {
	return Chunk{Text: b.Chunks[i], Index: i, SourceID: b.SourceID}
}

// PointPayload is the payload persisted with each vector
type PointPayload struct {
	Source string `json:"source" bson:"source"`
	Text   string `json:"text" bson:"text"`
}

// IndexedPoint is a single atomic upsert unit
type IndexedPoint struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload PointPayload `json:"payload"`
}

// SearchHit is one ranked result of a vector search
type SearchHit struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float32 `json:"score"`
}

// RetrievalResult is the memoized output of the embed-and-search step
type RetrievalResult struct {
	Contexts []string `json:"contexts"`
	Sources  []string `json:"sources"`
}

// IngestResult is the output of an ingestion run
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// Answer is the output of a query run. ContextCount is the number of
// retrieved contexts, before the prompt budget trims any.
type Answer struct {
	Answer       string   `json:"answer"`
	Sources      []string `json:"sources"`
	ContextCount int      `json:"context_count"`
}

// IngestRequest is the payload of the "ingest" trigger.
// Text, when set, is ingested directly instead of reading DocumentReference.
type IngestRequest struct {
	SourceID          string `json:"source_id,omitempty"`
	DocumentReference string `json:"document_reference"`
	Text              string `json:"text,omitempty"`
}

// Normalize validates the request and fills the default source id.
func (r *IngestRequest) Normalize() error {
	r.DocumentReference = strings.TrimSpace(r.DocumentReference)
	r.SourceID = strings.TrimSpace(r.SourceID)

	if r.DocumentReference == "" && r.Text == "" {
		return apperr.Errorf(apperr.KindInvalidArgument, "ingest.request", "document_reference or text is required")
	}
	if r.SourceID == "" {
		if r.DocumentReference == "" {
			return apperr.Errorf(apperr.KindInvalidArgument, "ingest.request", "source_id is required for inline text")
		}
		r.SourceID = r.DocumentReference
	}
	return nil
}

// QueryRequest is the payload of the "query" trigger
type QueryRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k,omitempty"`
}

// Resolve validates the request and returns the effective top_k.
// Values outside [1, maxTopK] are rejected, not clamped.
func (r *QueryRequest) Resolve(defaultTopK, maxTopK int) (int, error) {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return 0, apperr.Errorf(apperr.KindInvalidArgument, "query.request", "question is required")
	}

	topK := defaultTopK
	if r.TopK != nil {
		topK = *r.TopK
	}
	if topK < 1 || topK > maxTopK {
		return 0, apperr.Errorf(apperr.KindInvalidArgument, "query.request", "top_k must be between 1 and %d, got %d", maxTopK, topK)
	}
	return topK, nil
}
