package pipeline

import (
	"context"
	"reflect"
	"testing"

	"conversepdf/internal/apperr"
	"conversepdf/internal/journal"
	"conversepdf/internal/vectorstore"
	"conversepdf/models"
)

type queryFixture struct {
	embedder *fakeEmbedder
	store    *vectorstore.MemoryStore
	synth    *fakeSynthesizer
	answerer *Answerer
}

func newQueryFixture(t *testing.T, points ...models.IndexedPoint) *queryFixture {
	t.Helper()
	ctx := context.Background()
	f := &queryFixture{
		embedder: &fakeEmbedder{dim: 2, vectors: map[string][]float32{"what about pets?": {1, 0}}},
		store:    vectorstore.NewMemoryStore(),
		synth:    &fakeSynthesizer{},
	}
	if err := f.store.EnsureCollection(ctx, "docs", 2, vectorstore.Cosine); err != nil {
		t.Fatal(err)
	}
	if len(points) > 0 {
		if err := f.store.Upsert(ctx, points); err != nil {
			t.Fatal(err)
		}
	}
	f.answerer = NewAnswerer(AnswererConfig{
		Runner:      newTestRunner(journal.NewMemoryJournal(), 3),
		Retriever:   NewRetriever(f.embedder, f.store),
		Synthesizer: f.synth,
		DefaultTopK: 5,
		MaxTopK:     20,
	})
	return f
}

func pt(source string, index int, text string, x, y float32) models.IndexedPoint {
	return models.IndexedPoint{
		ID:      ChunkID(source, index),
		Vector:  []float32{x, y},
		Payload: models.PointPayload{Source: source, Text: text},
	}
}

func intPtr(v int) *int { return &v }

func TestQueryAggregatesAcrossSources(t *testing.T) {
	f := newQueryFixture(t,
		pt("doc1", 0, "cats purr", 1, 0.01),
		pt("doc1", 1, "dogs bark", 1, 0.02),
		pt("doc2", 0, "birds sing", 1, 0.03),
		pt("doc1", 2, "fish swim", 1, 0.04),
		pt("doc2", 1, "cows moo", 1, 0.05),
	)

	ans, err := f.answerer.Query(context.Background(), "run-1", models.QueryRequest{Question: "what about pets?", TopK: intPtr(5)})
	if err != nil {
		t.Fatal(err)
	}
	if ans.ContextCount != 5 {
		t.Fatalf("context_count = %d, want 5", ans.ContextCount)
	}
	if !reflect.DeepEqual(ans.Sources, []string{"doc1", "doc2"}) {
		t.Fatalf("sources = %v, want [doc1 doc2]", ans.Sources)
	}
	wantContexts := []string{"cats purr", "dogs bark", "birds sing", "fish swim", "cows moo"}
	if !reflect.DeepEqual(f.synth.contexts, wantContexts) {
		t.Fatalf("synthesizer got %v, want %v", f.synth.contexts, wantContexts)
	}
	if ans.Answer != "answer to what about pets?" {
		t.Fatalf("answer = %q", ans.Answer)
	}
}

func TestQueryWithoutContextSkipsSynthesis(t *testing.T) {
	f := newQueryFixture(t)

	ans, err := f.answerer.Query(context.Background(), "run-1", models.QueryRequest{Question: "what about pets?"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Answer != NoInformationAnswer || ans.ContextCount != 0 {
		t.Fatalf("answer = %+v", ans)
	}
	if ans.Sources == nil || len(ans.Sources) != 0 {
		t.Fatalf("sources = %#v, want empty non-nil", ans.Sources)
	}
	if f.synth.calls != 0 {
		t.Fatal("synthesizer must not be called without contexts")
	}
}

func TestQueryRejectsInvalidRequestsBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  models.QueryRequest
	}{
		{"empty question", models.QueryRequest{Question: "   "}},
		{"zero top_k", models.QueryRequest{Question: "q", TopK: intPtr(0)}},
		{"negative top_k", models.QueryRequest{Question: "q", TopK: intPtr(-3)}},
		{"top_k above max", models.QueryRequest{Question: "q", TopK: intPtr(21)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQueryFixture(t)
			_, err := f.answerer.Query(context.Background(), "run", tt.req)
			if !apperr.Is(err, apperr.KindInvalidArgument) {
				t.Fatalf("got %v, want invalid_argument", err)
			}
			if f.embedder.calls != 0 {
				t.Fatal("validation must happen before embedding")
			}
		})
	}
}

func TestQueryReplaysRetrieval(t *testing.T) {
	f := newQueryFixture(t, pt("doc1", 0, "cats purr", 1, 0))
	ctx := context.Background()
	req := models.QueryRequest{Question: "what about pets?"}

	if _, err := f.answerer.Query(ctx, "run-1", req); err != nil {
		t.Fatal(err)
	}
	if _, err := f.answerer.Query(ctx, "run-1", req); err != nil {
		t.Fatal(err)
	}
	if f.embedder.calls != 1 {
		t.Fatalf("embed calls = %d, want 1 (retrieval replayed)", f.embedder.calls)
	}
	if f.synth.calls != 2 {
		t.Fatalf("synth calls = %d, want 2 (synthesis is not journaled)", f.synth.calls)
	}
}

func TestQuerySynthesisFailure(t *testing.T) {
	f := newQueryFixture(t, pt("doc1", 0, "cats purr", 1, 0))
	f.synth.err = apperr.Errorf(apperr.KindSynthesisProvider, "fake", "model overloaded")

	_, err := f.answerer.Query(context.Background(), "run", models.QueryRequest{Question: "what about pets?"})
	if !apperr.Is(err, apperr.KindSynthesisProvider) {
		t.Fatalf("got %v, want synthesis_provider", err)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name         string
		hits         []models.SearchHit
		wantContexts []string
		wantSources  []string
	}{
		{name: "no hits", hits: nil, wantContexts: []string{}, wantSources: []string{}},
		{
			name: "dedupes sources in first-seen order",
			hits: []models.SearchHit{
				{Text: "a", SourceID: "s2"},
				{Text: "b", SourceID: "s1"},
				{Text: "c", SourceID: "s2"},
			},
			wantContexts: []string{"a", "b", "c"},
			wantSources:  []string{"s2", "s1"},
		},
		{
			name: "drops empty texts and their sources",
			hits: []models.SearchHit{
				{Text: "  ", SourceID: "ghost"},
				{Text: "kept", SourceID: "s1"},
				{Text: "", SourceID: "s3"},
			},
			wantContexts: []string{"kept"},
			wantSources:  []string{"s1"},
		},
		{
			name:         "missing source keeps the context",
			hits:         []models.SearchHit{{Text: "orphan"}},
			wantContexts: []string{"orphan"},
			wantSources:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.hits)
			if !reflect.DeepEqual(got.Contexts, tt.wantContexts) || !reflect.DeepEqual(got.Sources, tt.wantSources) {
				t.Errorf("Aggregate = %+v, want contexts %v sources %v", got, tt.wantContexts, tt.wantSources)
			}
		})
	}
}
