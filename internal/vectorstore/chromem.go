package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

// schemaCollection records the dimension of every collection, since chromem
// does not expose collection metadata after creation.
const schemaCollection = "_schema"

// ChromemStore is an embedded store backed by chromem-go. With an empty
// path it keeps everything in memory, otherwise it persists to disk.
type ChromemStore struct {
	db *chromem.DB

	mu         sync.RWMutex
	schema     schema
	collection *chromem.Collection
}

// Vectors are always supplied by the pipeline, so chromem must never embed.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem: embeddings must be precomputed")
}

func NewChromemStore(path string) (*ChromemStore, error) {
	if path == "" {
		return &ChromemStore{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, apperr.E(apperr.KindVectorStore, "chromem.open", err)
	}
	return &ChromemStore{db: db}, nil
}

func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	const op = "chromem.ensure_collection"
	if err := validateSchema(op, name, dim, distance); err != nil {
		return err
	}
	if distance != Cosine {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "chromem only supports %s distance", Cosine)
	}
	if name == schemaCollection {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "collection name %q is reserved", name)
	}

	schemas, err := s.db.GetOrCreateCollection(schemaCollection, nil, noEmbedding)
	if err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}

	if schemas.Count() > 0 {
		if doc, err := schemas.GetByID(ctx, name); err == nil {
			existing, _ := strconv.Atoi(doc.Metadata["dimension"])
			if existing != dim {
				return errDimension(op, name, existing, dim)
			}
		} else if err := s.recordSchema(ctx, schemas, name, dim, distance); err != nil {
			return apperr.E(apperr.KindVectorStore, op, err)
		}
	} else if err := s.recordSchema(ctx, schemas, name, dim, distance); err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}

	collection, err := s.db.GetOrCreateCollection(name, map[string]string{"hnsw:space": "cosine"}, noEmbedding)
	if err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}

	s.mu.Lock()
	s.schema = schema{name: name, dim: dim, distance: distance}
	s.collection = collection
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) recordSchema(ctx context.Context, schemas *chromem.Collection, name string, dim int, distance Distance) error {
	return schemas.AddDocument(ctx, chromem.Document{
		ID: name,
		Metadata: map[string]string{
			"dimension": strconv.Itoa(dim),
			"distance":  string(distance),
		},
		Embedding: []float32{1},
		Content:   name,
	})
}

func (s *ChromemStore) bound() (schema, *chromem.Collection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema, s.collection
}

func (s *ChromemStore) Upsert(ctx context.Context, points []models.IndexedPoint) error {
	const op = "chromem.upsert"
	sc, collection := s.bound()
	if err := checkPoints(op, sc, points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  map[string]string{models.PayloadSource: p.Payload.Source},
			Embedding: append([]float32(nil), p.Vector...),
			Content:   p.Payload.Text,
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchHit, error) {
	const op = "chromem.search"
	sc, collection := s.bound()
	if err := checkQuery(op, sc, vector, topK); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	n := collection.Count()
	if n == 0 {
		return []models.SearchHit{}, nil
	}
	if topK > n {
		topK = n
	}

	results, err := collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, apperr.E(apperr.KindVectorStore, op, fmt.Errorf("query %s: %w", sc.name, err))
	}

	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, models.SearchHit{
			ID:       r.ID,
			Text:     r.Content,
			SourceID: r.Metadata[models.PayloadSource],
			Score:    r.Similarity,
		})
	}
	return rank(hits, topK), nil
}

// Count returns the number of points in the bound collection.
func (s *ChromemStore) Count() int {
	_, collection := s.bound()
	if collection == nil {
		return 0
	}
	return collection.Count()
}
