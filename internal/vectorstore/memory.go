package vectorstore

import (
	"context"
	"sync"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

type memCollection struct {
	schema schema
	points map[string]models.IndexedPoint
}

// MemoryStore is a brute-force in-process store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	current     *memCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dim int, distance Distance) error {
	const op = "memory.ensure_collection"
	if err := validateSchema(op, name, dim, distance); err != nil {
		return err
	}
	if distance == Euclid {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "distance %s is not supported", distance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{schema: schema{name: name, dim: dim, distance: distance}, points: make(map[string]models.IndexedPoint)}
		s.collections[name] = c
	} else if c.schema.dim != dim {
		return errDimension(op, name, c.schema.dim, dim)
	}
	s.current = c
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, points []models.IndexedPoint) error {
	const op = "memory.upsert"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return errNotEnsured(op)
	}
	if err := checkPoints(op, s.current.schema, points); err != nil {
		return err
	}
	for _, p := range points {
		p.Vector = append([]float32(nil), p.Vector...)
		s.current.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, topK int) ([]models.SearchHit, error) {
	const op = "memory.search"
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, errNotEnsured(op)
	}
	if err := checkQuery(op, s.current.schema, vector, topK); err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(s.current.points))
	for _, p := range s.current.points {
		score := cosine(p.Vector, vector)
		if s.current.schema.distance == Dot {
			score = dot(p.Vector, vector)
		}
		hits = append(hits, models.SearchHit{
			ID:       p.ID,
			Text:     p.Payload.Text,
			SourceID: p.Payload.Source,
			Score:    float32(score),
		})
	}
	return rank(hits, topK), nil
}

// Count returns the number of points in the bound collection.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return len(s.current.points)
}

// CountSource returns the number of points whose payload source is sourceID.
func (s *MemoryStore) CountSource(sourceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	n := 0
	for _, p := range s.current.points {
		if p.Payload.Source == sourceID {
			n++
		}
	}
	return n
}

// IDs returns the ids stored for sourceID.
func (s *MemoryStore) IDs(sourceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	if s.current == nil {
		return ids
	}
	for id, p := range s.current.points {
		if p.Payload.Source == sourceID {
			ids = append(ids, id)
		}
	}
	return ids
}
