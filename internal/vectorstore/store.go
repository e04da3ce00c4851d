// Package vectorstore holds the vector database adapters. Every adapter is
// bound to one collection by EnsureCollection and rejects vectors whose
// dimension differs from the bound schema.
package vectorstore

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	Cosine Distance = "Cosine"
	Dot    Distance = "Dot"
	Euclid Distance = "Euclid"
)

// ParseDistance accepts metric names case-insensitively. Empty means Cosine.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dotproduct":
		return Dot, nil
	case "euclid", "euclidean":
		return Euclid, nil
	}
	return "", apperr.Errorf(apperr.KindInvalidArgument, "vectorstore", "unknown distance %q", s)
}

// schema is what EnsureCollection binds a handle to.
type schema struct {
	name     string
	dim      int
	distance Distance
}

func (s schema) bound() bool { return s.dim > 0 }

func validateSchema(op, name string, dim int, distance Distance) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "collection name is required")
	}
	if dim <= 0 {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "dimension must be positive, got %d", dim)
	}
	if _, err := ParseDistance(string(distance)); err != nil {
		return err
	}
	return nil
}

func errNotEnsured(op string) error {
	return apperr.Errorf(apperr.KindInvalidArgument, op, "collection not ensured")
}

func errDimension(op, collection string, want, got int) error {
	return apperr.Errorf(apperr.KindSchemaMismatch, op, "collection %q has dimension %d, got %d", collection, want, got)
}

// checkPoints rejects the whole batch before any write if one vector has the wrong size.
func checkPoints(op string, s schema, points []models.IndexedPoint) error {
	if !s.bound() {
		return errNotEnsured(op)
	}
	for _, p := range points {
		if p.ID == "" {
			return apperr.Errorf(apperr.KindInvalidArgument, op, "point id is required")
		}
		if len(p.Vector) != s.dim {
			return errDimension(op, s.name, s.dim, len(p.Vector))
		}
	}
	return nil
}

func checkQuery(op string, s schema, vector []float32, topK int) error {
	if !s.bound() {
		return errNotEnsured(op)
	}
	if topK < 1 {
		return apperr.Errorf(apperr.KindInvalidArgument, op, "top_k must be at least 1, got %d", topK)
	}
	if len(vector) != s.dim {
		return errDimension(op, s.name, s.dim, len(vector))
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank orders hits by descending score, breaking ties by id, and keeps topK.
func rank(hits []models.SearchHit, topK int) []models.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func describe(s schema) string {
	return fmt.Sprintf("%s(dim=%d, %s)", s.name, s.dim, s.distance)
}
