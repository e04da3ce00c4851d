package vectorstore

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

// MongoStore keeps points in a MongoDB collection served by an Atlas
// Vector Search index.
type MongoStore struct {
	db        *mongo.Database
	indexName string

	mu     sync.RWMutex
	schema schema
	coll   *mongo.Collection
}

type mongoPoint struct {
	ID     string    `bson:"_id"`
	Vector []float32 `bson:"vector"`
	Source string    `bson:"source"`
	Text   string    `bson:"text"`
}

type mongoHit struct {
	ID     string  `bson:"_id"`
	Source string  `bson:"source"`
	Text   string  `bson:"text"`
	Score  float64 `bson:"score"`
}

func NewMongoStore(db *mongo.Database, indexName string) *MongoStore {
	if indexName == "" {
		indexName = "chunks_vector"
	}
	return &MongoStore{db: db, indexName: indexName}
}

// codeNamespaceExists is returned by createCollection for an existing collection.
const codeNamespaceExists = 48

func (s *MongoStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	const op = "mongo.ensure_collection"
	if err := validateSchema(op, name, dim, distance); err != nil {
		return err
	}

	if err := s.db.CreateCollection(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != codeNamespaceExists {
			return apperr.E(apperr.KindVectorStore, op, err)
		}
	}
	coll := s.db.Collection(name)

	cursor, err := coll.SearchIndexes().List(ctx, options.SearchIndexes().SetName(s.indexName))
	if err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}
	var indexes []bson.M
	if err := cursor.All(ctx, &indexes); err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}

	if len(indexes) > 0 {
		if existing := indexDimensions(indexes[0]); existing != dim {
			return errDimension(op, name, existing, dim)
		}
	} else {
		model := mongo.SearchIndexModel{
			Definition: vectorIndexDefinition(dim, distance),
			Options:    options.SearchIndexes().SetName(s.indexName).SetType("vectorSearch"),
		}
		if _, err := coll.SearchIndexes().CreateOne(ctx, model); err != nil {
			return apperr.E(apperr.KindVectorStore, op, err)
		}
	}

	s.mu.Lock()
	s.schema = schema{name: name, dim: dim, distance: distance}
	s.coll = coll
	s.mu.Unlock()
	return nil
}

func (s *MongoStore) bound() (schema, *mongo.Collection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema, s.coll
}

func (s *MongoStore) Upsert(ctx context.Context, points []models.IndexedPoint) error {
	const op = "mongo.upsert"
	sc, coll := s.bound()
	if err := checkPoints(op, sc, points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(points))
	for _, p := range points {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: p.ID}}).
			SetReplacement(mongoPoint{ID: p.ID, Vector: p.Vector, Source: p.Payload.Source, Text: p.Payload.Text}).
			SetUpsert(true))
	}
	if _, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return apperr.E(apperr.KindVectorStore, op, err)
	}
	return nil
}

func (s *MongoStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchHit, error) {
	const op = "mongo.search"
	sc, coll := s.bound()
	if err := checkQuery(op, sc, vector, topK); err != nil {
		return nil, err
	}

	cursor, err := coll.Aggregate(ctx, searchPipeline(s.indexName, vector, topK))
	if err != nil {
		return nil, apperr.E(apperr.KindVectorStore, op, err)
	}
	var docs []mongoHit
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.E(apperr.KindVectorStore, op, err)
	}

	hits := make([]models.SearchHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, models.SearchHit{ID: d.ID, Text: d.Text, SourceID: d.Source, Score: float32(d.Score)})
	}
	return hits, nil
}

func mongoSimilarity(d Distance) string {
	switch d {
	case Dot:
		return "dotProduct"
	case Euclid:
		return "euclidean"
	default:
		return "cosine"
	}
}

func vectorIndexDefinition(dim int, distance Distance) bson.D {
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: "vector"},
			{Key: "numDimensions", Value: dim},
			{Key: "similarity", Value: mongoSimilarity(distance)},
		},
		bson.D{
			{Key: "type", Value: "filter"},
			{Key: "path", Value: "source"},
		},
	}}}
}

func searchPipeline(index string, vector []float32, topK int) mongo.Pipeline {
	candidates := topK * 20
	if candidates > 10000 {
		candidates = 10000
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "vector"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: candidates},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 1},
			{Key: "source", Value: 1},
			{Key: "text", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
}

// indexDimensions reads numDimensions of the vector field from a listed search index.
func indexDimensions(index bson.M) int {
	def, ok := asMap(index["latestDefinition"])
	if !ok {
		return 0
	}
	fields, ok := def["fields"].(bson.A)
	if !ok {
		return 0
	}
	for _, f := range fields {
		field, ok := asMap(f)
		if !ok || field["type"] != "vector" {
			continue
		}
		switch n := field["numDimensions"].(type) {
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}

func asMap(v any) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case bson.D:
		out := make(bson.M, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}
