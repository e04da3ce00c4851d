package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversepdf/internal/apperr"
	"conversepdf/internal/logger"
	"conversepdf/models"
)

const defaultQdrantPort = 6334

type QdrantConfig struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334. https enables TLS.
	URL       string
	APIKey    string
	Timeout   time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// qdrantAPI is the part of *qdrant.Client the store uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantStore talks to Qdrant over gRPC.
type QdrantStore struct {
	api       qdrantAPI
	timeout   time.Duration
	batchSize int
	logger    *slog.Logger

	mu     sync.RWMutex
	schema schema
}

// NewQdrantStore creates the gRPC client. The connection is established lazily.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 useTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, apperr.E(apperr.KindVectorStore, "qdrant.connect", err)
	}
	return newQdrantStore(client, cfg), nil
}

func newQdrantStore(api qdrantAPI, cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 256
	}
	return &QdrantStore{
		api:       api,
		timeout:   timeout,
		batchSize: batch,
		logger:    logger.Or(cfg.Logger),
	}
}

func parseQdrantURL(raw string) (string, int, bool, error) {
	const op = "qdrant.config"
	if raw == "" {
		return "localhost", defaultQdrantPort, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", 0, false, apperr.Errorf(apperr.KindInvalidConfiguration, op, "invalid QDRANT_URL %q", raw)
	}
	port := defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, apperr.Errorf(apperr.KindInvalidConfiguration, op, "invalid QDRANT_URL port %q", p)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func (s *QdrantStore) Close() error {
	return s.api.Close()
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case Dot:
		return qdrant.Distance_Dot
	case Euclid:
		return qdrant.Distance_Euclid
	}
	return qdrant.Distance_Cosine
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	const op = "qdrant.ensure_collection"
	if err := validateSchema(op, name, dim, distance); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.api.CollectionExists(ctx, name)
	if err != nil {
		return qdrantError(op, name, err)
	}
	if !exists {
		err := s.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrantDistance(distance),
			}),
		})
		if err == nil {
			s.logger.Info("created qdrant collection", "collection", name, "dimension", dim, "distance", distance)
			return s.bind(op, name, dim, distance, dim)
		}
		if status.Code(err) != codes.AlreadyExists {
			return qdrantError(op, name, err)
		}
		// Created concurrently by another process; validate it below.
	}

	info, err := s.api.GetCollectionInfo(ctx, name)
	if err != nil {
		return qdrantError(op, name, err)
	}
	existing := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	return s.bind(op, name, dim, distance, existing)
}

func (s *QdrantStore) bind(op, name string, dim int, distance Distance, existing int) error {
	if existing != dim {
		return errDimension(op, name, existing, dim)
	}
	s.mu.Lock()
	s.schema = schema{name: name, dim: dim, distance: distance}
	s.mu.Unlock()
	s.logger.Debug("bound qdrant collection", "schema", describe(s.schema))
	return nil
}

func (s *QdrantStore) current() schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

func (s *QdrantStore) Upsert(ctx context.Context, points []models.IndexedPoint) error {
	const op = "qdrant.upsert"
	sc := s.current()
	if err := checkPoints(op, sc, points); err != nil {
		return err
	}

	for start := 0; start < len(points); start += s.batchSize {
		end := min(start+s.batchSize, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: map[string]*qdrant.Value{
					models.PayloadSource: qdrant.NewValueString(p.Payload.Source),
					models.PayloadText:   qdrant.NewValueString(p.Payload.Text),
				},
			})
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.api.Upsert(callCtx, &qdrant.UpsertPoints{
			CollectionName: sc.name,
			Wait:           qdrant.PtrOf(true),
			Points:         batch,
		})
		cancel()
		if err != nil {
			return qdrantError(op, sc.name, err)
		}
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchHit, error) {
	const op = "qdrant.search"
	sc := s.current()
	if err := checkQuery(op, sc, vector, topK); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: sc.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qdrantError(op, sc.name, err)
	}

	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		payload := r.GetPayload()
		hits = append(hits, models.SearchHit{
			ID:       pointID(r.GetId()),
			Score:    r.GetScore(),
			Text:     payload[models.PayloadText].GetStringValue(),
			SourceID: payload[models.PayloadSource].GetStringValue(),
		})
	}
	return hits, nil
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// qdrantError maps gRPC status codes to error kinds. A missing collection
// is a schema mismatch; overload and transport failures are retryable.
func qdrantError(op, collection string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return apperr.E(apperr.KindVectorStore, op, err)
	}

	switch status.Code(err) {
	case codes.NotFound:
		return apperr.Errorf(apperr.KindSchemaMismatch, op, "collection %q does not exist", collection)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated:
		return apperr.E(apperr.KindInvalidArgument, op, err)
	case codes.Canceled:
		return err
	}
	return apperr.E(apperr.KindVectorStore, op, fmt.Errorf("collection %q: %w", collection, err))
}
