package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conversepdf/internal/apperr"
	"conversepdf/internal/config"
	"conversepdf/models"
)

// ErrNotFound is returned by Get for an unknown source id.
var ErrNotFound = errors.New("ingestion record not found")

// IngestionRegistry records the status of every source's latest ingestion.
type IngestionRegistry struct {
	col *mongo.Collection
	now func() time.Time
}

func NewIngestionRegistry(db *mongo.Database) *IngestionRegistry {
	return &IngestionRegistry{
		col: db.Collection(config.IngestionsCollection),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IngestionRegistry) upsert(ctx context.Context, sourceID string, update bson.M) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": sourceID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update ingestion %s: %w", sourceID, err)
	}
	return nil
}

// MarkPending records that an ingestion for sourceID was enqueued.
func (r *IngestionRegistry) MarkPending(ctx context.Context, sourceID, reference, taskID string) error {
	return r.upsert(ctx, sourceID, pendingUpdate(reference, taskID, r.now()))
}

func (r *IngestionRegistry) MarkProcessing(ctx context.Context, sourceID, reference, taskID string) error {
	return r.upsert(ctx, sourceID, processingUpdate(reference, taskID, r.now()))
}

func (r *IngestionRegistry) MarkCompleted(ctx context.Context, sourceID string, chunks int) error {
	return r.upsert(ctx, sourceID, completedUpdate(chunks, r.now()))
}

func (r *IngestionRegistry) MarkFailed(ctx context.Context, sourceID string, cause error) error {
	return r.upsert(ctx, sourceID, failedUpdate(cause, r.now()))
}

func (r *IngestionRegistry) Get(ctx context.Context, sourceID string) (*models.IngestionRecord, error) {
	var rec models.IngestionRecord
	err := r.col.FindOne(ctx, bson.M{"_id": sourceID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns the most recently updated records first.
func (r *IngestionRegistry) List(ctx context.Context, limit int) ([]models.IngestionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	records := []models.IngestionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func pendingUpdate(reference, taskID string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"document_reference": reference,
			"status":             models.StatusPending,
			"task_id":            taskID,
			"attempts":           0,
			"updated_at":         now,
		},
		"$unset":       bson.M{"error_kind": "", "error_message": "", "completed_at": ""},
		"$setOnInsert": bson.M{"created_at": now, "chunk_count": 0},
	}
}

func processingUpdate(reference, taskID string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"document_reference": reference,
			"status":             models.StatusProcessing,
			"task_id":            taskID,
			"updated_at":         now,
		},
		"$inc":         bson.M{"attempts": 1},
		"$setOnInsert": bson.M{"created_at": now, "chunk_count": 0},
	}
}

func completedUpdate(chunks int, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"status":       models.StatusCompleted,
			"chunk_count":  chunks,
			"updated_at":   now,
			"completed_at": now,
		},
		"$unset":       bson.M{"error_kind": "", "error_message": ""},
		"$setOnInsert": bson.M{"created_at": now},
	}
}

func failedUpdate(cause error, now time.Time) bson.M {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return bson.M{
		"$set": bson.M{
			"status":        models.StatusFailed,
			"error_kind":    string(apperr.KindOf(cause)),
			"error_message": msg,
			"updated_at":    now,
		},
		"$setOnInsert": bson.M{"created_at": now, "chunk_count": 0},
	}
}

// NopRecorder discards status updates when no registry is configured.
type NopRecorder struct{}

func (NopRecorder) MarkPending(context.Context, string, string, string) error    { return nil }
func (NopRecorder) MarkProcessing(context.Context, string, string, string) error { return nil }
func (NopRecorder) MarkCompleted(context.Context, string, int) error             { return nil }
func (NopRecorder) MarkFailed(context.Context, string, error) error              { return nil }

func (NopRecorder) Get(context.Context, string) (*models.IngestionRecord, error) {
	return nil, ErrNotFound
}

func (NopRecorder) List(context.Context, int) ([]models.IngestionRecord, error) {
	return []models.IngestionRecord{}, nil
}
