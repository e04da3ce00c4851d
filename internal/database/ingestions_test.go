package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conversepdf/internal/apperr"
	"conversepdf/models"
)

func TestUpdateDocuments(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	pending := pendingUpdate("docs/a.pdf", "task-1", now)["$set"].(bson.M)
	if pending["status"] != models.StatusPending || pending["task_id"] != "task-1" {
		t.Errorf("pending update = %v", pending)
	}

	processing := processingUpdate("docs/a.pdf", "task-1", now)
	if processing["$inc"].(bson.M)["attempts"] != 1 {
		t.Errorf("processing must count attempts: %v", processing)
	}

	completed := completedUpdate(7, now)["$set"].(bson.M)
	if completed["chunk_count"] != 7 || completed["completed_at"] != now {
		t.Errorf("completed update = %v", completed)
	}

	failed := failedUpdate(apperr.Errorf(apperr.KindDocumentRead, "load", "bad pdf"), now)["$set"].(bson.M)
	if failed["error_kind"] != string(apperr.KindDocumentRead) || failed["error_message"] != "load: document_read: bad pdf" {
		t.Errorf("failed update = %v", failed)
	}
}

func TestNopRecorder(t *testing.T) {
	var r NopRecorder
	ctx := context.Background()
	if err := r.MarkFailed(ctx, "a", errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
	list, err := r.List(ctx, 10)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("List = %v, %v", list, err)
	}
}

func TestIngestionRegistryLifecycle(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect(ctx)

	db := client.Database("conversepdf_test")
	defer db.Drop(ctx)
	r := NewIngestionRegistry(db)

	if err := r.MarkPending(ctx, "a.pdf", "/uploads/a.pdf", "task-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkProcessing(ctx, "a.pdf", "/uploads/a.pdf", "task-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkCompleted(ctx, "a.pdf", 12); err != nil {
		t.Fatal(err)
	}

	rec, err := r.Get(ctx, "a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusCompleted || rec.ChunkCount != 12 || rec.Attempts != 1 || rec.CompletedAt == nil {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v", err)
	}
	list, err := r.List(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
}
