package models

import (
	"time"
)

// IngestionRecord tracks the lifecycle of one document's ingestion run
type IngestionRecord struct {
	SourceID          string     `bson:"_id" json:"source_id"`
	DocumentReference string     `bson:"document_reference" json:"document_reference"`
	Status            string     `bson:"status" json:"status"` // pending, processing, completed, failed
	TaskID            string     `bson:"task_id,omitempty" json:"task_id,omitempty"`
	ChunkCount        int        `bson:"chunk_count" json:"chunk_count"`
	ErrorKind         string     `bson:"error_kind,omitempty" json:"error_kind,omitempty"`
	ErrorMessage      string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Attempts          int        `bson:"attempts" json:"attempts"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt       *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// UploadResponse represents the response after a document is accepted for ingestion
type UploadResponse struct {
	SourceID string `json:"source_id"`
	Filename string `json:"filename,omitempty"`
	Status   string `json:"status"`
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	Message  string `json:"message"`
}

// Ingestion status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
