package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"conversepdf/internal/config"
	"conversepdf/internal/queue"
	"conversepdf/models"
)

// Registry is the ingestion status store read and seeded by the handlers.
type Registry interface {
	MarkPending(ctx context.Context, sourceID, reference, taskID string) error
	Get(ctx context.Context, sourceID string) (*models.IngestionRecord, error)
	List(ctx context.Context, limit int) ([]models.IngestionRecord, error)
}

// API holds the collaborators shared by the handlers.
type API struct {
	Config    *config.Config
	Queue     queue.Enqueuer
	Inspector queue.Inspector
	Registry  Registry
	Tasks     queue.TaskOptions
	Logger    *slog.Logger
}

func SetupRAGRoutes(router *gin.Engine, api API) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/documents/upload", HandleDocumentUpload(api))
		v1.POST("/ingest", HandleIngest(api))
		v1.GET("/documents", HandleListDocuments(api.Registry))
		v1.GET("/documents/:source_id", HandleGetDocument(api.Registry))

		v1.POST("/query", HandleQuery(api))
		v1.GET("/runs/:queue/:id", HandleRunStatus(api.Inspector))
	}
}
