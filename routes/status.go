package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"conversepdf/internal/database"
	"conversepdf/internal/queue"
	"conversepdf/utils"
)

// HandleRunStatus reports the state of an ingest or query run.
func HandleRunStatus(insp queue.Inspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := insp.GetTaskInfo(c.Param("queue"), c.Param("id"))
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				utils.RespondWithNotFound(c, "Run not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to read run status", nil)
			return
		}
		c.JSON(http.StatusOK, queue.StatusOf(info))
	}
}

// HandleListDocuments lists ingestion records, most recently updated first.
func HandleListDocuments(reg Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
			limit = l
		}

		records, err := reg.List(c.Request.Context(), limit)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to list documents", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": records, "count": len(records)})
	}
}

func HandleGetDocument(reg Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := reg.Get(c.Request.Context(), c.Param("source_id"))
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to retrieve document status", nil)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
