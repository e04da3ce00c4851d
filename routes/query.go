package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"conversepdf/internal/logger"
	"conversepdf/internal/queue"
	"conversepdf/models"
	"conversepdf/utils"
)

var waitPollInterval = 500 * time.Millisecond

// HandleQuery validates and enqueues a question. With ?wait=true it blocks
// until the answer is ready or QUERY_WAIT_TIMEOUT passes.
func HandleQuery(api API) gin.HandlerFunc {
	log := logger.Or(api.Logger)
	return func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}
		if _, err := req.Resolve(api.Config.DefaultTopK, api.Config.MaxTopK); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		task, err := queue.NewQueryTask(req, api.Tasks)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create query task", nil)
			return
		}
		info, err := api.Queue.EnqueueContext(c.Request.Context(), task)
		if err != nil {
			log.Error("failed to enqueue query", "error", err)
			utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_error", "Failed to enqueue query", nil)
			return
		}

		accepted := gin.H{"task_id": info.ID, "queue": info.Queue, "status": "queued"}
		if c.Query("wait") != "true" {
			c.JSON(http.StatusAccepted, accepted)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), api.Config.QueryWaitTimeout)
		defer cancel()

		done, err := queue.WaitForResult(ctx, api.Inspector, info.Queue, info.ID, waitPollInterval)
		switch {
		case err == nil:
			var answer models.Answer
			if err := json.Unmarshal(done.Result, &answer); err != nil {
				utils.RespondWithInternalError(c, "Failed to decode answer", nil)
				return
			}
			c.JSON(http.StatusOK, answer)
		case errors.Is(err, queue.ErrTaskFailed):
			utils.RespondWithError(c, http.StatusBadGateway, "run_failed", "Query run failed",
				gin.H{"task_id": info.ID, "last_error": done.LastErr})
		case errors.Is(err, context.DeadlineExceeded):
			if done != nil {
				accepted["status"] = done.State.String()
			}
			c.JSON(http.StatusAccepted, accepted)
		default:
			log.Error("failed to poll query run", "task_id", info.ID, "error", err)
			utils.RespondWithInternalError(c, "Failed to read query status", nil)
		}
	}
}
