package routes

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"conversepdf/internal/logger"
	"conversepdf/internal/queue"
	"conversepdf/models"
	"conversepdf/utils"
)

// HandleDocumentUpload stores an uploaded PDF and enqueues its ingestion.
// The file name becomes the source id, so re-uploading a file replaces its chunks.
func HandleDocumentUpload(api API) gin.HandlerFunc {
	log := logger.Or(api.Logger)
	return func(c *gin.Context) {
		maxSize := api.Config.MaxFileSize
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+1<<20)

		file, header, err := c.Request.FormFile("file")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				"File size exceeds maximum limit", gin.H{"max_bytes": maxSize})
			return
		}
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file", "No PDF file provided", nil)
			return
		}
		defer file.Close()

		if header.Size > maxSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				"File size exceeds maximum limit", gin.H{"max_bytes": maxSize})
			return
		}

		name := filepath.Base(filepath.Clean("/" + header.Filename))
		if name == "/" || strings.ToLower(filepath.Ext(name)) != ".pdf" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file_type", "Only PDF files are allowed", nil)
			return
		}

		// Basic PDF header validation without loading whole file
		headerBuf := make([]byte, 4)
		if _, err := io.ReadFull(file, headerBuf); err != nil || string(headerBuf) != "%PDF" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_pdf", "File does not appear to be a valid PDF", nil)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		path, err := saveUpload(api.Config.FileStorageDir, name, file, maxSize)
		if err != nil {
			log.Error("failed to save upload", "filename", name, "error", err)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}

		enqueueIngest(c, api, models.IngestRequest{SourceID: name, DocumentReference: path}, name)
	}
}

// HandleIngest enqueues ingestion of a document the worker can read, or of inline text.
func HandleIngest(api API) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
			return
		}
		if err := req.Normalize(); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		enqueueIngest(c, api, req, "")
	}
}

func enqueueIngest(c *gin.Context, api API, req models.IngestRequest, filename string) {
	log := logger.Or(api.Logger)

	task, err := queue.NewIngestTask(req, api.Tasks)
	if err != nil {
		utils.RespondWithAppError(c, err)
		return
	}
	info, err := api.Queue.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		log.Error("failed to enqueue ingestion", "source_id", req.SourceID, "error", err)
		utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_error", "Failed to enqueue processing task", nil)
		return
	}

	if err := api.Registry.MarkPending(c.Request.Context(), req.SourceID, req.DocumentReference, info.ID); err != nil {
		log.Warn("failed to record pending ingestion", "source_id", req.SourceID, "error", err)
	}

	c.JSON(http.StatusAccepted, models.UploadResponse{
		SourceID: req.SourceID,
		Filename: filename,
		Status:   models.StatusPending,
		TaskID:   info.ID,
		Queue:    info.Queue,
		Message:  "Document accepted for ingestion",
	})
}

// saveUpload writes src to dir/name through a temporary file and returns the absolute path.
func saveUpload(dir, name string, src io.Reader, maxSize int64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(src, maxSize)); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dst, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}
