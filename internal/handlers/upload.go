package handlers

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	submitter
	tempDir   string
	maxSizeMB int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int, syncWait time.Duration, logger *zap.SugaredLogger) *UploadHandler {
	return &UploadHandler{
		submitter: newSubmitter(workerPool, syncWait, logger),
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
	}
}

// Handle accepts a multipart upload in the "audio" (or "file") field. The
// request waits for the transcript unless async is set.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := formFile(c, "audio", "file")
	if err != nil {
		return badRequest(c, "no audio file uploaded")
	}

	if h.maxSizeMB > 0 && file.Size > int64(h.maxSizeMB)*1024*1024 {
		return badRequest(c, fmt.Sprintf("file too large (max %dMB)", h.maxSizeMB))
	}

	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = file.Filename
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, "upload_"+jobID+transcription.TempExt(file.Filename))
	if err := c.SaveFile(file, tempPath); err != nil {
		h.logger.Errorw("failed to save uploaded file", "job_id", jobID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":     false,
			"error":  "upload_failed",
			"detail": "failed to save file",
		})
	}

	job := queue.NewJob(jobID, storage.SanitizeBaseName(name), types.SourceUpload, tempPath)
	return h.submit(c, job, parseBool(c.FormValue("async")))
}

func formFile(c *fiber.Ctx, fields ...string) (*multipart.FileHeader, error) {
	var err error
	for _, field := range fields {
		var file *multipart.FileHeader
		if file, err = c.FormFile(field); err == nil {
			return file, nil
		}
	}
	return nil, err
}
