package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

const driveDownloadURL = "https://drive.google.com/uc"

// GDriveHandler ingests a publicly shared Google Drive file.
type GDriveHandler struct {
	submitter
	tempDir     string
	maxBytes    int64
	client      *http.Client
	downloadURL string
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int, syncWait time.Duration, logger *zap.SugaredLogger) *GDriveHandler {
	return &GDriveHandler{
		submitter:   newSubmitter(workerPool, syncWait, logger),
		tempDir:     tempDir,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		client:      &http.Client{Timeout: 10 * time.Minute},
		downloadURL: driveDownloadURL,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Async bool   `json:"async"`
}

// Handle downloads the linked file and runs it through the pipeline like an upload.
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.URL == "" {
		return badRequest(c, "url is required")
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return badRequest(c, "invalid Google Drive URL")
	}
	if req.Name == "" {
		req.Name = "gdrive_" + fileID
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, "gdrive_"+jobID)

	h.logger.Infow("downloading from google drive", "job_id", jobID, "file_id", fileID)
	if err := h.download(c.UserContext(), fileID, tempPath); err != nil {
		h.logger.Warnw("google drive download failed", "job_id", jobID, "file_id", fileID, "error", err)
		removeFile(tempPath)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"ok":     false,
			"error":  "download_failed",
			"detail": err.Error(),
		})
	}

	job := queue.NewJob(jobID, storage.SanitizeBaseName(req.Name), types.SourceGDrive, tempPath)
	return h.submit(c, job, req.Async)
}

func (h *GDriveHandler) download(ctx context.Context, fileID, dest string) error {
	u := h.downloadURL + "?" + url.Values{"export": {"download"}, "id": {fileID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("file not accessible (status %d), it may be private or missing", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	body := io.Reader(resp.Body)
	if h.maxBytes > 0 {
		body = io.LimitReader(resp.Body, h.maxBytes+1)
	}
	n, err := io.Copy(out, body)
	if err != nil {
		return err
	}
	if h.maxBytes > 0 && n > h.maxBytes {
		return fmt.Errorf("file larger than %d bytes", h.maxBytes)
	}
	if n == 0 {
		return fmt.Errorf("empty download")
	}
	return nil
}

var (
	driveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveBareID   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// extractGDriveFileID extracts the file ID from the usual share link
// shapes, or accepts a bare ID.
func extractGDriveFileID(link string) string {
	for _, re := range []*regexp.Regexp{driveFilePath, driveIDParam, driveBareID} {
		if m := re.FindStringSubmatch(link); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
