package handlers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// StreamHandler handles WebSocket audio streaming
type StreamHandler struct {
	workerPool *queue.WorkerPool
	tempDir    string
	maxBytes   int
	syncWait   time.Duration
	logger     *zap.SugaredLogger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(workerPool *queue.WorkerPool, tempDir string, maxSizeMB int, syncWait time.Duration, logger *zap.SugaredLogger) *StreamHandler {
	if syncWait <= 0 {
		syncWait = defaultSyncWait
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamHandler{
		workerPool: workerPool,
		tempDir:    tempDir,
		maxBytes:   maxSizeMB * 1024 * 1024,
		syncWait:   syncWait,
		logger:     logger,
	}
}

// Handle buffers binary frames until a text "END" frame. Any other text
// frame names the recording. The client receives the queued job, then its
// final status.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer bytes.Buffer
		name   string
		jobID  = uuid.New().String()
	)

	h.logger.Infow("websocket connection established", "job_id", jobID)

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			h.logger.Warnw("websocket read error", "job_id", jobID, "error", err)
			return
		}

		if messageType == websocket.TextMessage {
			msg := strings.TrimSpace(string(message))
			if msg == "END" {
				break
			}
			if msg != "" && len(msg) < 200 {
				name = msg
			}
			continue
		}

		if messageType == websocket.BinaryMessage {
			if h.maxBytes > 0 && buffer.Len()+len(message) > h.maxBytes {
				_ = c.WriteJSON(map[string]any{"ok": false, "error": "bad_request", "detail": "stream too large"})
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		_ = c.WriteJSON(map[string]any{"ok": false, "error": "bad_request", "detail": "no audio data received"})
		return
	}
	if name == "" {
		name = "stream_recording"
	}

	tempPath := filepath.Join(h.tempDir, "stream_"+jobID+".webm")
	if err := os.WriteFile(tempPath, buffer.Bytes(), 0644); err != nil {
		h.logger.Errorw("failed to save stream buffer", "job_id", jobID, "error", err)
		_ = c.WriteJSON(map[string]any{"ok": false, "error": "upload_failed", "detail": "failed to save stream"})
		return
	}
	h.logger.Infow("stream saved", "job_id", jobID, "path", tempPath, "bytes", buffer.Len())

	job := queue.NewJob(jobID, storage.SanitizeBaseName(name), types.SourceStream, tempPath)
	if err := h.workerPool.EnqueueJob(job); err != nil {
		removeFile(tempPath)
		_ = c.WriteJSON(map[string]any{"ok": false, "error": "queue_unavailable", "detail": err.Error()})
		return
	}
	if err := c.WriteJSON(map[string]any{"ok": true, "job_id": jobID, "base_name": job.BaseName, "status": types.StatusQueued}); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.syncWait)
	defer cancel()
	if _, err := job.Wait(ctx); err != nil && !finished(job) {
		return
	}
	_ = c.WriteJSON(job.Snapshot())
}
