package handlers

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

const defaultSyncWait = time.Hour

// submitter enqueues ingested files and answers the request, either right
// away with the job id or once the job has finished.
type submitter struct {
	workerPool *queue.WorkerPool
	syncWait   time.Duration
	logger     *zap.SugaredLogger
}

func newSubmitter(workerPool *queue.WorkerPool, syncWait time.Duration, logger *zap.SugaredLogger) submitter {
	if syncWait <= 0 {
		syncWait = defaultSyncWait
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return submitter{workerPool: workerPool, syncWait: syncWait, logger: logger}
}

func (s submitter) submit(c *fiber.Ctx, job *queue.Job, async bool) error {
	if err := s.workerPool.EnqueueJob(job); err != nil {
		s.logger.Warnw("job rejected", "job_id", job.ID, "error", err)
		removeFile(job.FilePath)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ok":     false,
			"error":  "queue_unavailable",
			"detail": err.Error(),
		})
	}

	if async {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"ok":        true,
			"job_id":    job.ID,
			"base_name": job.BaseName,
			"status":    types.StatusQueued,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.syncWait)
	defer cancel()
	result, err := job.Wait(ctx)
	if err != nil && !finished(job) {
		// still running; the caller can poll /jobs/:id
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"ok":        true,
			"job_id":    job.ID,
			"base_name": job.BaseName,
			"status":    job.Snapshot().Status,
		})
	}
	if err != nil {
		return writeError(c, job.ID, result, err)
	}
	return writeResult(c, result)
}

func finished(job *queue.Job) bool {
	select {
	case <-job.Done():
		return true
	default:
		return false
	}
}

func writeResult(c *fiber.Ctx, result *types.TranscriptionResult) error {
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return c.JSON(fiber.Map{
		"ok":               true,
		"job_id":           result.JobID,
		"base_name":        result.BaseName,
		"spec":             result.Spec,
		"ffprobe":          result.Spec.Fields(),
		"validation":       fiber.Map{"passes": true},
		"turns":            result.Turns,
		"segments":         result.Segments,
		"word_count":       result.WordCount,
		"duration_seconds": result.Duration,
		"artifacts":        result.Artifacts,
		"warnings":         warnings,
	})
}

// writeError renders a pipeline failure with the status its kind maps to.
// A partial result, when the run got past validation, is echoed alongside.
func writeError(c *fiber.Ctx, jobID string, partial *types.TranscriptionResult, err error) error {
	code := string(transcription.KindOf(err))
	if code == "" {
		code = "internal_error"
	}
	body := fiber.Map{
		"ok":     false,
		"job_id": jobID,
		"error":  code,
		"detail": err.Error(),
	}

	var pe *transcription.Error
	if errors.As(err, &pe) {
		if pe.Detail != "" {
			body["detail"] = pe.Detail
		}
		if pe.Observed != nil {
			body["ffprobe"] = pe.Observed.Fields()
			body["validation"] = fiber.Map{"passes": false}
		}
		if pe.Timeout {
			body["timeout"] = true
		}
	}
	if partial != nil {
		body["base_name"] = partial.BaseName
		body["ffprobe"] = partial.Spec.Fields()
		body["validation"] = fiber.Map{"passes": true}
		body["turns"] = partial.Turns
		body["artifacts"] = partial.Artifacts
	}
	return c.Status(transcription.HTTPStatus(err)).JSON(body)
}

func badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"ok":     false,
		"error":  "bad_request",
		"detail": detail,
	})
}

func removeFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// parseBool accepts the usual form spellings of a flag.
func parseBool(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}
	return false
}
