package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
)

// JobsHandler reports on queued and recently finished jobs.
type JobsHandler struct {
	jobs *queue.Registry
}

func NewJobsHandler(jobs *queue.Registry) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Get handles GET /jobs/:id
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, ok := h.jobs.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"ok":     false,
			"error":  "not_found",
			"detail": "job not found",
		})
	}
	return c.JSON(job.Snapshot())
}
