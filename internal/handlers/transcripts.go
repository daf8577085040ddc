package handlers

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-transcription/internal/output"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// TranscriptStore is the read side of the artifact store.
type TranscriptStore interface {
	ListTranscripts() ([]string, error)
	LoadTranscript(base string) ([]types.TranscriptSegment, error)
}

// RunLister lists indexed runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

var baseNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

// TranscriptsHandler serves stored transcripts.
type TranscriptsHandler struct {
	store TranscriptStore
	runs  RunLister
}

// NewTranscriptsHandler creates the handler. runs may be nil, in which case
// the listing falls back to the transcript store.
func NewTranscriptsHandler(store TranscriptStore, runs RunLister) *TranscriptsHandler {
	return &TranscriptsHandler{store: store, runs: runs}
}

// List handles GET /transcripts
func (h *TranscriptsHandler) List(c *fiber.Ctx) error {
	if h.runs != nil {
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		runs, err := h.runs.ListRuns(c.UserContext(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal_error", "detail": err.Error()})
		}
		return c.JSON(fiber.Map{"ok": true, "runs": runs})
	}

	names, err := h.store.ListTranscripts()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal_error", "detail": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "transcripts": names})
}

// Get handles GET /transcripts/:name
func (h *TranscriptsHandler) Get(c *fiber.Ctx) error {
	name, segments, err := h.load(c)
	if err != nil {
		return err
	}
	if segments == nil {
		return nil
	}
	return c.JSON(fiber.Map{"ok": true, "base_name": name, "segments": segments})
}

// Text handles GET /transcripts/:name/text. ?format=md renders markdown.
func (h *TranscriptsHandler) Text(c *fiber.Ctx) error {
	name, segments, err := h.load(c)
	if err != nil {
		return err
	}
	if segments == nil {
		return nil
	}

	switch c.Query("format") {
	case "md", "markdown":
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.SendString(output.RenderMarkdown(output.Metadata{
			Title:     name,
			Generated: time.Now().UTC().Format(time.RFC3339),
		}, segments))
	default:
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(output.RenderText(segments))
	}
}

// load writes the error response itself and returns nil segments when the
// transcript cannot be served.
func (h *TranscriptsHandler) load(c *fiber.Ctx) (string, []types.TranscriptSegment, error) {
	name := c.Params("name")
	if !baseNamePattern.MatchString(name) {
		return name, nil, badRequest(c, "invalid transcript name")
	}
	segments, err := h.store.LoadTranscript(name)
	if errors.Is(err, os.ErrNotExist) {
		return name, nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false, "error": "not_found", "detail": "transcript not found"})
	}
	if err != nil {
		return name, nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal_error", "detail": err.Error()})
	}
	if segments == nil {
		segments = []types.TranscriptSegment{}
	}
	return name, segments, nil
}
