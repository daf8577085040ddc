package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
)

// Version is reported by /health.
const Version = "1.0.0"

// Routes bundles the handlers mounted on the app. Nil entries are skipped.
type Routes struct {
	Upload      *UploadHandler
	GDrive      *GDriveHandler
	Stream      *StreamHandler
	Jobs        *JobsHandler
	Transcripts *TranscriptsHandler
	Metrics     http.Handler
}

// Register mounts the API on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": Version,
		})
	})

	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}
	if r.Upload != nil {
		app.Post("/upload", r.Upload.Handle)
	}
	if r.GDrive != nil {
		app.Post("/gdrive", r.GDrive.Handle)
	}
	if r.Stream != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/stream", websocket.New(r.Stream.Handle))
	}
	if r.Jobs != nil {
		app.Get("/jobs/:id", r.Jobs.Get)
	}
	if r.Transcripts != nil {
		app.Get("/transcripts", r.Transcripts.List)
		app.Get("/transcripts/:name", r.Transcripts.Get)
		app.Get("/transcripts/:name/text", r.Transcripts.Text)
	}
}
