package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/speaker-transcription/internal/config"
	"github.com/codebuildervaibhav/speaker-transcription/internal/events"
	"github.com/codebuildervaibhav/speaker-transcription/internal/handlers"
	"github.com/codebuildervaibhav/speaker-transcription/internal/logging"
	"github.com/codebuildervaibhav/speaker-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-transcription/internal/queue"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/telemetry"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("server exited with error", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, metricsHandler, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warnw("telemetry shutdown failed", "error", err)
		}
	}()

	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.Storage.AudioDir, cfg.Storage.TurnsDir, cfg.Storage.TranscriptDir); err != nil {
		return fmt.Errorf("failed to create storage directories: %w", err)
	}

	log.Infow("initializing components",
		"diarization", cfg.Diarization.Mode, "transcription", cfg.Transcription.Mode,
		"model", cfg.Transcription.Model, "prober", cfg.Media.Prober)

	models, err := transcription.NewModels(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize models: %w", err)
	}
	defer models.Close()

	store := storage.NewLocalStorage(cfg.Storage.AudioDir, cfg.Storage.TurnsDir, cfg.Storage.TranscriptDir)

	var (
		index  queue.RunIndex
		runs   handlers.RunLister
		mirror queue.Mirror
		pub    events.Publisher = events.Nop{}
	)

	if cfg.Storage.Database != "" {
		db, err := storage.NewMetadataDB(ctx, cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		index, runs = db, db
	}

	if cfg.GoogleDrive.Enabled {
		drive, err := storage.NewDriveClient(ctx, cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
		if err != nil {
			log.Warnw("google drive not available, transcripts are saved locally only", "error", err)
		} else {
			mirror = drive
			log.Infow("google drive integration enabled", "folder", cfg.GoogleDrive.FolderName)
		}
	}

	if cfg.Events.NATSURL != "" {
		nc, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log)
		if err != nil {
			log.Warnw("job events disabled", "error", err)
		} else {
			defer nc.Close()
			pub = nc
		}
	}

	p, err := pipeline.New(models, store, pipeline.Timeouts{
		Media:         config.Timeout(cfg.Media.TimeoutSeconds),
		Diarization:   config.Timeout(cfg.Diarization.TimeoutSeconds),
		Transcription: config.Timeout(cfg.Transcription.TimeoutSeconds),
	}, pub, log)
	if err != nil {
		return err
	}

	workerPool := queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize, p, mirror, index, pub, log)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	scheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
		workerPool.Jobs(),
		log,
	)
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxFileSizeMB * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	syncWait := config.Timeout(cfg.Server.SyncWaitSeconds)
	handlers.Register(app, handlers.Routes{
		Upload:      handlers.NewUploadHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB, syncWait, log),
		GDrive:      handlers.NewGDriveHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB, syncWait, log),
		Stream:      handlers.NewStreamHandler(workerPool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB, syncWait, log),
		Jobs:        handlers.NewJobsHandler(workerPool.Jobs()),
		Transcripts: handlers.NewTranscriptsHandler(store, runs),
		Metrics:     metricsHandler,
	})

	go func() {
		<-ctx.Done()
		log.Infow("shutting down gracefully")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Warnw("http shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Infow("server starting", "addr", addr,
		"endpoints", []string{"POST /upload", "POST /gdrive", "GET /ws/stream", "GET /jobs/:id", "GET /transcripts", "GET /transcripts/:name", "GET /transcripts/:name/text", "GET /metrics", "GET /health"})

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
