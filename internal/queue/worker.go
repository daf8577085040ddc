package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/events"
	"github.com/codebuildervaibhav/speaker-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// ErrQueueFull is returned when the job buffer has no room.
var ErrQueueFull = errors.New("job queue is full")

// ErrPoolStopped is returned when enqueuing after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*types.TranscriptionResult, error)
}

// Mirror copies a finished transcript somewhere off-box.
type Mirror interface {
	Upload(ctx context.Context, result *types.TranscriptionResult) (string, error)
}

// RunIndex records run outcomes.
type RunIndex interface {
	SaveRun(ctx context.Context, run storage.Run) error
}

// WorkerPool manages a pool of workers processing transcription jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	runner      Runner
	mirror      Mirror
	index       RunIndex
	publisher   events.Publisher
	jobs        *Registry
	logger      *zap.SugaredLogger

	uploadAttempts int
	backoff        func(attempt int) time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. mirror and index may be nil.
func NewWorkerPool(workerCount, queueSize int, runner Runner, mirror Mirror, index RunIndex, publisher events.Publisher, logger *zap.SugaredLogger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WorkerPool{
		jobQueue:       make(chan *Job, queueSize),
		workerCount:    workerCount,
		runner:         runner,
		mirror:         mirror,
		index:          index,
		publisher:      publisher,
		jobs:           NewRegistry(),
		logger:         logger,
		uploadAttempts: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// Jobs exposes the job table.
func (wp *WorkerPool) Jobs() *Registry {
	return wp.jobs
}

// Start initializes all workers. Cancelling ctx aborts in-flight runs.
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	wp.mu.Lock()
	wp.cancel = cancel
	wp.mu.Unlock()

	wp.logger.Infow("starting worker pool", "workers", wp.workerCount, "queue_size", cap(wp.jobQueue))
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop closes the queue and waits for queued jobs to drain.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	if wp.cancel != nil {
		wp.cancel()
	}
}

// EnqueueJob registers the job and hands it to a worker without blocking.
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	wp.jobs.Add(job)
	select {
	case wp.jobQueue <- job:
	default:
		wp.jobs.Remove(job.ID)
		return ErrQueueFull
	}
	wp.publishJob(job, types.StatusQueued, nil)
	wp.logger.Infow("job enqueued", "job_id", job.ID, "source", job.SourceType, "base_name", job.BaseName)
	return nil
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.logger.Debugw("worker started", "worker", id)

	for job := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Errorw("worker panic", "worker", id, "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
					wp.cleanupTempFile(job.FilePath)
					err := fmt.Errorf("worker panic: %v", r)
					wp.record(ctx, job, nil, err)
					job.finish(nil, err)
				}
			}()

			wp.processJob(ctx, id, job)
		}()
	}
}

// processJob runs the pipeline, mirrors the transcript and indexes the run.
func (wp *WorkerPool) processJob(ctx context.Context, workerID int, job *Job) {
	wp.logger.Infow("processing job", "worker", workerID, "job_id", job.ID)
	job.setStatus(types.StatusProcessing)
	wp.publishJob(job, types.StatusProcessing, nil)

	result, err := wp.runner.Run(ctx, pipeline.Request{
		JobID:       job.ID,
		InputPath:   job.FilePath,
		BaseName:    job.BaseName,
		RemoveInput: true,
	})
	if err != nil {
		wp.logger.Errorw("job failed", "worker", workerID, "job_id", job.ID, "kind", transcription.KindOf(err), "error", err)
		wp.record(ctx, job, result, err)
		job.finish(result, err)
		return
	}

	if wp.mirror != nil && result.Artifacts.TranscriptPath != "" {
		if url, err := wp.upload(ctx, result); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("drive upload failed: %v", err))
			wp.logger.Warnw("drive upload failed, continuing with local artifacts only", "job_id", job.ID, "error", err)
		} else {
			result.Artifacts.DriveURL = url
		}
	}

	wp.record(ctx, job, result, nil)
	job.finish(result, nil)
	wp.logger.Infow("job completed", "worker", workerID, "job_id", job.ID,
		"segments", len(result.Segments), "transcript", result.Artifacts.TranscriptPath, "gdrive", result.Artifacts.DriveURL)
}

// upload retries the mirror with quadratic backoff.
func (wp *WorkerPool) upload(ctx context.Context, result *types.TranscriptionResult) (string, error) {
	var err error
	for attempt := 1; attempt <= wp.uploadAttempts; attempt++ {
		var url string
		url, err = wp.mirror.Upload(ctx, result)
		if err == nil {
			return url, nil
		}
		wp.logger.Warnw("drive upload attempt failed", "job_id", result.JobID, "attempt", attempt, "error", err)
		if attempt < wp.uploadAttempts {
			select {
			case <-time.After(wp.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", err
}

// record indexes the outcome and publishes the final job event.
func (wp *WorkerPool) record(ctx context.Context, job *Job, result *types.TranscriptionResult, err error) {
	status := types.StatusCompleted
	if err != nil {
		status = types.StatusFailed
	}
	wp.publishJob(job, status, err)

	if wp.index == nil {
		return
	}
	run := storage.Run{
		JobID:      job.ID,
		BaseName:   job.BaseName,
		SourceType: job.SourceType,
		Status:     status,
	}
	if err != nil {
		run.ErrorKind = string(transcription.KindOf(err))
	}
	if result != nil {
		run.BaseName = result.BaseName
		run.TranscriptPath = result.Artifacts.TranscriptPath
		run.GDriveURL = result.Artifacts.DriveURL
		run.Duration = result.Duration
		run.WordCount = result.WordCount
		run.SegmentCount = len(result.Segments)
		run.SpeakerCount = speakerCount(result.Turns)
	}
	if err := wp.index.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		wp.logger.Errorw("failed to index run", "job_id", job.ID, "error", err)
	}
}

func (wp *WorkerPool) publishJob(job *Job, status string, err error) {
	e := events.Event{
		JobID:    job.ID,
		BaseName: job.BaseName,
		Stage:    "job",
		State:    strings.ToLower(status),
	}
	if err != nil {
		e.Kind = string(transcription.KindOf(err))
		e.Detail = err.Error()
	}
	wp.publisher.Publish(e)
}

func speakerCount(turns []types.SpeakerTurn) int {
	seen := make(map[string]struct{}, len(turns))
	for _, t := range turns {
		seen[t.Speaker] = struct{}{}
	}
	return len(seen)
}

// cleanupTempFile removes a temporary file
func (wp *WorkerPool) cleanupTempFile(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		wp.logger.Warnw("failed to cleanup temp file", "path", filePath, "error", err)
	}
}
