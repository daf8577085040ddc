package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

type runnerFunc func(ctx context.Context, req pipeline.Request) (*types.TranscriptionResult, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) (*types.TranscriptionResult, error) {
	return f(ctx, req)
}

type fakeMirror struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (m *fakeMirror) Upload(_ context.Context, result *types.TranscriptionResult) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("quota exceeded")
	}
	return "https://drive.google.com/file/d/" + result.BaseName + "/view", nil
}

type memoryIndex struct {
	mu   sync.Mutex
	runs map[string]storage.Run
}

func (m *memoryIndex) SaveRun(_ context.Context, run storage.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]storage.Run)
	}
	m.runs[run.JobID] = run
	return nil
}

func (m *memoryIndex) get(id string) (storage.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

func okRunner() Runner {
	return runnerFunc(func(_ context.Context, req pipeline.Request) (*types.TranscriptionResult, error) {
		return &types.TranscriptionResult{
			JobID:     req.JobID,
			BaseName:  req.BaseName,
			Turns:     []types.SpeakerTurn{{Speaker: "A", End: 1}, {Speaker: "B", Start: 1, End: 2}, {Speaker: "A", Start: 2, End: 3}},
			Segments:  []types.TranscriptSegment{{Speaker: "A", End: 1, Text: "hi"}},
			WordCount: 1,
			Artifacts: types.Artifacts{TranscriptPath: "output/" + req.BaseName + ".json"},
		}, nil
	})
}

func waitJob(t *testing.T, job *Job) (*types.TranscriptionResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := job.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("job did not finish")
	}
	return result, err
}

func TestWorkerPoolCompletesJob(t *testing.T) {
	index := &memoryIndex{}
	mirror := &fakeMirror{failures: 1}
	wp := NewWorkerPool(2, 4, okRunner(), mirror, index, nil, nil)
	wp.backoff = func(int) time.Duration { return time.Millisecond }
	wp.Start(context.Background())
	defer wp.Stop()

	job := NewJob("job-1", "meeting", types.SourceUpload, "")
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}

	result, err := waitJob(t, job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Artifacts.DriveURL == "" {
		t.Fatal("expected drive url after retry")
	}

	snap := job.Snapshot()
	if snap.Status != types.StatusCompleted || snap.ErrorKind != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got, ok := wp.Jobs().Get("job-1"); !ok || got != job {
		t.Fatal("job missing from registry")
	}

	run, ok := index.get("job-1")
	if !ok {
		t.Fatal("run not indexed")
	}
	if run.Status != types.StatusCompleted || run.SpeakerCount != 2 || run.SegmentCount != 1 || run.GDriveURL == "" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestWorkerPoolRecordsFailure(t *testing.T) {
	index := &memoryIndex{}
	runner := runnerFunc(func(context.Context, pipeline.Request) (*types.TranscriptionResult, error) {
		return nil, transcription.NewValidationError(types.AudioStreamSpec{Codec: "pcm_s16le", Channels: 2, SampleRateHz: 16000})
	})
	wp := NewWorkerPool(1, 1, runner, nil, index, nil, nil)
	wp.Start(context.Background())
	defer wp.Stop()

	job := NewJob("job-2", "stereo", types.SourceUpload, "")
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := waitJob(t, job); transcription.KindOf(err) != transcription.ValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}

	snap := job.Snapshot()
	if snap.Status != types.StatusFailed || snap.ErrorKind != "validation_failed" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	run, _ := index.get("job-2")
	if run.Status != types.StatusFailed || run.ErrorKind != "validation_failed" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestWorkerPoolKeepsPartialResult(t *testing.T) {
	index := &memoryIndex{}
	runner := runnerFunc(func(_ context.Context, req pipeline.Request) (*types.TranscriptionResult, error) {
		return &types.TranscriptionResult{
			JobID:     req.JobID,
			BaseName:  req.BaseName,
			Turns:     []types.SpeakerTurn{{Speaker: "A", End: 1}, {Speaker: "B", Start: 1, End: 2}},
			Artifacts: types.Artifacts{TurnsPath: "diarization/" + req.BaseName + ".json"},
		}, transcription.Wrap(transcription.TranscriptionFailed, errors.New("asr 500"))
	})
	wp := NewWorkerPool(1, 1, runner, &fakeMirror{}, index, nil, nil)
	wp.Start(context.Background())
	defer wp.Stop()

	job := NewJob("job-4", "call", types.SourceUpload, "")
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	result, err := waitJob(t, job)
	if transcription.KindOf(err) != transcription.TranscriptionFailed {
		t.Fatalf("expected transcription failure, got %v", err)
	}
	if result == nil || len(result.Turns) != 2 || result.Artifacts.DriveURL != "" {
		t.Fatalf("unexpected partial result %+v", result)
	}

	snap := job.Snapshot()
	if snap.Status != types.StatusFailed || snap.Result == nil || snap.Result.Artifacts.TurnsPath != "diarization/call.json" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	run, _ := index.get("job-4")
	if run.ErrorKind != "transcription_failed" || run.SpeakerCount != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	input := filepath.Join(t.TempDir(), "upload.wav")
	if err := os.WriteFile(input, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	runner := runnerFunc(func(context.Context, pipeline.Request) (*types.TranscriptionResult, error) {
		panic("boom")
	})
	wp := NewWorkerPool(1, 1, runner, nil, nil, nil, nil)
	wp.Start(context.Background())
	defer wp.Stop()

	job := NewJob("job-3", "x", types.SourceUpload, input)
	if err := wp.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := waitJob(t, job); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("expected temp input removed after panic")
	}
}

func TestEnqueueQueueFullAndStopped(t *testing.T) {
	block := make(chan struct{})
	runner := runnerFunc(func(context.Context, pipeline.Request) (*types.TranscriptionResult, error) {
		<-block
		return &types.TranscriptionResult{}, nil
	})
	// no workers started, so the single slot stays occupied
	wp := NewWorkerPool(1, 1, runner, nil, nil, nil, nil)

	if err := wp.EnqueueJob(NewJob("a", "a", types.SourceUpload, "")); err != nil {
		t.Fatal(err)
	}
	if err := wp.EnqueueJob(NewJob("b", "b", types.SourceUpload, "")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, ok := wp.Jobs().Get("b"); ok {
		t.Fatal("rejected job must not stay registered")
	}

	close(block)
	wp.Start(context.Background())
	wp.Stop()
	if err := wp.EnqueueJob(NewJob("c", "c", types.SourceUpload, "")); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry()
	done := NewJob("done", "d", types.SourceUpload, "")
	done.finish(&types.TranscriptionResult{}, nil)
	running := NewJob("running", "r", types.SourceUpload, "")
	r.Add(done)
	r.Add(running)

	if n := r.Prune(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expected one pruned job, got %d", n)
	}
	if _, ok := r.Get("running"); !ok {
		t.Fatal("unfinished jobs must be kept")
	}
}
