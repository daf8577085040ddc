package queue

import (
	"context"
	"sync"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Job represents one pipeline run
type Job struct {
	ID         string
	BaseName   string
	SourceType string
	FilePath   string

	mu        sync.RWMutex
	status    string
	err       error
	result    *types.TranscriptionResult
	createdAt time.Time
	updatedAt time.Time
	done      chan struct{}
}

// NewJob creates a new job with default values
func NewJob(id, baseName, sourceType, filePath string) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		BaseName:   baseName,
		SourceType: sourceType,
		FilePath:   filePath,
		status:     types.StatusQueued,
		createdAt:  now,
		updatedAt:  now,
		done:       make(chan struct{}),
	}
}

func (j *Job) setStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.updatedAt = time.Now()
}

// finish records the outcome and releases waiters. Only the first call counts.
func (j *Job) finish(result *types.TranscriptionResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case <-j.done:
		return
	default:
	}
	j.result = result
	j.err = err
	if err != nil {
		j.status = types.StatusFailed
	} else {
		j.status = types.StatusCompleted
	}
	j.updatedAt = time.Now()
	close(j.done)
}

// Done is closed once the job completed or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*types.TranscriptionResult, error) {
	select {
	case <-j.done:
		j.mu.RLock()
		defer j.mu.RUnlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status is a point-in-time copy of a job for API responses.
type Status struct {
	ID         string                     `json:"job_id"`
	BaseName   string                     `json:"base_name"`
	SourceType string                     `json:"source_type"`
	Status     string                     `json:"status"`
	ErrorKind  string                     `json:"error,omitempty"`
	Detail     string                     `json:"detail,omitempty"`
	Result     *types.TranscriptionResult `json:"result,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Status{
		ID:         j.ID,
		BaseName:   j.BaseName,
		SourceType: j.SourceType,
		Status:     j.status,
		Result:     j.result,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
	}
	if j.err != nil {
		s.ErrorKind = string(transcription.KindOf(j.err))
		s.Detail = j.err.Error()
	}
	return s
}

// Registry is the in-memory job table. Finished jobs are kept until Prune.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Prune drops finished jobs last updated before cutoff and returns how many
// were removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		select {
		case <-job.done:
		default:
			continue
		}
		job.mu.RLock()
		stale := job.updatedAt.Before(cutoff)
		job.mu.RUnlock()
		if stale {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
