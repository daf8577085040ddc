package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/speaker-transcription/internal/events"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/telemetry"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Stage names used in events, spans and metrics.
const (
	StageNormalize  = "normalize"
	StageValidate   = "validate"
	StageDiarize    = "diarize"
	StageTranscribe = "transcribe"
	StageAlign      = "align"
	StagePersist    = "persist"
)

// ArtifactStore is the subset of storage.LocalStorage the pipeline writes to.
type ArtifactStore interface {
	AudioPath(base string) string
	SaveAudio(base, src string) (string, error)
	SaveTurns(base string, turns []types.SpeakerTurn) (string, error)
	LoadTurns(base string) ([]types.SpeakerTurn, error)
	SaveTranscript(base string, segments []types.TranscriptSegment) (string, error)
}

var _ ArtifactStore = (*storage.LocalStorage)(nil)

// Timeouts bound each external call. Zero means no deadline beyond the
// caller's context.
type Timeouts struct {
	Media         time.Duration
	Diarization   time.Duration
	Transcription time.Duration
}

// Request describes one recording to process.
type Request struct {
	JobID     string
	InputPath string
	// BaseName keys the artifacts; derived from InputPath when empty.
	BaseName string
	// RemoveInput deletes InputPath when the run ends, whatever the outcome.
	RemoveInput bool
}

// Pipeline runs normalize, validate, diarize and transcribe in parallel,
// align, and persist.
type Pipeline struct {
	models    *transcription.Models
	store     ArtifactStore
	timeouts  Timeouts
	publisher events.Publisher
	metrics   *telemetry.PipelineMetrics
	tracer    trace.Tracer
	logger    *zap.SugaredLogger
	clock     func() time.Time
}

// New wires a pipeline around the shared models handle.
func New(models *transcription.Models, store ArtifactStore, timeouts Timeouts, publisher events.Publisher, logger *zap.SugaredLogger) (*Pipeline, error) {
	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		models:    models,
		store:     store,
		timeouts:  timeouts,
		publisher: publisher,
		metrics:   metrics,
		tracer:    otel.Tracer(telemetry.MeterName),
		logger:    logger,
		clock:     time.Now,
	}, nil
}

// Run processes req end to end. Stage failures are returned as
// *transcription.Error. Once the audio passed validation, a failed
// collaborator still yields a partial result holding the spec, whatever
// turns were computed and the artifacts written so far. A failure to persist
// artifacts does not fail the run; it is reported in Result.Warnings.
func (p *Pipeline) Run(ctx context.Context, req Request) (*types.TranscriptionResult, error) {
	if req.RemoveInput {
		defer os.Remove(req.InputPath)
	}
	if req.BaseName == "" {
		req.BaseName = storage.SanitizeBaseName(req.InputPath)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job_id", req.JobID),
		attribute.String("base_name", req.BaseName),
	))
	defer span.End()

	start := p.clock()
	result := &types.TranscriptionResult{JobID: req.JobID, BaseName: req.BaseName}

	wavPath, spec, err := p.prepare(ctx, req)
	if err != nil {
		return nil, p.fail(span, req, err)
	}
	defer os.Remove(wavPath)
	result.Spec = spec

	if path, err := p.store.SaveAudio(req.BaseName, wavPath); err != nil {
		p.warn(result, req, "audio", err)
	} else {
		result.Artifacts.AudioPath = path
	}

	var (
		turns      []types.SpeakerTurn
		words      []types.WordToken
		turnsErr   error
		diarizeErr error
		asrErr     error
	)
	// Both collaborators run on ctx; one failing must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		diarizeErr = p.stage(ctx, req, StageDiarize, func(ctx context.Context) error {
			ctx, cancel := withTimeout(ctx, p.timeouts.Diarization)
			defer cancel()
			var err error
			turns, err = p.models.Diarizer.Diarize(ctx, wavPath)
			if err != nil {
				return transcription.Wrap(transcription.DiarizationFailed, err)
			}
			result.Artifacts.TurnsPath, turnsErr = p.store.SaveTurns(req.BaseName, turns)
			return nil
		})
		return nil
	})
	g.Go(func() error {
		asrErr = p.stage(ctx, req, StageTranscribe, func(ctx context.Context) error {
			ctx, cancel := withTimeout(ctx, p.timeouts.Transcription)
			defer cancel()
			var err error
			words, err = p.models.Transcriber.Transcribe(ctx, wavPath)
			return transcription.Wrap(transcription.TranscriptionFailed, err)
		})
		return nil
	})
	_ = g.Wait()
	if turnsErr != nil {
		p.warn(result, req, "turns", turnsErr)
	}
	result.Turns = turns
	if err := firstError(diarizeErr, asrErr); err != nil {
		result.Duration = duration(spec, turns, words)
		result.ProcessedAt = p.clock().UTC()
		return result, p.fail(span, req, err)
	}

	var stats transcription.AlignStats
	_ = p.stage(ctx, req, StageAlign, func(ctx context.Context) error {
		result.Segments, stats = transcription.AlignWithStats(turns, words)
		p.metrics.RecordDropped(ctx, stats.WordsDropped)
		return nil
	})
	result.WordCount = len(words)
	result.Duration = duration(spec, turns, words)

	_ = p.stage(ctx, req, StagePersist, func(ctx context.Context) error {
		path, err := p.store.SaveTranscript(req.BaseName, result.Segments)
		if err != nil {
			p.warn(result, req, "transcript", err)
			return nil
		}
		result.Artifacts.TranscriptPath = path
		return nil
	})

	result.ProcessedAt = p.clock().UTC()
	p.logger.Infow("pipeline completed",
		"job_id", req.JobID,
		"base_name", req.BaseName,
		"turns", stats.Turns,
		"words", stats.Words,
		"segments", stats.Segments,
		"words_dropped", stats.WordsDropped,
		"warnings", len(result.Warnings),
		"elapsed", p.clock().Sub(start).String(),
	)
	return result, nil
}

// Diarize normalizes and validates the input, then stores its canonical WAV
// and diarization turns without transcribing.
func (p *Pipeline) Diarize(ctx context.Context, req Request) ([]types.SpeakerTurn, types.Artifacts, error) {
	if req.RemoveInput {
		defer os.Remove(req.InputPath)
	}
	if req.BaseName == "" {
		req.BaseName = storage.SanitizeBaseName(req.InputPath)
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.diarize")
	defer span.End()

	var artifacts types.Artifacts
	wavPath, _, err := p.prepare(ctx, req)
	if err != nil {
		return nil, artifacts, p.fail(span, req, err)
	}
	defer os.Remove(wavPath)

	var turns []types.SpeakerTurn
	err = p.stage(ctx, req, StageDiarize, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, p.timeouts.Diarization)
		defer cancel()
		var err error
		turns, err = p.models.Diarizer.Diarize(ctx, wavPath)
		return transcription.Wrap(transcription.DiarizationFailed, err)
	})
	if err != nil {
		return nil, artifacts, p.fail(span, req, err)
	}

	if artifacts.AudioPath, err = p.store.SaveAudio(req.BaseName, wavPath); err != nil {
		return turns, artifacts, transcription.NewPersistenceError(err)
	}
	if artifacts.TurnsPath, err = p.store.SaveTurns(req.BaseName, turns); err != nil {
		return turns, artifacts, transcription.NewPersistenceError(err)
	}
	return turns, artifacts, nil
}

// TranscribeStored transcribes the canonical WAV kept for base, aligns it
// with the stored turns and writes the transcript.
func (p *Pipeline) TranscribeStored(ctx context.Context, base string) ([]types.TranscriptSegment, string, error) {
	req := Request{JobID: base, BaseName: base}
	ctx, span := p.tracer.Start(ctx, "pipeline.transcribe_stored")
	defer span.End()

	turns, err := p.store.LoadTurns(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("no stored turns for %q, run diarize first: %w", base, err)
		}
		return nil, "", p.fail(span, req, transcription.Wrap(transcription.PersistenceFailed, err))
	}

	var words []types.WordToken
	err = p.stage(ctx, req, StageTranscribe, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, p.timeouts.Transcription)
		defer cancel()
		var err error
		words, err = p.models.Transcriber.Transcribe(ctx, p.store.AudioPath(base))
		return transcription.Wrap(transcription.TranscriptionFailed, err)
	})
	if err != nil {
		return nil, "", p.fail(span, req, err)
	}

	segments, stats := transcription.AlignWithStats(turns, words)
	p.metrics.RecordDropped(ctx, stats.WordsDropped)

	path, err := p.store.SaveTranscript(base, segments)
	if err != nil {
		return segments, "", transcription.NewPersistenceError(err)
	}
	return segments, path, nil
}

// prepare runs normalization and the validation gate. Only a file that
// passes validation is returned.
func (p *Pipeline) prepare(ctx context.Context, req Request) (string, types.AudioStreamSpec, error) {
	var wavPath string
	err := p.stage(ctx, req, StageNormalize, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, p.timeouts.Media)
		defer cancel()
		var err error
		wavPath, err = p.models.Normalizer.Normalize(ctx, req.InputPath)
		return transcription.Wrap(transcription.ConversionFailed, err)
	})
	if err != nil {
		return "", types.AudioStreamSpec{}, err
	}

	var spec types.AudioStreamSpec
	err = p.stage(ctx, req, StageValidate, func(ctx context.Context) error {
		ctx, cancel := withTimeout(ctx, p.timeouts.Media)
		defer cancel()
		observed, passes, err := p.models.Validator.Validate(ctx, wavPath)
		if err != nil {
			return err
		}
		if !passes {
			return transcription.NewValidationError(observed)
		}
		spec = observed
		return nil
	})
	if err != nil {
		os.Remove(wavPath)
		return "", types.AudioStreamSpec{}, err
	}
	return wavPath, spec, nil
}

// stage wraps fn with a span, stage events, a duration metric and logging.
func (p *Pipeline) stage(ctx context.Context, req Request, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	p.publish(req, name, events.StateRunning, nil)
	start := p.clock()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, name, p.clock().Sub(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(transcription.KindOf(err)))
		p.publish(req, name, events.StateFailed, err)
		return err
	}
	p.publish(req, name, events.StateCompleted, nil)
	return nil
}

func (p *Pipeline) fail(span trace.Span, req Request, err error) error {
	kind := string(transcription.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	span.SetStatus(codes.Error, kind)
	p.metrics.RecordFailure(context.Background(), kind)
	if errors.Is(err, context.Canceled) {
		p.logger.Warnw("pipeline canceled", "job_id", req.JobID, "base_name", req.BaseName)
	} else {
		p.logger.Errorw("pipeline failed", "job_id", req.JobID, "base_name", req.BaseName, "kind", kind, "timeout", transcription.IsTimeout(err), "error", err)
	}
	return err
}

func (p *Pipeline) warn(result *types.TranscriptionResult, req Request, artifact string, err error) {
	perr := transcription.NewPersistenceError(fmt.Errorf("save %s: %w", artifact, err))
	result.Warnings = append(result.Warnings, perr.Error())
	p.metrics.RecordFailure(context.Background(), string(transcription.PersistenceFailed))
	p.logger.Warnw("failed to persist artifact", "job_id", req.JobID, "artifact", artifact, "error", err)
}

func (p *Pipeline) publish(req Request, stage, state string, err error) {
	e := events.Event{
		JobID:     req.JobID,
		BaseName:  req.BaseName,
		Stage:     stage,
		State:     state,
		Timestamp: p.clock().UTC(),
	}
	if err != nil {
		e.Kind = string(transcription.KindOf(err))
		e.Detail = err.Error()
	}
	p.publisher.Publish(e)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// duration prefers the probed length and falls back to the latest timestamp seen.
func duration(spec types.AudioStreamSpec, turns []types.SpeakerTurn, words []types.WordToken) float64 {
	if spec.DurationSeconds > 0 {
		return spec.DurationSeconds
	}
	var end float64
	for _, t := range turns {
		end = max(end, t.End)
	}
	for _, w := range words {
		end = max(end, w.End)
	}
	return end
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
