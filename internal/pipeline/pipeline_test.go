package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speaker-transcription/internal/events"
	"github.com/codebuildervaibhav/speaker-transcription/internal/storage"
	"github.com/codebuildervaibhav/speaker-transcription/internal/transcription"
	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

func writeWAV(t *testing.T, path string, sampleRate, channels int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, sampleRate*channels/10),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// copyNormalizer passes the input through unchanged so the fixture's format
// reaches the validator.
type copyNormalizer struct {
	dir string
}

func (n copyNormalizer) Normalize(_ context.Context, in string) (string, error) {
	src, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer src.Close()
	out := filepath.Join(n.dir, "normalized_"+uuid.NewString()+".wav")
	dst, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return out, err
}

type stubDiarizer struct {
	turns []types.SpeakerTurn
	err   error
	block bool
	delay time.Duration
	calls atomic.Int32
}

func (d *stubDiarizer) Diarize(ctx context.Context, _ string) ([]types.SpeakerTurn, error) {
	d.calls.Add(1)
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.turns, d.err
}

type stubTranscriber struct {
	words []types.WordToken
	err   error
	calls atomic.Int32
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string) ([]types.WordToken, error) {
	s.calls.Add(1)
	return s.words, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) states(stage string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e.State)
		}
	}
	return out
}

// failingStore fails transcript writes.
type failingStore struct {
	*storage.LocalStorage
}

func (failingStore) SaveTranscript(string, []types.TranscriptSegment) (string, error) {
	return "", errors.New("disk full")
}

type harness struct {
	pipeline    *Pipeline
	store       *storage.LocalStorage
	diarizer    *stubDiarizer
	transcriber *stubTranscriber
	publisher   *recordingPublisher
	tempDir     string
	inputDir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		store: storage.NewLocalStorage(
			filepath.Join(root, "audio"),
			filepath.Join(root, "diarization"),
			filepath.Join(root, "output"),
		),
		diarizer: &stubDiarizer{turns: []types.SpeakerTurn{
			{Speaker: "A", Start: 0, End: 1},
			{Speaker: "B", Start: 1, End: 2},
		}},
		transcriber: &stubTranscriber{words: []types.WordToken{
			{Text: " Hi", Start: 0.1, End: 0.3},
			{Text: " there", Start: 0.5, End: 0.9},
			{Text: " bye", Start: 1.2, End: 1.5},
		}},
		publisher: &recordingPublisher{},
		tempDir:   filepath.Join(root, "temp"),
		inputDir:  filepath.Join(root, "in"),
	}
	for _, dir := range []string{h.tempDir, h.inputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	h.pipeline = h.build(t, h.store, Timeouts{})
	return h
}

func (h *harness) build(t *testing.T, store ArtifactStore, timeouts Timeouts) *Pipeline {
	t.Helper()
	models := &transcription.Models{
		Normalizer:  copyNormalizer{dir: h.tempDir},
		Validator:   transcription.NewValidator(transcription.WAVHeaderProber{}),
		Diarizer:    h.diarizer,
		Transcriber: h.transcriber,
	}
	p, err := New(models, store, timeouts, h.publisher, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *harness) input(t *testing.T, name string, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(h.inputDir, name)
	writeWAV(t, path, sampleRate, channels)
	return path
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	in := h.input(t, "Team Call.wav", 16000, 1)

	result, err := h.pipeline.Run(context.Background(), Request{JobID: "job-1", InputPath: in, RemoveInput: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []types.TranscriptSegment{
		{Speaker: "A", Start: 0, End: 1, Text: "Hi there"},
		{Speaker: "B", Start: 1, End: 2, Text: "bye"},
	}
	if !reflect.DeepEqual(result.Segments, want) {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}
	if result.BaseName != "Team_Call" {
		t.Fatalf("unexpected base name %q", result.BaseName)
	}
	if result.WordCount != 3 || len(result.Turns) != 2 {
		t.Fatalf("unexpected counts: words=%d turns=%d", result.WordCount, len(result.Turns))
	}
	if !result.Spec.Matches() {
		t.Fatalf("expected canonical spec, got %+v", result.Spec)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", result.Warnings)
	}

	stored, err := h.store.LoadTranscript("Team_Call")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(stored, want) {
		t.Fatalf("stored transcript mismatch %+v", stored)
	}
	turns, err := h.store.LoadTurns("Team_Call")
	if err != nil || len(turns) != 2 {
		t.Fatalf("expected stored turns, got %v %v", turns, err)
	}
	if _, err := os.Stat(result.Artifacts.AudioPath); err != nil {
		t.Fatalf("expected canonical audio kept: %v", err)
	}

	if _, err := os.Stat(in); !os.IsNotExist(err) {
		t.Fatalf("expected input removed")
	}
	assertEmptyDir(t, h.tempDir)

	if got := h.publisher.states(StageAlign); !reflect.DeepEqual(got, []string{events.StateRunning, events.StateCompleted}) {
		t.Fatalf("unexpected align events %v", got)
	}
}

func TestValidationGate(t *testing.T) {
	cases := []struct {
		name       string
		sampleRate int
		channels   int
	}{
		{"stereo", 16000, 2},
		{"cd rate", 44100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			in := h.input(t, "clip.wav", tc.sampleRate, tc.channels)

			_, err := h.pipeline.Run(context.Background(), Request{JobID: "job", InputPath: in})
			if transcription.KindOf(err) != transcription.ValidationFailed {
				t.Fatalf("expected validation_failed, got %v", err)
			}
			var perr *transcription.Error
			if !errors.As(err, &perr) || perr.Observed == nil {
				t.Fatalf("expected observed spec on error")
			}
			if perr.Observed.Channels != tc.channels || perr.Observed.SampleRateHz != tc.sampleRate {
				t.Fatalf("unexpected observed spec %+v", perr.Observed)
			}
			if h.diarizer.calls.Load() != 0 || h.transcriber.calls.Load() != 0 {
				t.Fatal("collaborators must not run when validation fails")
			}
			if _, err := os.Stat(in); err != nil {
				t.Fatalf("input should be kept when RemoveInput is false: %v", err)
			}
			assertEmptyDir(t, h.tempDir)
		})
	}
}

func TestPersistenceFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	p := h.build(t, failingStore{h.store}, Timeouts{})
	in := h.input(t, "call.wav", 16000, 1)

	result, err := p.Run(context.Background(), Request{JobID: "job", InputPath: in})
	if err != nil {
		t.Fatalf("expected success despite persistence failure: %v", err)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected segments to be returned, got %+v", result.Segments)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], string(transcription.PersistenceFailed)) {
		t.Fatalf("expected persistence warning, got %v", result.Warnings)
	}
	if result.Artifacts.TranscriptPath != "" {
		t.Fatalf("transcript path should be empty, got %q", result.Artifacts.TranscriptPath)
	}
}

func TestDiarizationTimeout(t *testing.T) {
	h := newHarness(t)
	h.diarizer.block = true
	p := h.build(t, h.store, Timeouts{Diarization: 50 * time.Millisecond})
	in := h.input(t, "call.wav", 16000, 1)

	_, err := p.Run(context.Background(), Request{JobID: "job", InputPath: in})
	if transcription.KindOf(err) != transcription.DiarizationFailed {
		t.Fatalf("expected diarization_failed, got %v", err)
	}
	if !transcription.IsTimeout(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	assertEmptyDir(t, h.tempDir)
}

func TestTranscriptionFailureKeepsTurns(t *testing.T) {
	h := newHarness(t)
	// diarization outlives the failing recognizer and must not be cut short
	h.diarizer.delay = 200 * time.Millisecond
	h.transcriber.err = errors.New("asr 500")
	in := h.input(t, "call.wav", 16000, 1)

	result, err := h.pipeline.Run(context.Background(), Request{JobID: "job", InputPath: in})
	if transcription.KindOf(err) != transcription.TranscriptionFailed {
		t.Fatalf("expected transcription_failed, got %v", err)
	}
	if result == nil {
		t.Fatal("expected a partial result alongside the error")
	}
	if len(result.Turns) != 2 || !result.Spec.Matches() {
		t.Fatalf("unexpected partial result %+v", result)
	}
	if result.Artifacts.TurnsPath != h.store.TurnsPath("call") || result.Artifacts.AudioPath == "" {
		t.Fatalf("unexpected partial artifacts %+v", result.Artifacts)
	}
	if len(result.Segments) != 0 || result.Artifacts.TranscriptPath != "" {
		t.Fatalf("no transcript expected, got %+v", result)
	}

	turns, err := h.store.LoadTurns("call")
	if err != nil || len(turns) != 2 {
		t.Fatalf("expected turns to be persisted, got %v %v", turns, err)
	}
	if _, err := h.store.LoadTranscript("call"); err == nil {
		t.Fatal("no transcript should be written on failure")
	}
	if got := h.publisher.states(StageDiarize); !reflect.DeepEqual(got, []string{events.StateRunning, events.StateCompleted}) {
		t.Fatalf("unexpected diarize events %v", got)
	}
	if got := h.publisher.states(StageTranscribe); !reflect.DeepEqual(got, []string{events.StateRunning, events.StateFailed}) {
		t.Fatalf("unexpected transcribe events %v", got)
	}
	assertEmptyDir(t, h.tempDir)
}

func TestDiarizationFailureKeepsRecognizerRunning(t *testing.T) {
	h := newHarness(t)
	h.diarizer.err = errors.New("pyannote crashed")
	in := h.input(t, "call.wav", 16000, 1)

	result, err := h.pipeline.Run(context.Background(), Request{JobID: "job", InputPath: in})
	if transcription.KindOf(err) != transcription.DiarizationFailed {
		t.Fatalf("expected diarization_failed, got %v", err)
	}
	if result == nil || result.Artifacts.TurnsPath != "" || len(result.Turns) != 0 {
		t.Fatalf("unexpected partial result %+v", result)
	}
	if h.transcriber.calls.Load() != 1 {
		t.Fatal("the recognizer should have run to completion")
	}
	if got := h.publisher.states(StageTranscribe); !reflect.DeepEqual(got, []string{events.StateRunning, events.StateCompleted}) {
		t.Fatalf("unexpected transcribe events %v", got)
	}
}

func TestDiarizeThenTranscribeStored(t *testing.T) {
	h := newHarness(t)
	in := h.input(t, "standup.wav", 16000, 1)

	turns, artifacts, err := h.pipeline.Diarize(context.Background(), Request{InputPath: in})
	if err != nil {
		t.Fatalf("diarize: %v", err)
	}
	if len(turns) != 2 || artifacts.TurnsPath == "" || artifacts.AudioPath == "" {
		t.Fatalf("unexpected diarize output %v %+v", turns, artifacts)
	}
	if h.transcriber.calls.Load() != 0 {
		t.Fatal("diarize must not transcribe")
	}

	segments, path, err := h.pipeline.TranscribeStored(context.Background(), "standup")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(segments) != 2 || segments[0].Text != "Hi there" {
		t.Fatalf("unexpected segments %+v", segments)
	}
	if path != h.store.TranscriptPath("standup") {
		t.Fatalf("unexpected transcript path %q", path)
	}
}

func TestTranscribeStoredWithoutTurns(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.pipeline.TranscribeStored(context.Background(), "unknown")
	if transcription.KindOf(err) != transcription.PersistenceFailed {
		t.Fatalf("expected persistence_failed for missing turns, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) || !strings.Contains(err.Error(), "run diarize first") {
		t.Fatalf("expected a missing-artifact error, got %v", err)
	}
	if h.transcriber.calls.Load() != 0 {
		t.Fatal("the recognizer must not run without stored turns")
	}
}
