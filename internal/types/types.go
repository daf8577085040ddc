package types

import (
	"strconv"
	"strings"
	"time"
)

// Job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Source type constants
const (
	SourceUpload = "upload"
	SourceStream = "stream"
	SourceGDrive = "gdrive"
	SourceLocal  = "local"
)

// Canonical audio contract shared by the normalizer, the validator and both models.
const (
	CanonicalChannels     = 1
	CanonicalSampleRateHz = 16000
	CanonicalCodec        = "pcm_s16le"
	CanonicalSampleFormat = "s16"
)

// AudioStreamSpec describes the first audio stream of a file as reported by a prober.
type AudioStreamSpec struct {
	Codec           string  `json:"codec_name"`
	Channels        int     `json:"channels"`
	SampleRateHz    int     `json:"sample_rate"`
	SampleFormat    string  `json:"sample_fmt,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`
}

// CanonicalSpec is the only format accepted by the diarization and ASR models.
var CanonicalSpec = AudioStreamSpec{
	Codec:        CanonicalCodec,
	Channels:     CanonicalChannels,
	SampleRateHz: CanonicalSampleRateHz,
	SampleFormat: CanonicalSampleFormat,
}

// signed 16-bit PCM codec names as ffprobe reports them
var pcm16Codecs = map[string]bool{
	"pcm_s16le": true,
	"pcm_s16":   true,
	"pcm_s16be": true,
}

// Matches reports whether the spec satisfies the canonical contract.
func (s AudioStreamSpec) Matches() bool {
	return pcm16Codecs[strings.ToLower(s.Codec)] &&
		s.Channels == CanonicalChannels &&
		s.SampleRateHz == CanonicalSampleRateHz
}

// Fields renders the spec the way ffprobe prints it, for error payloads.
func (s AudioStreamSpec) Fields() map[string]string {
	fields := map[string]string{
		"codec_name":  s.Codec,
		"channels":    strconv.Itoa(s.Channels),
		"sample_rate": strconv.Itoa(s.SampleRateHz),
	}
	if s.SampleFormat != "" {
		fields["sample_fmt"] = s.SampleFormat
	}
	if s.DurationSeconds > 0 {
		fields["duration"] = strconv.FormatFloat(s.DurationSeconds, 'f', -1, 64)
	}
	return fields
}

// SpeakerTurn is one diarized interval.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// WordToken is a single recognized word. Text keeps the whitespace the
// recognizer emitted around it.
type WordToken struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Midpoint is the instant used to attribute the word to a speaker turn.
func (w WordToken) Midpoint() float64 {
	return (w.Start + w.End) / 2
}

// TranscriptSegment is a speaker turn together with the words spoken in it.
type TranscriptSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// Artifacts lists where a run's outputs were written.
type Artifacts struct {
	AudioPath      string `json:"saved_wav,omitempty"`
	TurnsPath      string `json:"segments_json,omitempty"`
	TranscriptPath string `json:"transcript_json,omitempty"`
	DriveURL       string `json:"gdrive_url,omitempty"`
}

// TranscriptionResult is the outcome of one pipeline run.
type TranscriptionResult struct {
	JobID       string              `json:"job_id"`
	BaseName    string              `json:"base_name"`
	Spec        AudioStreamSpec     `json:"spec"`
	Turns       []SpeakerTurn       `json:"turns"`
	WordCount   int                 `json:"word_count"`
	Segments    []TranscriptSegment `json:"segments"`
	Duration    float64             `json:"duration_seconds"`
	Artifacts   Artifacts           `json:"artifacts"`
	Warnings    []string            `json:"warnings,omitempty"`
	ProcessedAt time.Time           `json:"processed_at"`
}
