package transcription

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Transcriber answers "what was said" for a canonical WAV file, with word
// level timestamps in chronological order.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]types.WordToken, error)
}

// WhisperOptions is passed to the ASR collaborator on every call.
type WhisperOptions struct {
	Model       string
	Language    string
	Device      string
	ComputeType string
	VADFilter   bool
}

// WhisperOutput matches the JSON emitted by the faster-whisper helper and
// the ASR service.
type WhisperOutput struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment is one utterance with its words.
type WhisperSegment struct {
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []WhisperWord `json:"words"`
}

// WhisperWord carries the word text with its original spacing.
type WhisperWord struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// FlattenWords concatenates the per-utterance word lists and drops tokens
// that carry no text.
func FlattenWords(out WhisperOutput) []types.WordToken {
	words := make([]types.WordToken, 0)
	for _, seg := range out.Segments {
		for _, w := range seg.Words {
			if strings.TrimSpace(w.Word) == "" {
				continue
			}
			words = append(words, types.WordToken{Text: w.Word, Start: w.Start, End: w.End})
		}
	}
	return words
}

// ExecTranscriber runs a faster-whisper helper that prints WhisperOutput.
type ExecTranscriber struct {
	cmd  []string
	opts WhisperOptions
}

// NewExecTranscriber parses command and fixes the model options.
func NewExecTranscriber(command string, opts WhisperOptions) (*ExecTranscriber, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &ExecTranscriber{cmd: args, opts: opts}, nil
}

func (t *ExecTranscriber) args(audioPath string) []string {
	args := []string{"--audio", audioPath, "--word-timestamps"}
	if t.opts.VADFilter {
		args = append(args, "--vad-filter")
	}
	if t.opts.Model != "" {
		args = append(args, "--model", t.opts.Model)
	}
	if t.opts.Language != "" {
		args = append(args, "--language", t.opts.Language)
	}
	if t.opts.Device != "" {
		args = append(args, "--device", t.opts.Device)
	}
	if t.opts.ComputeType != "" {
		args = append(args, "--compute-type", t.opts.ComputeType)
	}
	return args
}

// Transcribe runs the helper on audioPath.
func (t *ExecTranscriber) Transcribe(ctx context.Context, audioPath string) ([]types.WordToken, error) {
	var out WhisperOutput
	if err := runJSONCommand(ctx, t.cmd, t.args(audioPath), &out); err != nil {
		return nil, newError(TranscriptionFailed, err, "")
	}
	return FlattenWords(out), nil
}

// HTTPTranscriber posts the WAV to an ASR service.
type HTTPTranscriber struct {
	url    string
	opts   WhisperOptions
	client *http.Client
}

// NewHTTPTranscriber targets baseURL + "/transcribe".
func NewHTTPTranscriber(baseURL string, opts WhisperOptions, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    strings.TrimRight(baseURL, "/") + "/transcribe",
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads audioPath under the "file" field.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string) ([]types.WordToken, error) {
	fields := map[string]string{
		"word_timestamps": "true",
		"vad_filter":      strconv.FormatBool(t.opts.VADFilter),
	}
	if t.opts.Language != "" {
		fields["language"] = t.opts.Language
	}
	if t.opts.Model != "" {
		fields["model"] = t.opts.Model
	}

	var out WhisperOutput
	if err := postAudio(ctx, t.client, t.url, "file", audioPath, fields, &out); err != nil {
		return nil, newError(TranscriptionFailed, err, "")
	}
	return FlattenWords(out), nil
}
