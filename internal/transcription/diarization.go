package transcription

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Diarizer answers "who spoke when" for a canonical WAV file.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]types.SpeakerTurn, error)
}

// rawTurn is the collaborator's wire format for one track.
type rawTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// diarizationReply accepts either a bare array or {"segments": [...]}.
type diarizationReply []rawTurn

func (r *diarizationReply) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Segments []rawTurn `json:"segments"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		*r = wrapped.Segments
		return nil
	}
	var turns []rawTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	*r = turns
	return nil
}

// round2 rounds to centiseconds so turn boundaries compare reproducibly.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// toTurns keeps collaborator order. Sorting is the aligner's job.
func toTurns(raw []rawTurn) []types.SpeakerTurn {
	turns := make([]types.SpeakerTurn, 0, len(raw))
	for _, r := range raw {
		turns = append(turns, types.SpeakerTurn{
			Speaker: r.Speaker,
			Start:   round2(r.Start),
			End:     round2(r.End),
		})
	}
	return turns
}

// ExecDiarizer runs a diarization helper (for example a pyannote script)
// that prints a JSON list of {speaker,start,end} on stdout.
type ExecDiarizer struct {
	cmd []string
}

// NewExecDiarizer parses command; "--audio <path>" is appended per call.
func NewExecDiarizer(command string) (*ExecDiarizer, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &ExecDiarizer{cmd: args}, nil
}

// Diarize runs the helper on audioPath.
func (d *ExecDiarizer) Diarize(ctx context.Context, audioPath string) ([]types.SpeakerTurn, error) {
	var reply diarizationReply
	if err := runJSONCommand(ctx, d.cmd, []string{"--audio", audioPath}, &reply); err != nil {
		return nil, newError(DiarizationFailed, err, "")
	}
	return toTurns(reply), nil
}

// HTTPDiarizer posts the WAV to a diarization service that keeps its model
// loaded between requests.
type HTTPDiarizer struct {
	url    string
	client *http.Client
}

// NewHTTPDiarizer targets baseURL + "/diarize".
func NewHTTPDiarizer(baseURL string, timeout time.Duration) *HTTPDiarizer {
	return &HTTPDiarizer{
		url:    strings.TrimRight(baseURL, "/") + "/diarize",
		client: &http.Client{Timeout: timeout},
	}
}

// Diarize uploads audioPath under the "audio" field.
func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) ([]types.SpeakerTurn, error) {
	var reply diarizationReply
	if err := postAudio(ctx, d.client, d.url, "audio", audioPath, nil, &reply); err != nil {
		return nil, newError(DiarizationFailed, err, "")
	}
	return toTurns(reply), nil
}
