package transcription

import (
	"fmt"
	"net/http"

	"github.com/codebuildervaibhav/speaker-transcription/internal/config"
)

// Models is the process-wide handle to the diarization and ASR
// collaborators. It is built once at startup and shared by every request;
// both adapters are safe for concurrent use.
type Models struct {
	Normalizer  Normalizer
	Validator   *Validator
	Diarizer    Diarizer
	Transcriber Transcriber

	clients []*http.Client
}

// NewModels wires the collaborators selected by cfg.
func NewModels(cfg config.Config) (*Models, error) {
	m := &Models{
		Normalizer: NewFFmpegNormalizer(cfg.Media.FFmpegPath, cfg.Storage.TempDir),
	}

	switch cfg.Media.Prober {
	case "wav":
		m.Validator = NewValidator(WAVHeaderProber{})
	default:
		m.Validator = NewValidator(NewFFProbe(cfg.Media.FFprobePath))
	}

	switch cfg.Diarization.Mode {
	case "http":
		d := NewHTTPDiarizer(cfg.Diarization.URL, config.Timeout(cfg.Diarization.TimeoutSeconds))
		m.clients = append(m.clients, d.client)
		m.Diarizer = d
	case "exec":
		d, err := NewExecDiarizer(cfg.Diarization.Command)
		if err != nil {
			return nil, fmt.Errorf("diarization: %w", err)
		}
		m.Diarizer = d
	default:
		return nil, fmt.Errorf("unknown diarization mode %q", cfg.Diarization.Mode)
	}

	opts := WhisperOptions{
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		Device:      cfg.Transcription.Device,
		ComputeType: cfg.Transcription.ComputeType,
		VADFilter:   cfg.Transcription.VADFilter,
	}
	switch cfg.Transcription.Mode {
	case "http":
		t := NewHTTPTranscriber(cfg.Transcription.URL, opts, config.Timeout(cfg.Transcription.TimeoutSeconds))
		m.clients = append(m.clients, t.client)
		m.Transcriber = t
	case "exec":
		t, err := NewExecTranscriber(cfg.Transcription.Command, opts)
		if err != nil {
			return nil, fmt.Errorf("transcription: %w", err)
		}
		m.Transcriber = t
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Transcription.Mode)
	}

	return m, nil
}

// Close releases idle connections held by HTTP collaborators.
func (m *Models) Close() {
	for _, c := range m.clients {
		c.CloseIdleConnections()
	}
}
