package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`

		// SyncWaitSeconds bounds how long a synchronous upload waits for its job.
		SyncWaitSeconds int `yaml:"sync_wait_seconds"`
	} `yaml:"server"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Storage StorageConfig `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`

	Media         MediaConfig         `yaml:"media"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	GoogleDrive   GoogleDriveConfig   `yaml:"google_drive"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Events        EventsConfig        `yaml:"events"`
	Log           LogConfig           `yaml:"log"`
}

// StorageConfig names the logical artifact stores.
type StorageConfig struct {
	TempDir       string `yaml:"temp_dir"`
	AudioDir      string `yaml:"audio_dir"`
	TurnsDir      string `yaml:"turns_dir"`
	TranscriptDir string `yaml:"transcript_dir"`
	Database      string `yaml:"database"`
}

// MediaConfig controls normalization and probing.
type MediaConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	FFprobePath    string `yaml:"ffprobe_path"`
	Prober         string `yaml:"prober"` // ffprobe | wav
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DiarizationConfig selects the diarization collaborator.
type DiarizationConfig struct {
	Mode           string `yaml:"mode"` // exec | http
	Command        string `yaml:"command"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TranscriptionConfig selects the ASR collaborator and its options.
type TranscriptionConfig struct {
	Mode           string `yaml:"mode"` // exec | http
	Command        string `yaml:"command"`
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	Device         string `yaml:"device"`
	ComputeType    string `yaml:"compute_type"`
	VADFilter      bool   `yaml:"vad_filter"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GoogleDriveConfig enables mirroring transcripts to Drive.
type GoogleDriveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderName      string `yaml:"folder_name"`
}

// TelemetryConfig controls tracing and metrics.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Traces       string `yaml:"traces"` // none | stdout | otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Metrics      bool   `yaml:"metrics"`
}

// EventsConfig points the job event publisher at NATS. Empty URL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Default returns a configuration that runs locally with exec collaborators.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 5000
	cfg.Server.SyncWaitSeconds = 3600
	cfg.Workers.Count = 2
	cfg.Workers.QueueSize = 100
	cfg.Storage = StorageConfig{
		TempDir:       "temp",
		AudioDir:      "audio",
		TurnsDir:      "diarization",
		TranscriptDir: "output",
		Database:      "data/transcripts.db",
	}
	cfg.Cleanup.IntervalMinutes = 30
	cfg.Cleanup.MaxAgeHours = 6
	cfg.Limits.MaxFileSizeMB = 500
	cfg.Media = MediaConfig{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		Prober:         "ffprobe",
		TimeoutSeconds: 300,
	}
	cfg.Diarization = DiarizationConfig{
		Mode:           "exec",
		Command:        "python3 scripts/diarize_json.py",
		TimeoutSeconds: 1800,
	}
	cfg.Transcription = TranscriptionConfig{
		Mode:           "exec",
		Command:        "python3 scripts/whisper_words.py",
		Model:          "base",
		Language:       "en",
		Device:         "cpu",
		ComputeType:    "int8",
		VADFilter:      true,
		TimeoutSeconds: 1800,
	}
	cfg.GoogleDrive = GoogleDriveConfig{
		CredentialsFile: "config/credentials.json",
		TokenFile:       "config/token.json",
		FolderName:      "Transcripts",
	}
	cfg.Telemetry = TelemetryConfig{
		ServiceName: "speaker-transcription",
		Traces:      "none",
		Metrics:     true,
	}
	cfg.Events.SubjectPrefix = "transcription.job"
	cfg.Log = LogConfig{Level: "info", Format: "json"}
	return cfg
}

// Load reads path over the defaults, applies TRANSCRIBE_* environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timeout converts a seconds setting to a duration; zero means none.
func Timeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Server.Host, "TRANSCRIBE_SERVER_HOST")
	overrideInt(&cfg.Server.Port, "TRANSCRIBE_SERVER_PORT")
	overrideInt(&cfg.Server.SyncWaitSeconds, "TRANSCRIBE_SERVER_SYNC_WAIT_SECONDS")
	overrideInt(&cfg.Workers.Count, "TRANSCRIBE_WORKERS_COUNT")
	overrideInt(&cfg.Workers.QueueSize, "TRANSCRIBE_WORKERS_QUEUE_SIZE")
	overrideString(&cfg.Storage.TempDir, "TRANSCRIBE_STORAGE_TEMP_DIR")
	overrideString(&cfg.Storage.AudioDir, "TRANSCRIBE_STORAGE_AUDIO_DIR")
	overrideString(&cfg.Storage.TurnsDir, "TRANSCRIBE_STORAGE_TURNS_DIR")
	overrideString(&cfg.Storage.TranscriptDir, "TRANSCRIBE_STORAGE_TRANSCRIPT_DIR")
	overrideString(&cfg.Storage.Database, "TRANSCRIBE_STORAGE_DATABASE")
	overrideInt(&cfg.Cleanup.IntervalMinutes, "TRANSCRIBE_CLEANUP_INTERVAL_MINUTES")
	overrideInt(&cfg.Cleanup.MaxAgeHours, "TRANSCRIBE_CLEANUP_MAX_AGE_HOURS")
	overrideInt(&cfg.Limits.MaxFileSizeMB, "TRANSCRIBE_LIMITS_MAX_FILE_SIZE_MB")
	overrideString(&cfg.Media.FFmpegPath, "TRANSCRIBE_MEDIA_FFMPEG_PATH")
	overrideString(&cfg.Media.FFprobePath, "TRANSCRIBE_MEDIA_FFPROBE_PATH")
	overrideString(&cfg.Media.Prober, "TRANSCRIBE_MEDIA_PROBER")
	overrideInt(&cfg.Media.TimeoutSeconds, "TRANSCRIBE_MEDIA_TIMEOUT_SECONDS")
	overrideString(&cfg.Diarization.Mode, "TRANSCRIBE_DIARIZATION_MODE")
	overrideString(&cfg.Diarization.Command, "TRANSCRIBE_DIARIZATION_COMMAND")
	overrideString(&cfg.Diarization.URL, "TRANSCRIBE_DIARIZATION_URL")
	overrideInt(&cfg.Diarization.TimeoutSeconds, "TRANSCRIBE_DIARIZATION_TIMEOUT_SECONDS")
	overrideString(&cfg.Transcription.Mode, "TRANSCRIBE_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "TRANSCRIBE_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.URL, "TRANSCRIBE_TRANSCRIPTION_URL")
	overrideString(&cfg.Transcription.Model, "TRANSCRIBE_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.Language, "TRANSCRIBE_TRANSCRIPTION_LANGUAGE")
	overrideString(&cfg.Transcription.Device, "TRANSCRIBE_TRANSCRIPTION_DEVICE")
	overrideString(&cfg.Transcription.ComputeType, "TRANSCRIBE_TRANSCRIPTION_COMPUTE_TYPE")
	overrideBool(&cfg.Transcription.VADFilter, "TRANSCRIBE_TRANSCRIPTION_VAD_FILTER")
	overrideInt(&cfg.Transcription.TimeoutSeconds, "TRANSCRIBE_TRANSCRIPTION_TIMEOUT_SECONDS")
	overrideBool(&cfg.GoogleDrive.Enabled, "TRANSCRIBE_GOOGLE_DRIVE_ENABLED")
	overrideString(&cfg.GoogleDrive.CredentialsFile, "TRANSCRIBE_GOOGLE_DRIVE_CREDENTIALS_FILE")
	overrideString(&cfg.GoogleDrive.TokenFile, "TRANSCRIBE_GOOGLE_DRIVE_TOKEN_FILE")
	overrideString(&cfg.GoogleDrive.FolderName, "TRANSCRIBE_GOOGLE_DRIVE_FOLDER_NAME")
	overrideString(&cfg.Telemetry.ServiceName, "TRANSCRIBE_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.Traces, "TRANSCRIBE_TELEMETRY_TRACES")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Metrics, "TRANSCRIBE_TELEMETRY_METRICS")
	overrideString(&cfg.Events.NATSURL, "TRANSCRIBE_EVENTS_NATS_URL")
	overrideString(&cfg.Events.SubjectPrefix, "TRANSCRIBE_EVENTS_SUBJECT_PREFIX")
	overrideString(&cfg.Log.Level, "TRANSCRIBE_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "TRANSCRIBE_LOG_FORMAT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Workers.Count <= 0 {
		return errors.New("workers.count must be positive")
	}
	if cfg.Storage.TempDir == "" || cfg.Storage.AudioDir == "" || cfg.Storage.TurnsDir == "" || cfg.Storage.TranscriptDir == "" {
		return errors.New("storage directories must not be empty")
	}
	switch cfg.Media.Prober {
	case "ffprobe", "wav":
	default:
		return errors.New("media.prober must be one of ffprobe|wav")
	}
	switch cfg.Diarization.Mode {
	case "exec":
		if cfg.Diarization.Command == "" {
			return errors.New("diarization.command must be set when mode=exec")
		}
	case "http":
		if cfg.Diarization.URL == "" {
			return errors.New("diarization.url must be set when mode=http")
		}
	default:
		return errors.New("diarization.mode must be one of exec|http")
	}
	switch cfg.Transcription.Mode {
	case "exec":
		if cfg.Transcription.Command == "" {
			return errors.New("transcription.command must be set when mode=exec")
		}
	case "http":
		if cfg.Transcription.URL == "" {
			return errors.New("transcription.url must be set when mode=http")
		}
	default:
		return errors.New("transcription.mode must be one of exec|http")
	}
	switch cfg.Telemetry.Traces {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
		}
	default:
		return errors.New("telemetry.traces must be one of none|stdout|otlp")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return errors.New("log.format must be one of json|console")
	}
	return nil
}
