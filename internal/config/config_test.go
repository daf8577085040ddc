package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.TurnsDir != "diarization" || cfg.Storage.TranscriptDir != "output" {
		t.Fatalf("unexpected default stores: %+v", cfg.Storage)
	}
	if cfg.Transcription.Language != "en" || !cfg.Transcription.VADFilter {
		t.Fatalf("expected english with vad filter, got %+v", cfg.Transcription)
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("config/config.yaml drifted from Default():\n got %+v\nwant %+v", cfg, want)
	}
}

func TestDefaultHelpersShipped(t *testing.T) {
	cfg := Default()
	for _, command := range []string{cfg.Diarization.Command, cfg.Transcription.Command} {
		fields := strings.Fields(command)
		script := fields[len(fields)-1]
		if _, err := os.Stat(filepath.Join("..", "..", script)); err != nil {
			t.Errorf("default command %q points at a missing helper: %v", command, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`server:
  port: 8081
diarization:
  mode: http
  url: http://localhost:9000
transcription:
  language: de
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Diarization.Mode != "http" || cfg.Diarization.URL != "http://localhost:9000" {
		t.Fatalf("unexpected diarization config: %+v", cfg.Diarization)
	}
	if cfg.Transcription.Language != "de" {
		t.Fatalf("expected language override, got %q", cfg.Transcription.Language)
	}
	if cfg.Transcription.Model != "base" {
		t.Fatalf("expected default model kept, got %q", cfg.Transcription.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRANSCRIBE_SERVER_PORT", "9090")
	t.Setenv("TRANSCRIBE_WORKERS_COUNT", "4")
	t.Setenv("TRANSCRIBE_STORAGE_TRANSCRIPT_DIR", "./transcripts")
	t.Setenv("TRANSCRIBE_MEDIA_PROBER", "wav")
	t.Setenv("TRANSCRIBE_TRANSCRIPTION_VAD_FILTER", "false")
	t.Setenv("TRANSCRIBE_DIARIZATION_TIMEOUT_SECONDS", "60")
	t.Setenv("TRANSCRIBE_EVENTS_NATS_URL", "nats://bus:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port override, got %d", cfg.Server.Port)
	}
	if cfg.Workers.Count != 4 {
		t.Fatalf("expected worker override, got %d", cfg.Workers.Count)
	}
	if cfg.Storage.TranscriptDir != "./transcripts" {
		t.Fatalf("expected transcript dir override")
	}
	if cfg.Media.Prober != "wav" {
		t.Fatalf("expected prober override")
	}
	if cfg.Transcription.VADFilter {
		t.Fatalf("expected vad filter disabled")
	}
	if cfg.Diarization.TimeoutSeconds != 60 {
		t.Fatalf("expected diarization timeout override")
	}
	if cfg.Events.NATSURL != "nats://bus:4222" {
		t.Fatalf("expected nats url override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port":            func(c *Config) { c.Server.Port = 0 },
		"workers":         func(c *Config) { c.Workers.Count = 0 },
		"prober":          func(c *Config) { c.Media.Prober = "mediainfo" },
		"diarization url": func(c *Config) { c.Diarization.Mode = "http"; c.Diarization.URL = "" },
		"asr mode":        func(c *Config) { c.Transcription.Mode = "grpc" },
		"otlp endpoint":   func(c *Config) { c.Telemetry.Traces = "otlp" },
		"log format":      func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestTimeout(t *testing.T) {
	if Timeout(0) != 0 {
		t.Fatal("expected zero timeout")
	}
	if Timeout(90) != 90*time.Second {
		t.Fatalf("unexpected timeout %v", Timeout(90))
	}
}
