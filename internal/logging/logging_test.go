package logging

import (
	"testing"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/speaker-transcription/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"WARNING": zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"":        zap.NewAtomicLevelAt(zap.InfoLevel),
		"verbose": zap.NewAtomicLevelAt(zap.InfoLevel),
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want.Level() {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want.Level())
		}
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New(config.LogConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !logger.Desugar().Core().Enabled(zap.DebugLevel) {
			t.Fatalf("%s: expected debug enabled", format)
		}
		_ = logger.Sync()
	}
}
