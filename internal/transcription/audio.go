package transcription

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Normalizer converts an arbitrary audio or video file into the canonical
// mono 16kHz 16-bit PCM WAV and returns the path of the new file.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// FFmpegNormalizer shells out to ffmpeg.
type FFmpegNormalizer struct {
	binary  string
	tempDir string
}

// NewFFmpegNormalizer writes normalized files into tempDir. An empty binary
// means "ffmpeg" from PATH.
func NewFFmpegNormalizer(binary, tempDir string) *FFmpegNormalizer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &FFmpegNormalizer{binary: binary, tempDir: tempDir}
}

// Normalize converts inputPath to 16kHz mono WAV, dropping any video streams.
// The input file is left untouched.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", newError(ConversionFailed, err, fmt.Sprintf("input not readable: %v", err))
	}
	if err := os.MkdirAll(n.tempDir, 0755); err != nil {
		return "", newError(ConversionFailed, err, fmt.Sprintf("temp dir: %v", err))
	}

	outputPath := filepath.Join(n.tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, n.binary,
		"-y",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", "16000", // 16kHz
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-vn", // no video
		"-hide_banner",
		"-loglevel", "error",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", newError(ConversionFailed, err, detail)
	}

	return outputPath, nil
}

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// TempExt returns the lowercased extension of filename for naming a temp
// copy, or ".bin" when there is none usable. Any container is accepted;
// ffmpeg decides whether it can be decoded.
func TempExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		return ".bin"
	}
	return ext
}
