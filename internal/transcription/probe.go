package transcription

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Prober reads stream metadata of the first audio stream without decoding
// the samples.
type Prober interface {
	Probe(ctx context.Context, path string) (types.AudioStreamSpec, error)
}

// FFProbe inspects files with ffprobe.
type FFProbe struct {
	binary string
}

// NewFFProbe returns a prober using binary, or "ffprobe" from PATH.
func NewFFProbe(binary string) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFProbe{binary: binary}
}

// Probe runs ffprobe against the first audio stream of path.
func (p *FFProbe) Probe(ctx context.Context, path string) (types.AudioStreamSpec, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,channels,sample_rate,sample_fmt,duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return types.AudioStreamSpec{}, newError(ProbeFailed, err, detail)
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput reads ffprobe's key=value listing.
func parseProbeOutput(out []byte) (types.AudioStreamSpec, error) {
	info := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		info[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	codec := info["codec_name"]
	if codec == "" {
		return types.AudioStreamSpec{}, newError(ProbeFailed, nil, "no audio stream found")
	}

	spec := types.AudioStreamSpec{
		Codec:        codec,
		SampleFormat: info["sample_fmt"],
	}
	if ch, err := strconv.Atoi(info["channels"]); err == nil {
		spec.Channels = ch
	}
	// ffprobe prints "16000", some builds "16000.0"
	if rate, err := strconv.ParseFloat(info["sample_rate"], 64); err == nil {
		spec.SampleRateHz = int(rate)
	}
	if d, err := strconv.ParseFloat(info["duration"], 64); err == nil {
		spec.DurationSeconds = d
	}
	return spec, nil
}

// WAVHeaderProber reads the RIFF header directly. It only understands WAV
// files, which is all the normalizer produces.
type WAVHeaderProber struct{}

// Probe parses the fmt chunk of a WAV file.
func (WAVHeaderProber) Probe(_ context.Context, path string) (types.AudioStreamSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.AudioStreamSpec{}, newError(ProbeFailed, err, fmt.Sprintf("open: %v", err))
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return types.AudioStreamSpec{}, newError(ProbeFailed, err, fmt.Sprintf("read wav header: %v", err))
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return types.AudioStreamSpec{}, newError(ProbeFailed, errors.New("missing fmt chunk"), "no audio stream found")
	}

	spec := types.AudioStreamSpec{
		Codec:        wavCodecName(d.WavAudioFormat, d.BitDepth),
		Channels:     int(d.NumChans),
		SampleRateHz: int(d.SampleRate),
		SampleFormat: wavSampleFormat(d.WavAudioFormat, d.BitDepth),
	}
	// duration comes from the data chunk size; a truncated file just reports none
	if err := d.FwdToPCM(); err == nil {
		bytesPerSec := float64(d.SampleRate) * float64(d.NumChans) * float64(d.BitDepth) / 8
		if bytesPerSec > 0 {
			spec.DurationSeconds = float64(d.PCMLen()) / bytesPerSec
		}
	}
	return spec, nil
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// wavCodecName names the codec the way ffprobe would.
func wavCodecName(format, bitDepth uint16) string {
	switch format {
	case wavFormatPCM, wavFormatExtensible:
		switch bitDepth {
		case 8:
			return "pcm_u8"
		case 16:
			return "pcm_s16le"
		case 24:
			return "pcm_s24le"
		case 32:
			return "pcm_s32le"
		}
	case wavFormatFloat:
		if bitDepth == 64 {
			return "pcm_f64le"
		}
		return "pcm_f32le"
	}
	return fmt.Sprintf("wav_format_%d_%dbit", format, bitDepth)
}

func wavSampleFormat(format, bitDepth uint16) string {
	if format == wavFormatFloat {
		return "flt"
	}
	switch bitDepth {
	case 8:
		return "u8"
	case 16:
		return "s16"
	case 24, 32:
		return "s32"
	}
	return ""
}

// Validator checks normalized files against the canonical contract.
type Validator struct {
	prober Prober
}

// NewValidator wraps prober.
func NewValidator(prober Prober) *Validator {
	return &Validator{prober: prober}
}

// Validate probes path and reports whether it matches the canonical spec.
// A probe failure is returned as an error; a mismatch is passes=false.
func (v *Validator) Validate(ctx context.Context, path string) (types.AudioStreamSpec, bool, error) {
	spec, err := v.prober.Probe(ctx, path)
	if err != nil {
		if KindOf(err) == "" {
			err = newError(ProbeFailed, err, err.Error())
		}
		return types.AudioStreamSpec{}, false, err
	}
	return spec, spec.Matches(), nil
}
