package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// LocalStorage keeps per-recording artifacts on the local filesystem, keyed
// by base name. Saving under an existing name overwrites the previous file.
type LocalStorage struct {
	audioDir      string
	turnsDir      string
	transcriptDir string
}

// NewLocalStorage creates a store rooted at the three artifact directories.
func NewLocalStorage(audioDir, turnsDir, transcriptDir string) *LocalStorage {
	return &LocalStorage{
		audioDir:      audioDir,
		turnsDir:      turnsDir,
		transcriptDir: transcriptDir,
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeBaseName derives a storage key from a file name: the extension is
// dropped and anything outside [a-zA-Z0-9_-] becomes "_".
func SanitizeBaseName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" {
		return "audio"
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// AudioPath is where the canonical WAV for base is kept.
func (ls *LocalStorage) AudioPath(base string) string {
	return filepath.Join(ls.audioDir, base+".wav")
}

// TurnsPath is where the diarization turns for base are kept.
func (ls *LocalStorage) TurnsPath(base string) string {
	return filepath.Join(ls.turnsDir, base+".json")
}

// TranscriptPath is where the aligned transcript for base is kept.
func (ls *LocalStorage) TranscriptPath(base string) string {
	return filepath.Join(ls.transcriptDir, base+".json")
}

// SaveAudio copies the normalized WAV at src into the audio store.
func (ls *LocalStorage) SaveAudio(base, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer in.Close()

	dst := ls.AudioPath(base)
	err = writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return dst, nil
}

// SaveTurns writes the diarization turns for base.
func (ls *LocalStorage) SaveTurns(base string, turns []types.SpeakerTurn) (string, error) {
	if turns == nil {
		turns = []types.SpeakerTurn{}
	}
	path := ls.TurnsPath(base)
	if err := writeJSON(path, turns); err != nil {
		return "", fmt.Errorf("failed to save turns: %w", err)
	}
	return path, nil
}

// LoadTurns reads the diarization turns saved for base.
func (ls *LocalStorage) LoadTurns(base string) ([]types.SpeakerTurn, error) {
	var turns []types.SpeakerTurn
	if err := readJSON(ls.TurnsPath(base), &turns); err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	return turns, nil
}

// SaveTranscript writes the aligned segments for base.
func (ls *LocalStorage) SaveTranscript(base string, segments []types.TranscriptSegment) (string, error) {
	if segments == nil {
		segments = []types.TranscriptSegment{}
	}
	path := ls.TranscriptPath(base)
	if err := writeJSON(path, segments); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}
	return path, nil
}

// LoadTranscript reads the aligned segments saved for base.
func (ls *LocalStorage) LoadTranscript(base string) ([]types.TranscriptSegment, error) {
	var segments []types.TranscriptSegment
	if err := readJSON(ls.TranscriptPath(base), &segments); err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	return segments, nil
}

// ListTranscripts returns the base names in the transcript store, sorted.
func (ls *LocalStorage) ListTranscripts() ([]string, error) {
	entries, err := os.ReadDir(ls.transcriptDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func writeJSON(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
