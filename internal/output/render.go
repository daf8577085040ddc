package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// Metadata is printed in the markdown header when set.
type Metadata struct {
	Title     string
	Source    string
	Model     string
	Generated string
	Duration  float64
}

// RenderText prints one "SPEAKER: text" line per segment.
func RenderText(segments []types.TranscriptSegment) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "%s: %s\n", s.Speaker, s.Text)
	}
	return b.String()
}

// RenderMarkdown renders a transcript with timestamps and a short header.
func RenderMarkdown(meta Metadata, segments []types.TranscriptSegment) string {
	var b strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", meta.Title)
	} else {
		b.WriteString("# Transcript\n\n")
	}
	if meta.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", meta.Source)
	}
	if meta.Model != "" {
		fmt.Fprintf(&b, "- Model: `%s`\n", meta.Model)
	}
	if meta.Generated != "" {
		fmt.Fprintf(&b, "- Generated: %s\n", meta.Generated)
	}
	if meta.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", secToTS(meta.Duration))
	}
	if speakers := Speakers(segments); len(speakers) > 0 {
		fmt.Fprintf(&b, "- Speakers: %s\n", strings.Join(speakers, ", "))
	}
	b.WriteString("\n---\n\n")

	for _, s := range segments {
		fmt.Fprintf(&b, "[%s-%s] **%s:** %s\n\n", secToTS(s.Start), secToTS(s.End), s.Speaker, s.Text)
	}
	return b.String()
}

// Speakers lists distinct speaker labels in order of first appearance.
func Speakers(segments []types.TranscriptSegment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segments {
		if seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

func secToTS(sec float64) string {
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
