package transcription

import (
	"container/heap"
	"sort"
	"strings"

	"github.com/codebuildervaibhav/speaker-transcription/internal/types"
)

// AlignStats summarises one alignment run.
type AlignStats struct {
	Turns         int
	Words         int
	Segments      int
	WordsAssigned int
	WordsDropped  int
}

// Align attributes every word to the speaker turn containing its midpoint
// and returns one segment per turn that received any text, ordered by turn
// start.
func Align(turns []types.SpeakerTurn, words []types.WordToken) []types.TranscriptSegment {
	segments, _ := AlignWithStats(turns, words)
	return segments
}

// AlignWithStats is Align plus counters for logging and metrics.
//
// A word belongs to turn t iff t.Start <= midpoint < t.End, so a midpoint on
// a shared boundary goes to the turn starting there. When turns overlap the
// first containing turn in start order wins. Words in gaps are dropped.
// Neither input slice is modified.
func AlignWithStats(turns []types.SpeakerTurn, words []types.WordToken) ([]types.TranscriptSegment, AlignStats) {
	stats := AlignStats{Turns: len(turns), Words: len(words)}

	sorted := make([]types.SpeakerTurn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	// Visit words in midpoint order so the turn cursor only moves forward.
	order := make([]int, len(words))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return words[order[a]].Midpoint() < words[order[b]].Midpoint()
	})

	owner := make([]int, len(words))
	open := &openTurns{}
	next := 0
	for _, wi := range order {
		mid := words[wi].Midpoint()
		for next < len(sorted) && sorted[next].Start <= mid {
			heap.Push(open, next)
			next++
		}
		// midpoints never decrease, so a turn that ended is closed for good
		for open.Len() > 0 && sorted[open.Peek()].End <= mid {
			heap.Pop(open)
		}
		owner[wi] = -1
		if open.Len() > 0 {
			owner[wi] = open.Peek()
		}
	}

	texts := make([]strings.Builder, len(sorted))
	for wi, t := range owner {
		if t < 0 {
			continue
		}
		texts[t].WriteString(words[wi].Text)
		stats.WordsAssigned++
	}
	stats.WordsDropped = stats.Words - stats.WordsAssigned

	segments := make([]types.TranscriptSegment, 0, len(sorted))
	for i, turn := range sorted {
		text := strings.TrimSpace(texts[i].String())
		if text == "" {
			continue
		}
		segments = append(segments, types.TranscriptSegment{
			Speaker: turn.Speaker,
			Start:   turn.Start,
			End:     turn.End,
			Text:    text,
		})
	}
	stats.Segments = len(segments)

	return segments, stats
}

// openTurns is a min-heap of indices into the start-sorted turns whose start
// has been reached.
type openTurns []int

func (h openTurns) Len() int           { return len(h) }
func (h openTurns) Less(i, j int) bool { return h[i] < h[j] }
func (h openTurns) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h openTurns) Peek() int          { return h[0] }

func (h *openTurns) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *openTurns) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
