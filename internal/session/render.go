package session

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// formatTimestamp renders seconds as mm:ss (hh:mm:ss past one hour).
func formatTimestamp(sec float64) string {
	total := int(sec)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// renderTimelineCSV produces the per-session segment timeline.
func renderTimelineCSV(cp *types.DiarizationCheckpoint) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"start_time", "end_time", "duration", "speaker", "excluded"})
	for _, seg := range cp.Segments {
		w.Write([]string{
			fmt.Sprintf("%.2f", seg.Start),
			fmt.Sprintf("%.2f", seg.End),
			fmt.Sprintf("%.2f", seg.Duration()),
			seg.Label,
			strconv.FormatBool(seg.Excluded),
		})
	}
	w.Flush()
	return buf.Bytes()
}

// speakerStats summarizes one provisional speaker's share of a session.
type speakerStats struct {
	Segments    int     `json:"segments"`
	SpeechTime  float64 `json:"total_speech_time"`
	SpeechRatio float64 `json:"speech_ratio"`
}

// diarizationSummary is the per-session stage summary stored next to the
// checkpoint.
type diarizationSummary struct {
	Session       string                  `json:"session"`
	NumSpeakers   int                     `json:"num_speakers"`
	TotalSegments int                     `json:"total_segments"`
	Excluded      int                     `json:"excluded_segments"`
	TotalDuration float64                 `json:"total_duration"`
	Speakers      map[string]speakerStats `json:"speaker_statistics"`
}

func buildDiarizationSummary(cp *types.DiarizationCheckpoint) *diarizationSummary {
	var totalDuration float64
	excluded := 0
	perSpeaker := make(map[string]speakerStats)
	for _, seg := range cp.Segments {
		if seg.End > totalDuration {
			totalDuration = seg.End
		}
		if seg.Excluded {
			excluded++
		}
		st := perSpeaker[seg.Label]
		st.Segments++
		st.SpeechTime += seg.Duration()
		perSpeaker[seg.Label] = st
	}
	if totalDuration > 0 {
		for label, st := range perSpeaker {
			st.SpeechRatio = st.SpeechTime / totalDuration
			perSpeaker[label] = st
		}
	}
	return &diarizationSummary{
		Session:       cp.Session,
		NumSpeakers:   len(cp.Speakers),
		TotalSegments: len(cp.Segments),
		Excluded:      excluded,
		TotalDuration: totalDuration,
		Speakers:      perSpeaker,
	}
}

// renderTranscriptText produces the human-readable transcript.
func renderTranscriptText(ft *types.FinalTranscript) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting Transcript: %s\n", ft.Session)
	fmt.Fprintf(&b, "Generated: %s\n", ft.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Speakers: %s\n", strings.Join(ft.Speakers, ", "))
	b.WriteString(strings.Repeat("=", 80) + "\n\n")

	for _, e := range ft.Entries {
		if e.Error != "" {
			fmt.Fprintf(&b, "[%s] %s: (transcription failed: %s)\n\n", formatTimestamp(e.Start), e.Identity, e.Error)
			continue
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n\n", formatTimestamp(e.Start), e.Identity, e.Text)
	}
	return []byte(b.String())
}

// renderTranscriptCSV produces the analysis-friendly transcript.
func renderTranscriptCSV(ft *types.FinalTranscript) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"timestamp", "duration", "speaker", "text", "error"})
	for _, e := range ft.Entries {
		w.Write([]string{
			fmt.Sprintf("%.2f", e.Start),
			fmt.Sprintf("%.2f", e.Duration()),
			e.Identity,
			e.Text,
			e.Error,
		})
	}
	w.Flush()
	return buf.Bytes()
}

// ResolvedSpeakers returns the distinct resolved identities in entries,
// sorted for stable rendering.
func ResolvedSpeakers(entries []types.TranscriptEntry) []string {
	seen := make(map[string]bool)
	var speakers []string
	for _, e := range entries {
		if e.Identity != "" && !seen[e.Identity] {
			seen[e.Identity] = true
			speakers = append(speakers, e.Identity)
		}
	}
	sort.Strings(speakers)
	return speakers
}
