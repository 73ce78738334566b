// Package assign turns raw transcripts into final ones by attaching human
// identities to provisional speaker labels. The stage is synchronous and
// human-paced: it builds review material per label, hands it to a Prompter,
// and applies whatever mapping comes back. Running it again with the same
// mapping produces the same result.
package assign

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// ReviewSample is one listenable segment offered to the operator while
// deciding who a provisional label is.
type ReviewSample struct {
	Artifact string
	Path     string
	Start    float64
	End      float64
	Text     string
}

// Duration returns the sample length in seconds.
func (s ReviewSample) Duration() float64 {
	return s.End - s.Start
}

// ReviewItem is the assignment review material for one provisional label.
type ReviewItem struct {
	Label         string
	Segments      int
	TotalDuration float64
	Samples       []ReviewSample
}

// Prompter is the boundary to whoever supplies the speaker mapping: an
// interactive console, an HTTP request body, or a fixed mapping in tests.
type Prompter interface {
	Prompt(sessionName string, items []ReviewItem) (types.SpeakerMapping, error)
}

// Fixed is a Prompter that returns a predetermined mapping. Used by the HTTP
// assignment endpoint and in tests.
type Fixed types.SpeakerMapping

// Prompt returns the fixed mapping unchanged.
func (f Fixed) Prompt(string, []ReviewItem) (types.SpeakerMapping, error) {
	return types.SpeakerMapping(f), nil
}

// BuildReview assembles per-label review items from a raw transcript. For
// each label it picks the longest successfully transcribed segments, which
// are the easiest to recognize a voice from.
func BuildReview(store *session.Store, rt *types.RawTranscript, samplesPerSpeaker int) []ReviewItem {
	if samplesPerSpeaker <= 0 {
		samplesPerSpeaker = 3
	}

	byLabel := make(map[string][]types.TranscriptEntry)
	for _, e := range rt.Entries {
		byLabel[e.Label] = append(byLabel[e.Label], e)
	}

	items := make([]ReviewItem, 0, len(rt.Speakers))
	for _, label := range rt.Speakers {
		entries := byLabel[label]
		item := ReviewItem{Label: label, Segments: len(entries)}

		var usable []types.TranscriptEntry
		for _, e := range entries {
			item.TotalDuration += e.Duration()
			if e.Error == "" && e.Artifact != "" {
				usable = append(usable, e)
			}
		}
		sort.SliceStable(usable, func(i, j int) bool {
			return usable[i].Duration() > usable[j].Duration()
		})
		if len(usable) > samplesPerSpeaker {
			usable = usable[:samplesPerSpeaker]
		}
		for _, e := range usable {
			item.Samples = append(item.Samples, ReviewSample{
				Artifact: e.Artifact,
				Path:     store.SegmentPath(rt.Session, e.Artifact),
				Start:    e.Start,
				End:      e.End,
				Text:     e.Text,
			})
		}
		items = append(items, item)
	}
	return items
}

// Apply produces the final transcript from a raw transcript and a mapping.
// Every entry's identity is rewritten: the mapped name where one exists, the
// provisional label otherwise. The input transcript is not modified, and the
// output depends only on the inputs, so re-applying the same mapping with the
// same timestamp yields an identical record.
func Apply(rt *types.RawTranscript, mapping types.SpeakerMapping, now time.Time) *types.FinalTranscript {
	cleaned := make(types.SpeakerMapping)
	for label, name := range mapping {
		name = strings.TrimSpace(name)
		if name != "" {
			cleaned[label] = name
		}
	}

	entries := make([]types.TranscriptEntry, len(rt.Entries))
	for i, e := range rt.Entries {
		if name, ok := cleaned[e.Label]; ok {
			e.Identity = name
		} else {
			e.Identity = e.Label
		}
		entries[i] = e
	}

	return &types.FinalTranscript{
		Session:     rt.Session,
		Status:      types.StatusCompleted,
		GeneratedAt: now,
		Mapping:     cleaned,
		Speakers:    session.ResolvedSpeakers(entries),
		Entries:     entries,
	}
}

// Stage runs the assignment flow for sessions awaiting it.
type Stage struct {
	Store    *session.Store
	Prompter Prompter
	Samples  int

	// Force permits re-assigning an already completed session, replacing
	// its final transcript. Used to correct a wrong mapping after the fact.
	Force bool

	// AfterComplete runs once per completed session, after the final
	// transcript is persisted. The pipeline wires the corpus rebuild here.
	AfterComplete func() error
}

// Run assigns one session. The session must be awaiting assignment, or
// already completed when Force is set.
func (st *Stage) Run(name string, now time.Time) error {
	switch got := st.Store.Status(name); got {
	case types.StatusAwaitingAssignment:
	case types.StatusCompleted:
		if !st.Force {
			return fmt.Errorf("session %q is already completed; re-run with force to replace its mapping", name)
		}
	default:
		return fmt.Errorf("session %q is %s, not %s", name, got, types.StatusAwaitingAssignment)
	}
	rt, err := st.Store.LoadRaw(name)
	if err != nil {
		return err
	}

	items := BuildReview(st.Store, rt, st.Samples)
	mapping, err := st.Prompter.Prompt(name, items)
	if err != nil {
		return fmt.Errorf("collecting speaker mapping: %w", err)
	}

	ft := Apply(rt, mapping, now)
	if err := st.Store.SaveFinal(ft); err != nil {
		return err
	}
	if err := st.Store.MarkRawCompleted(name); err != nil {
		return err
	}
	log.Printf("Session %s completed: %d speakers, %d mapped", name, len(rt.Speakers), len(ft.Mapping))

	if st.AfterComplete != nil {
		if err := st.AfterComplete(); err != nil {
			return fmt.Errorf("post-assignment corpus rebuild: %w", err)
		}
	}
	return nil
}

// RunPending assigns every session awaiting assignment, in name order. The
// first error stops the run so the operator sees it immediately.
func (st *Stage) RunPending(now time.Time) (int, error) {
	names, err := st.Store.ListByStatus(types.StatusAwaitingAssignment)
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		if err := st.Run(name, now); err != nil {
			return i, err
		}
	}
	return len(names), nil
}
