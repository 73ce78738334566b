package organize

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

var testTime = time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

// completeSession writes a checkpoint, raw transcript, and final transcript
// for one session so it reaches completed status.
func completeSession(t *testing.T, store *session.Store, name string, entries []types.TranscriptEntry, mapping types.SpeakerMapping) {
	t.Helper()
	if err := store.Create(name); err != nil {
		t.Fatal(err)
	}
	speakers := make(map[string]bool)
	var labels []string
	for _, e := range entries {
		if !speakers[e.Label] {
			speakers[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	raw := make([]types.TranscriptEntry, len(entries))
	for i, e := range entries {
		e.Identity = ""
		raw[i] = e
	}
	rt := &types.RawTranscript{
		Session:     name,
		Status:      types.StatusAwaitingAssignment,
		GeneratedAt: testTime,
		Speakers:    labels,
		Entries:     raw,
	}
	if err := store.SaveRaw(rt); err != nil {
		t.Fatal(err)
	}
	ft := &types.FinalTranscript{
		Session:     name,
		Status:      types.StatusCompleted,
		GeneratedAt: testTime,
		Mapping:     mapping,
		Speakers:    session.ResolvedSpeakers(entries),
		Entries:     entries,
	}
	if err := store.SaveFinal(ft); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRawCompleted(name); err != nil {
		t.Fatal(err)
	}
}

func newTestBuilder(t *testing.T, store *session.Store, aliases map[string]string) *Builder {
	t.Helper()
	b := NewBuilder(store, filepath.Join(t.TempDir(), "corpus"), 30.0,
		[]string{"unclear", "mixed", "unknown"}, aliases)
	b.CopyArtifacts = false
	return b
}

func findProfile(s *types.CorpusSummary, identity string) *types.IdentityProfile {
	for i := range s.Profiles {
		if s.Profiles[i].Identity == identity {
			return &s.Profiles[i]
		}
	}
	return nil
}

func TestRebuildMergesAcrossSessions(t *testing.T) {
	store := session.NewStore(t.TempDir())

	// Same person under different casing in two sessions.
	completeSession(t, store, "standup",
		[]types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Identity: "Alice", Start: 0, End: 20, Text: "morning"},
			{Artifact: "a1.wav", Label: "SPEAKER_01", Identity: "Bob", Start: 21, End: 30, Text: "hi"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Alice", "SPEAKER_01": "Bob"})
	completeSession(t, store, "retro",
		[]types.TranscriptEntry{
			{Artifact: "b0.wav", Label: "SPEAKER_00", Identity: "alice", Start: 0, End: 25, Text: "last sprint"},
		},
		types.SpeakerMapping{"SPEAKER_00": "alice"})

	summary, err := newTestBuilder(t, store, nil).Rebuild(testTime)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if summary.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", summary.Sessions)
	}
	if summary.Identities != 2 {
		t.Fatalf("Identities = %d, want 2 (Alice merged, Bob)", summary.Identities)
	}

	alice := findProfile(summary, "Alice")
	if alice == nil {
		t.Fatalf("no Alice profile; profiles: %+v", summary.Profiles)
	}
	if alice.Segments != 2 {
		t.Errorf("Alice segments = %d, want 2", alice.Segments)
	}
	if alice.Duration != 45 {
		t.Errorf("Alice duration = %.1f, want 45.0", alice.Duration)
	}
	if len(alice.Sessions) != 2 {
		t.Errorf("Alice sessions = %d, want 2", len(alice.Sessions))
	}
	if !alice.Eligible {
		t.Errorf("Alice should be eligible (45s >= 30s floor): %s", alice.ExclusionReason)
	}

	bob := findProfile(summary, "Bob")
	if bob == nil {
		t.Fatal("no Bob profile")
	}
	if bob.Eligible {
		t.Error("Bob should be below the 30s quality floor")
	}
	if bob.ExclusionReason == "" {
		t.Error("excluded profile must carry a reason")
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	store := session.NewStore(t.TempDir())
	completeSession(t, store, "standup",
		[]types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Identity: "Alice", Start: 0, End: 40, Text: "x"},
			{Artifact: "a1.wav", Label: "SPEAKER_01", Identity: "Bob", Start: 41, End: 80, Text: "y"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Alice", "SPEAKER_01": "Bob"})

	b := newTestBuilder(t, store, nil)
	first, err := b.Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Profiles) != len(second.Profiles) {
		t.Fatal("profile count changed between runs")
	}
	for i := range first.Profiles {
		if first.Profiles[i].Identity != second.Profiles[i].Identity {
			t.Errorf("profile order changed: %q vs %q",
				first.Profiles[i].Identity, second.Profiles[i].Identity)
		}
	}
}

func TestSentinelAndProvisionalExclusion(t *testing.T) {
	store := session.NewStore(t.TempDir())
	completeSession(t, store, "standup",
		[]types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Identity: "Unclear", Start: 0, End: 50, Text: "x"},
			{Artifact: "a1.wav", Label: "SPEAKER_01", Identity: "SPEAKER_01", Start: 51, End: 120, Text: "y"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Unclear"})

	summary, err := newTestBuilder(t, store, nil).Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Eligible != 0 {
		t.Errorf("Eligible = %d, want 0", summary.Eligible)
	}
	for _, p := range summary.Profiles {
		if p.Eligible {
			t.Errorf("profile %q should be excluded", p.Identity)
		}
		if p.ExclusionReason == "" {
			t.Errorf("profile %q missing exclusion reason", p.Identity)
		}
	}
}

func TestAliasMerge(t *testing.T) {
	store := session.NewStore(t.TempDir())
	completeSession(t, store, "standup",
		[]types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Identity: "Bob", Start: 0, End: 20, Text: "x"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Bob"})
	completeSession(t, store, "retro",
		[]types.TranscriptEntry{
			{Artifact: "b0.wav", Label: "SPEAKER_00", Identity: "Robert Smith", Start: 0, End: 20, Text: "y"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Robert Smith"})

	summary, err := newTestBuilder(t, store,
		map[string]string{"bob": "Robert Smith"}).Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Identities != 1 {
		t.Fatalf("Identities = %d, want 1 after alias merge", summary.Identities)
	}
	p := summary.Profiles[0]
	if p.Identity != "Robert Smith" {
		t.Errorf("Identity = %q, want canonical %q", p.Identity, "Robert Smith")
	}
	if p.Duration != 40 {
		t.Errorf("Duration = %.1f, want 40.0", p.Duration)
	}
	if !p.Eligible {
		t.Errorf("merged profile should clear the floor: %s", p.ExclusionReason)
	}
}

func TestAwaitingSessionFallsBackToLabels(t *testing.T) {
	store := session.NewStore(t.TempDir())
	if err := store.Create("standup"); err != nil {
		t.Fatal(err)
	}
	rt := &types.RawTranscript{
		Session:     "standup",
		Status:      types.StatusAwaitingAssignment,
		GeneratedAt: testTime,
		Speakers:    []string{"SPEAKER_00"},
		Entries: []types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Start: 0, End: 60, Text: "x"},
		},
	}
	if err := store.SaveRaw(rt); err != nil {
		t.Fatal(err)
	}

	summary, err := newTestBuilder(t, store, nil).Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Identities != 1 {
		t.Fatalf("Identities = %d, want 1", summary.Identities)
	}
	p := summary.Profiles[0]
	if p.Eligible {
		t.Error("provisional label must never be eligible")
	}
}

func TestErrorEntriesSkipped(t *testing.T) {
	store := session.NewStore(t.TempDir())
	completeSession(t, store, "standup",
		[]types.TranscriptEntry{
			{Artifact: "a0.wav", Label: "SPEAKER_00", Identity: "Alice", Start: 0, End: 40, Text: "x"},
			{Artifact: "a1.wav", Label: "SPEAKER_00", Identity: "Alice", Start: 41, End: 80, Error: "corrupt artifact"},
		},
		types.SpeakerMapping{"SPEAKER_00": "Alice"})

	summary, err := newTestBuilder(t, store, nil).Rebuild(testTime)
	if err != nil {
		t.Fatal(err)
	}
	alice := findProfile(summary, "Alice")
	if alice == nil {
		t.Fatal("no Alice profile")
	}
	if alice.Segments != 1 {
		t.Errorf("Segments = %d, want 1 (error entry skipped)", alice.Segments)
	}
}
