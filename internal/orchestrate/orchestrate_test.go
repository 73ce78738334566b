package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/codebuildervaibhav/meeting-corpus/internal/config"
	"github.com/codebuildervaibhav/meeting-corpus/internal/diarize"
	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/transcribe"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

const testRate = 16000

// writeTestWAV creates a mono 16-bit WAV of the given length.
func writeTestWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	n := int(seconds * testRate)
	data := make([]int, n)
	for i := range data {
		data[i] = (i % 64) * 100
	}
	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// fakeExtractor skips ffmpeg and synthesizes the decoded waveform directly.
type fakeExtractor struct {
	t       *testing.T
	seconds float64
}

func (f *fakeExtractor) Extract(_ context.Context, inputPath, scratchDir string) (string, error) {
	out := filepath.Join(scratchDir, "decoded_"+filepath.Base(inputPath))
	writeTestWAV(f.t, out, f.seconds)
	return out, nil
}

// fakeDiarizer returns canned turns, failing for paths containing "broken".
type fakeDiarizer struct {
	turns []diarize.Turn
	calls int
}

func (f *fakeDiarizer) Diarize(_ context.Context, wavPath string) ([]diarize.Turn, error) {
	f.calls++
	if strings.Contains(wavPath, "broken") {
		return nil, fmt.Errorf("model could not separate speakers")
	}
	return f.turns, nil
}

// fakeTranscriber echoes the artifact name, failing for a chosen substring.
type fakeTranscriber struct {
	failSubstr string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wavPath string) (transcribe.Result, error) {
	base := filepath.Base(wavPath)
	if f.failSubstr != "" && strings.Contains(base, f.failSubstr) {
		return transcribe.Result{}, fmt.Errorf("decoder error on %s", base)
	}
	return transcribe.Result{Text: "text for " + base, Language: "en"}, nil
}

var testTurns = []diarize.Turn{
	{Start: 0.5, End: 10.0, Speaker: "SPEAKER_00"},
	{Start: 10.5, End: 20.0, Speaker: "SPEAKER_01"},
	{Start: 20.2, End: 20.6, Speaker: "SPEAKER_00"}, // below the 1s floor
	{Start: 21.0, End: 29.0, Speaker: "SPEAKER_01"},
}

func testPipeline(t *testing.T) (*Pipeline, *fakeDiarizer) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Directories.Input = filepath.Join(root, "audio_in")
	cfg.Directories.Sessions = filepath.Join(root, "sessions")
	cfg.Directories.Archive = filepath.Join(root, "audio_processed")
	cfg.Directories.Corpus = filepath.Join(root, "corpus")
	cfg.Directories.Scratch = filepath.Join(root, "scratch")
	for _, dir := range []string{cfg.Directories.Input, cfg.Directories.Sessions,
		cfg.Directories.Archive, cfg.Directories.Scratch} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	dia := &fakeDiarizer{turns: testTurns}
	return &Pipeline{
		Cfg:         cfg,
		Store:       session.NewStore(cfg.Directories.Sessions),
		Extractor:   &fakeExtractor{t: t, seconds: 30},
		Diarizer:    dia,
		Transcriber: &fakeTranscriber{},
	}, dia
}

func TestRunEndToEnd(t *testing.T) {
	p, _ := testPipeline(t)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "weekly standup.wav"), 1)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}

	name := "weekly_standup"
	if got := p.Store.Status(name); got != types.StatusAwaitingAssignment {
		t.Errorf("status = %s, want awaiting_assignment", got)
	}

	cp, err := p.Store.LoadCheckpoint(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(cp.Segments) != 4 {
		t.Errorf("segments = %d, want 4", len(cp.Segments))
	}
	if !cp.Segments[2].Excluded {
		t.Error("0.4s segment should be excluded")
	}
	for _, seg := range cp.Segments {
		path := p.Store.SegmentPath(name, seg.Artifact)
		if seg.Excluded {
			if seg.Artifact != "" {
				t.Errorf("excluded segment %d has artifact %q", seg.Index, seg.Artifact)
			}
			continue
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact for segment %d: %v", seg.Index, err)
		}
	}

	rt, err := p.Store.LoadRaw(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(rt.Entries) != 3 {
		t.Errorf("entries = %d, want 3 (excluded segment not transcribed)", len(rt.Entries))
	}
	for i := 1; i < len(rt.Entries); i++ {
		if rt.Entries[i].Start < rt.Entries[i-1].Start {
			t.Error("entries not ordered by start time")
		}
	}

	// Source moved out of the input queue.
	if _, err := os.Stat(filepath.Join(p.Cfg.Directories.Input, "weekly standup.wav")); !os.IsNotExist(err) {
		t.Error("source still in input queue")
	}
	if _, err := os.Stat(filepath.Join(p.Cfg.Directories.Archive, "weekly standup.wav")); err != nil {
		t.Errorf("source not archived: %v", err)
	}

	// Scratch left clean.
	scratch, err := os.ReadDir(p.Cfg.Directories.Scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(scratch) != 0 {
		t.Errorf("scratch not cleaned: %v", scratch)
	}
}

func TestFailureIsolatedPerFile(t *testing.T) {
	p, _ := testPipeline(t)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "broken.wav"), 1)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "good.wav"), 1)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	if got := p.Store.Status("broken"); got != types.StatusDiarizationFailed {
		t.Errorf("broken status = %s, want diarization_failed", got)
	}
	if got := p.Store.Status("good"); got != types.StatusAwaitingAssignment {
		t.Errorf("good status = %s, want awaiting_assignment", got)
	}

	// Failed source stays in the queue for inspection.
	if _, err := os.Stat(filepath.Join(p.Cfg.Directories.Input, "broken.wav")); err != nil {
		t.Errorf("failed source should remain in input queue: %v", err)
	}

	// A failed session is not retried until the marker is cleared.
	report, err = p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 {
		t.Errorf("second run report = %+v, want failed session skipped", report)
	}
}

func TestTranscriptionErrorMarkers(t *testing.T) {
	p, _ := testPipeline(t)
	p.Transcriber = &fakeTranscriber{failSubstr: "_001_"}
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "standup.wav"), 1)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Outcomes[0].Errors != 1 {
		t.Errorf("outcome errors = %d, want 1", report.Outcomes[0].Errors)
	}

	rt, err := p.Store.LoadRaw("standup")
	if err != nil {
		t.Fatal(err)
	}
	failed := 0
	for _, e := range rt.Entries {
		if e.Error != "" {
			failed++
			if e.Text != "" {
				t.Error("failed entry must not carry text")
			}
		} else if e.Text == "" {
			t.Errorf("entry %s has no text and no error", e.Artifact)
		}
	}
	if failed != 1 {
		t.Errorf("failed entries = %d, want 1", failed)
	}
	if got := p.Store.Status("standup"); got != types.StatusAwaitingAssignment {
		t.Errorf("status = %s; isolated failures must not block the session", got)
	}
}

func TestResumeSkipsDiarization(t *testing.T) {
	p, dia := testPipeline(t)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "standup.wav"), 1)

	// First run diarizes but fails every transcription.
	p.Transcriber = &fakeTranscriber{failSubstr: ".wav"}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dia.calls != 1 {
		t.Fatalf("diarizer calls = %d, want 1", dia.calls)
	}

	// The session reached awaiting_assignment (with error markers), so a
	// second run of the same queue skips it entirely.
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "standup.wav"), 1)
	p.Transcriber = &fakeTranscriber{}
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 {
		t.Errorf("report = %+v, want skip of already-processed session", report)
	}
	if dia.calls != 1 {
		t.Errorf("diarizer re-ran on resume: %d calls", dia.calls)
	}
}

func TestArchiveCollisionSuffix(t *testing.T) {
	p, _ := testPipeline(t)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Archive, "standup.wav"), 1)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "standup.wav"), 1)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.Cfg.Directories.Archive, "standup_1.wav")); err != nil {
		t.Errorf("collision suffix not applied: %v", err)
	}
}

func TestObserverReceivesTransitions(t *testing.T) {
	p, _ := testPipeline(t)
	writeTestWAV(t, filepath.Join(p.Cfg.Directories.Input, "standup.wav"), 1)

	var seen []types.Status
	p.Observer = func(name, source string, status types.Status) {
		seen = append(seen, status)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []types.Status{types.StatusDiarized, types.StatusAwaitingAssignment}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("observed[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}
