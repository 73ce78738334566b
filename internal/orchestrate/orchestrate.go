// Package orchestrate drives the batch processing stage: it walks the input
// queue and takes every recording as far as awaiting_assignment, resuming
// from the diarization checkpoint when one exists. One bad recording never
// stops the batch.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/meeting-corpus/internal/audio"
	"github.com/codebuildervaibhav/meeting-corpus/internal/config"
	"github.com/codebuildervaibhav/meeting-corpus/internal/diarize"
	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/transcribe"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// FileOutcome records what happened to one input file during a run.
type FileOutcome struct {
	File     string       `json:"file"`
	Session  string       `json:"session"`
	Status   types.Status `json:"status"`
	Segments int          `json:"segments,omitempty"`
	Excluded int          `json:"excluded_segments,omitempty"`
	Errors   int          `json:"transcription_errors,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Report summarizes one batch run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Outcomes   []FileOutcome `json:"outcomes"`
}

// Pipeline runs the diarization and transcription stages over the input
// queue. The external models are injected so tests can run the full flow
// without ffmpeg or GPU inference.
type Pipeline struct {
	Cfg         *config.Config
	Store       *session.Store
	Extractor   audio.Extractor
	Diarizer    diarize.Diarizer
	Transcriber transcribe.Transcriber

	// Observer receives session status changes so callers can keep a
	// queryable index current. Nil disables it.
	Observer func(name, sourceFile string, status types.Status)
}

func (p *Pipeline) observe(name, source string, status types.Status) {
	if p.Observer != nil {
		p.Observer(name, source, status)
	}
}

// Run processes every supported file in the input queue and persists a batch
// report under the session root. Files are handled in name order.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	entries, err := os.ReadDir(p.Cfg.Directories.Input)
	if err != nil {
		return nil, fmt.Errorf("reading input queue: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !audio.SupportedFormat(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(p.Cfg.Directories.Input, e.Name()))
	}
	sort.Strings(files)

	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	log.Printf("Run %s: %d file(s) in queue", report.RunID, len(files))

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		outcome := p.processFile(ctx, file)
		report.Outcomes = append(report.Outcomes, outcome)
		switch {
		case outcome.Error != "":
			report.Failed++
			log.Printf("Failed %s: %s", filepath.Base(file), outcome.Error)
		case outcome.Skipped:
			report.Skipped++
		default:
			report.Processed++
			log.Printf("Processed %s -> session %s (%d segments, %d errors)",
				filepath.Base(file), outcome.Session, outcome.Segments, outcome.Errors)
		}
	}
	report.FinishedAt = time.Now().UTC()

	if err := p.saveReport(report); err != nil {
		log.Printf("Persisting batch report: %v", err)
	}
	return report, nil
}

// processFile takes one recording to awaiting_assignment. A panic in any
// stage is contained to this file's outcome.
func (p *Pipeline) processFile(ctx context.Context, file string) (outcome FileOutcome) {
	name := session.Name(file)
	outcome = FileOutcome{File: filepath.Base(file), Session: name}

	defer func() {
		if r := recover(); r != nil {
			outcome.Error = fmt.Sprintf("panic while processing: %v", r)
			outcome.Status = p.Store.Status(name)
		}
	}()

	switch status := p.Store.Status(name); status {
	case types.StatusAwaitingAssignment, types.StatusCompleted:
		outcome.Status = status
		outcome.Skipped = true
		log.Printf("Skipping %s: session %s already %s", filepath.Base(file), name, status)
		return outcome
	case types.StatusDiarizationFailed:
		outcome.Status = status
		outcome.Skipped = true
		log.Printf("Skipping %s: previous diarization failed, clear the failure marker to retry", filepath.Base(file))
		return outcome
	}

	if err := p.Store.Create(name); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	cp, err := p.ensureCheckpoint(ctx, file, name)
	if err != nil {
		outcome.Status = p.Store.Status(name)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Status = types.StatusDiarized
	outcome.Segments = len(cp.Segments)
	for _, seg := range cp.Segments {
		if seg.Excluded {
			outcome.Excluded++
		}
	}
	p.observe(name, filepath.Base(file), types.StatusDiarized)

	if err := p.archive(file); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	errCount, err := p.transcribeSession(ctx, cp)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Status = types.StatusAwaitingAssignment
	outcome.Errors = errCount
	p.observe(name, filepath.Base(file), types.StatusAwaitingAssignment)
	return outcome
}

// ensureCheckpoint returns the session's diarization checkpoint, running the
// diarization stage if none exists yet. The stage is all-or-nothing: any
// error marks the session terminally failed and nothing partial is kept.
func (p *Pipeline) ensureCheckpoint(ctx context.Context, file, name string) (*types.DiarizationCheckpoint, error) {
	if p.Store.HasCheckpoint(name) {
		log.Printf("Resuming %s from existing diarization checkpoint", name)
		return p.Store.LoadCheckpoint(name)
	}

	cp, err := p.diarizeFile(ctx, file, name)
	if err != nil {
		if markErr := p.Store.MarkFailed(name, filepath.Base(file), err.Error(), time.Now().UTC()); markErr != nil {
			log.Printf("Recording failure for %s: %v", name, markErr)
		}
		p.observe(name, filepath.Base(file), types.StatusDiarizationFailed)
		return nil, err
	}
	return cp, nil
}

func (p *Pipeline) diarizeFile(ctx context.Context, file, name string) (*types.DiarizationCheckpoint, error) {
	wavPath, err := p.Extractor.Extract(ctx, file, p.Cfg.Directories.Scratch)
	if err != nil {
		return nil, fmt.Errorf("audio extraction: %w", err)
	}
	defer os.Remove(wavPath)

	turns, err := p.Diarizer.Diarize(ctx, wavPath)
	if err != nil {
		return nil, fmt.Errorf("diarization: %w", err)
	}

	wf, err := audio.LoadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("loading decoded waveform: %w", err)
	}

	cp := &types.DiarizationCheckpoint{
		Session:     name,
		SourceFile:  filepath.Base(file),
		GeneratedAt: time.Now().UTC(),
		SampleRate:  wf.SampleRate(),
		Speakers:    diarize.Speakers(turns),
	}
	for i, turn := range turns {
		seg := types.Segment{
			Session: name,
			Label:   turn.Speaker,
			Index:   i,
			Start:   turn.Start,
			End:     turn.End,
		}
		if turn.End-turn.Start < p.Cfg.Diarizer.MinSegmentSeconds {
			seg.Excluded = true
		} else {
			seg.Artifact = session.SegmentFilename(name, turn.Speaker, i, turn.Start, turn.End)
			if err := wf.WriteSlice(turn.Start, turn.End, p.Store.SegmentPath(name, seg.Artifact)); err != nil {
				return nil, fmt.Errorf("slicing segment %d: %w", i, err)
			}
		}
		cp.Segments = append(cp.Segments, seg)
	}

	if err := p.Store.SaveCheckpoint(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// transcribeSession runs speech-to-text over every kept segment. Failures
// are isolated per entry; the aggregate is persisted once at the end.
func (p *Pipeline) transcribeSession(ctx context.Context, cp *types.DiarizationCheckpoint) (int, error) {
	rt := &types.RawTranscript{
		Session:     cp.Session,
		Status:      types.StatusAwaitingAssignment,
		GeneratedAt: time.Now().UTC(),
		Speakers:    cp.Speakers,
	}

	errCount := 0
	for _, seg := range cp.Segments {
		if seg.Excluded {
			continue
		}
		entry := types.TranscriptEntry{
			Artifact: seg.Artifact,
			Label:    seg.Label,
			Start:    seg.Start,
			End:      seg.End,
		}
		res, err := p.Transcriber.Transcribe(ctx, p.Store.SegmentPath(cp.Session, seg.Artifact))
		if err != nil {
			entry.Error = err.Error()
			errCount++
			log.Printf("Transcription failed for %s: %v", seg.Artifact, err)
		} else {
			entry.Text = res.Text
			entry.Language = res.Language
		}
		rt.Entries = append(rt.Entries, entry)
	}

	sort.SliceStable(rt.Entries, func(i, j int) bool { return rt.Entries[i].Start < rt.Entries[j].Start })

	if err := p.Store.SaveRaw(rt); err != nil {
		return errCount, err
	}
	return errCount, nil
}

// archive moves a processed source recording out of the input queue. A name
// collision in the archive gets a numeric suffix instead of overwriting.
func (p *Pipeline) archive(file string) error {
	dst := filepath.Join(p.Cfg.Directories.Archive, filepath.Base(file))
	ext := filepath.Ext(dst)
	base := dst[:len(dst)-len(ext)]
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = fmt.Sprintf("%s_%d%s", base, i, ext)
	}

	if err := os.Rename(file, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy and delete.
	if err := copyFile(file, dst); err != nil {
		return fmt.Errorf("archiving %s: %w", filepath.Base(file), err)
	}
	return os.Remove(file)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// saveReport persists the batch report under the session root, outside any
// session directory.
func (p *Pipeline) saveReport(report *Report) error {
	dir := filepath.Join(p.Store.Root(), "_runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, fmt.Sprintf("run_%s.json", report.RunID)), report)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
