// Package session owns the on-disk representation of a processing session:
// one directory per source recording holding segment artifacts and the
// per-stage checkpoint files. All checkpoint writes are atomic
// (write-to-temp, rename) so a reader never observes a partial record and an
// interrupted stage leaves the session in its previous state.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

const (
	segmentsDirName = "segments"
	metadataDirName = "metadata"
)

// Store manages session directories under a single root.
type Store struct {
	root string
}

// NewStore creates a session store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Name derives the deterministic, filesystem-safe session name for a source
// recording. The same source file always yields the same session.
func Name(sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	name := unsafeNameChars.ReplaceAllString(stem, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "session"
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// SegmentFilename builds the artifact name for one extracted segment,
// encoding session, provisional label, index, and boundaries.
func SegmentFilename(sessionName, label string, index int, start, end float64) string {
	return fmt.Sprintf("%s_%s_%03d_%.1fs-%.1fs.wav", sessionName, label, index, start, end)
}

// Dir returns the session directory.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// SegmentsDir returns the directory holding the session's audio artifacts.
func (s *Store) SegmentsDir(name string) string {
	return filepath.Join(s.root, name, segmentsDirName)
}

func (s *Store) metadataDir(name string) string {
	return filepath.Join(s.root, name, metadataDirName)
}

// SegmentPath returns the full path of a segment artifact.
func (s *Store) SegmentPath(name, artifact string) string {
	return filepath.Join(s.SegmentsDir(name), artifact)
}

// Create makes the session directory structure.
func (s *Store) Create(name string) error {
	for _, dir := range []string{s.SegmentsDir(name), s.metadataDir(name)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating session directory: %w", err)
		}
	}
	return nil
}

func (s *Store) checkpointPath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_diarization.json")
}

func (s *Store) timelinePath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_timeline.csv")
}

func (s *Store) summaryPath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_summary.json")
}

func (s *Store) rawPath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_raw_transcripts.json")
}

func (s *Store) finalPath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_final_transcript.json")
}

func (s *Store) failedPath(name string) string {
	return filepath.Join(s.metadataDir(name), name+"_failed.json")
}

// SaveCheckpoint persists the diarization checkpoint plus its CSV timeline
// and speaker summary. Written only after the whole diarization stage
// succeeded; its presence means the session is at least diarized.
func (s *Store) SaveCheckpoint(cp *types.DiarizationCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid checkpoint: %w", err)
	}
	if err := writeJSONAtomic(s.checkpointPath(cp.Session), cp); err != nil {
		return err
	}
	if err := writeFileAtomic(s.timelinePath(cp.Session), renderTimelineCSV(cp)); err != nil {
		return err
	}
	return writeJSONAtomic(s.summaryPath(cp.Session), buildDiarizationSummary(cp))
}

// LoadCheckpoint reads and validates the diarization checkpoint.
func (s *Store) LoadCheckpoint(name string) (*types.DiarizationCheckpoint, error) {
	var cp types.DiarizationCheckpoint
	if err := readJSON(s.checkpointPath(name), &cp); err != nil {
		return nil, err
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint for %q is corrupt: %w", name, err)
	}
	return &cp, nil
}

// HasCheckpoint reports whether the session has a diarization checkpoint.
func (s *Store) HasCheckpoint(name string) bool {
	_, err := os.Stat(s.checkpointPath(name))
	return err == nil
}

// failureRecord marks a session as terminally failed in diarization.
type failureRecord struct {
	Session    string    `json:"session"`
	SourceFile string    `json:"source_file"`
	FailedAt   time.Time `json:"failed_at"`
	Reason     string    `json:"reason"`
}

// MarkFailed records a terminal diarization failure. The source file stays in
// the input queue for operator inspection.
func (s *Store) MarkFailed(name, sourceFile, reason string, now time.Time) error {
	if err := s.Create(name); err != nil {
		return err
	}
	return writeJSONAtomic(s.failedPath(name), &failureRecord{
		Session:    name,
		SourceFile: sourceFile,
		FailedAt:   now,
		Reason:     reason,
	})
}

// ClearFailure removes a failure marker so a fixed recording can be retried.
func (s *Store) ClearFailure(name string) error {
	err := os.Remove(s.failedPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SaveRaw persists the raw transcript aggregate.
func (s *Store) SaveRaw(rt *types.RawTranscript) error {
	if err := rt.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid raw transcript: %w", err)
	}
	return writeJSONAtomic(s.rawPath(rt.Session), rt)
}

// LoadRaw reads and validates the raw transcript aggregate.
func (s *Store) LoadRaw(name string) (*types.RawTranscript, error) {
	var rt types.RawTranscript
	if err := readJSON(s.rawPath(name), &rt); err != nil {
		return nil, err
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("raw transcript for %q is corrupt: %w", name, err)
	}
	return &rt, nil
}

// SaveFinal persists the final transcript aggregate together with its
// human-readable text and CSV renderings.
func (s *Store) SaveFinal(ft *types.FinalTranscript) error {
	if err := ft.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid final transcript: %w", err)
	}
	if err := writeJSONAtomic(s.finalPath(ft.Session), ft); err != nil {
		return err
	}
	base := strings.TrimSuffix(s.finalPath(ft.Session), ".json")
	if err := writeFileAtomic(base+".txt", renderTranscriptText(ft)); err != nil {
		return err
	}
	return writeFileAtomic(base+".csv", renderTranscriptCSV(ft))
}

// LoadFinal reads and validates the final transcript aggregate.
func (s *Store) LoadFinal(name string) (*types.FinalTranscript, error) {
	var ft types.FinalTranscript
	if err := readJSON(s.finalPath(name), &ft); err != nil {
		return nil, err
	}
	if err := ft.Validate(); err != nil {
		return nil, fmt.Errorf("final transcript for %q is corrupt: %w", name, err)
	}
	return &ft, nil
}

// MarkRawCompleted flips the raw transcript's status after assignment, so
// the session no longer shows up in the awaiting queue.
func (s *Store) MarkRawCompleted(name string) error {
	rt, err := s.LoadRaw(name)
	if err != nil {
		return err
	}
	rt.Status = types.StatusCompleted
	return writeJSONAtomic(s.rawPath(name), rt)
}

// Status derives the session's current state from which checkpoint files
// exist and what they say. The file set on disk is the state machine's
// durable representation.
func (s *Store) Status(name string) types.Status {
	if _, err := os.Stat(s.failedPath(name)); err == nil {
		return types.StatusDiarizationFailed
	}
	if _, err := os.Stat(s.finalPath(name)); err == nil {
		return types.StatusCompleted
	}
	if rt, err := s.LoadRaw(name); err == nil {
		return rt.Status
	}
	if s.HasCheckpoint(name) {
		return types.StatusDiarized
	}
	return types.StatusPending
}

// List returns all session names in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// Only directories with the session layout count.
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), metadataDirName)); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ListByStatus returns session names currently in the given state.
func (s *Store) ListByStatus(status types.Status) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, n := range all {
		if s.Status(n) == status {
			names = append(names, n)
		}
	}
	return names, nil
}

// writeJSONAtomic marshals v and writes it atomically.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
