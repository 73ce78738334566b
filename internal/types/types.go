package types

import (
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a processing session.
type Status string

// Session lifecycle states. Transitions are strictly forward; there is no
// automatic rollback. Transcription failures do not get their own state,
// they surface as per-entry error markers inside awaiting_assignment.
const (
	StatusPending            Status = "pending"
	StatusDiarized           Status = "diarized"
	StatusAwaitingAssignment Status = "awaiting_assignment"
	StatusCompleted          Status = "completed"
	StatusDiarizationFailed  Status = "diarization_failed"
)

// Valid reports whether s is a known session status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDiarized, StatusAwaitingAssignment, StatusCompleted, StatusDiarizationFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition exists from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDiarizationFailed
}

// CanTransition reports whether moving from s to next is a legal forward
// transition in the session state machine.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusDiarized || next == StatusDiarizationFailed
	case StatusDiarized:
		return next == StatusAwaitingAssignment
	case StatusAwaitingAssignment:
		return next == StatusCompleted
	}
	return false
}

// provisionalLabelPattern matches anonymous diarizer labels such as
// SPEAKER_00. These are session-local tokens, never real identities.
var provisionalLabelPattern = regexp.MustCompile(`(?i)^speaker_\d+$`)

// IsProvisionalLabel reports whether name looks like an anonymous diarizer
// label rather than a resolved human identity.
func IsProvisionalLabel(name string) bool {
	return provisionalLabelPattern.MatchString(name)
}

// Segment is one detected speech interval. Created by the diarization stage
// and read-only afterward; assignment relabels entries, it never mutates the
// provisional label recorded here.
type Segment struct {
	Session  string  `json:"session"`
	Label    string  `json:"label"`
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Artifact string  `json:"artifact,omitempty"`
	Excluded bool    `json:"excluded,omitempty"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Validate checks the segment boundary invariants.
func (s Segment) Validate() error {
	if s.Session == "" {
		return fmt.Errorf("segment missing session reference")
	}
	if s.Label == "" {
		return fmt.Errorf("segment missing provisional label")
	}
	if s.Start < 0 {
		return fmt.Errorf("segment start %.2f is negative", s.Start)
	}
	if s.End <= s.Start {
		return fmt.Errorf("segment end %.2f must be greater than start %.2f", s.End, s.Start)
	}
	if !s.Excluded && s.Artifact == "" {
		return fmt.Errorf("non-excluded segment %d has no audio artifact", s.Index)
	}
	return nil
}

// DiarizationCheckpoint is the durable per-session diarization record. It is
// only written after the whole stage succeeds, which makes transcription
// resumable without rerunning inference.
type DiarizationCheckpoint struct {
	Session     string    `json:"session"`
	SourceFile  string    `json:"source_file"`
	GeneratedAt time.Time `json:"generated_at"`
	SampleRate  int       `json:"sample_rate"`
	Speakers    []string  `json:"speakers"`
	Segments    []Segment `json:"segments"`
}

// Validate rejects nonconforming checkpoints at load time so later stages
// never fail deep inside their own logic.
func (cp *DiarizationCheckpoint) Validate() error {
	if cp.Session == "" {
		return fmt.Errorf("checkpoint missing session name")
	}
	if cp.SampleRate <= 0 {
		return fmt.Errorf("checkpoint sample rate must be positive, got %d", cp.SampleRate)
	}
	if len(cp.Segments) == 0 {
		return fmt.Errorf("checkpoint has no segments")
	}
	known := make(map[string]bool, len(cp.Speakers))
	for _, sp := range cp.Speakers {
		known[sp] = true
	}
	var prev float64 = -1
	for i, seg := range cp.Segments {
		if err := seg.Validate(); err != nil {
			return fmt.Errorf("segment %d: %v", i, err)
		}
		if seg.Session != cp.Session {
			return fmt.Errorf("segment %d references session %q, want %q", i, seg.Session, cp.Session)
		}
		if !known[seg.Label] {
			return fmt.Errorf("segment %d uses unknown speaker label %q", i, seg.Label)
		}
		if seg.Start < prev {
			return fmt.Errorf("segments not ordered by start time at index %d", i)
		}
		prev = seg.Start
	}
	return nil
}

// TranscriptEntry is the recognized text for one segment. Error carries the
// per-entry failure marker for isolated transcription failures. Identity is
// filled during assignment: the mapped name, or the provisional label when
// the operator left it unmapped. It is never empty in a final transcript.
type TranscriptEntry struct {
	Artifact string  `json:"segment"`
	Label    string  `json:"label"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Error    string  `json:"error,omitempty"`
	Identity string  `json:"identity,omitempty"`
}

// Duration returns the entry length in seconds.
func (e TranscriptEntry) Duration() float64 {
	return e.End - e.Start
}

// RawTranscript is the per-session checkpoint written after transcription.
// Its status field is the hinge the assignment stage polls for.
type RawTranscript struct {
	Session     string            `json:"session"`
	Status      Status            `json:"status"`
	GeneratedAt time.Time         `json:"generated_at"`
	Speakers    []string          `json:"speakers_detected"`
	Entries     []TranscriptEntry `json:"entries"`
}

// Validate rejects nonconforming raw transcripts at load time.
func (rt *RawTranscript) Validate() error {
	if rt.Session == "" {
		return fmt.Errorf("raw transcript missing session name")
	}
	if rt.Status != StatusAwaitingAssignment && rt.Status != StatusCompleted {
		return fmt.Errorf("raw transcript has unexpected status %q", rt.Status)
	}
	known := make(map[string]bool, len(rt.Speakers))
	for _, sp := range rt.Speakers {
		known[sp] = true
	}
	var prev float64 = -1
	for i, e := range rt.Entries {
		if e.Label == "" {
			return fmt.Errorf("entry %d missing provisional label", i)
		}
		if !known[e.Label] {
			return fmt.Errorf("entry %d uses unknown speaker label %q", i, e.Label)
		}
		if e.Start < prev {
			return fmt.Errorf("entries not ordered by start time at index %d", i)
		}
		prev = e.Start
	}
	return nil
}

// SpeakerMapping maps provisional labels to resolved human identities for one
// session. Unmapped labels are legal and mean "not yet reviewed".
type SpeakerMapping map[string]string

// FinalTranscript is the post-assignment persisted record for a session.
type FinalTranscript struct {
	Session     string            `json:"session"`
	Status      Status            `json:"status"`
	GeneratedAt time.Time         `json:"generated_at"`
	Mapping     SpeakerMapping    `json:"speaker_mappings"`
	Speakers    []string          `json:"speakers"`
	Entries     []TranscriptEntry `json:"entries"`
}

// Validate enforces the total-rewrite invariant: every entry traces back to
// either a mapping entry or its own provisional label.
func (ft *FinalTranscript) Validate() error {
	if ft.Session == "" {
		return fmt.Errorf("final transcript missing session name")
	}
	if ft.Status != StatusCompleted {
		return fmt.Errorf("final transcript has status %q, want %q", ft.Status, StatusCompleted)
	}
	for i, e := range ft.Entries {
		if e.Identity == "" {
			return fmt.Errorf("entry %d has no resolved identity", i)
		}
		if mapped, ok := ft.Mapping[e.Label]; ok {
			if e.Identity != mapped {
				return fmt.Errorf("entry %d identity %q does not match mapping %q", i, e.Identity, mapped)
			}
		} else if e.Identity != e.Label {
			return fmt.Errorf("entry %d identity %q is neither mapped nor the provisional label %q", i, e.Identity, e.Label)
		}
	}
	return nil
}

// SessionShare is the per-session contribution inside an identity profile.
type SessionShare struct {
	Session  string  `json:"session"`
	Segments int     `json:"segments"`
	Duration float64 `json:"duration_seconds"`
}

// IdentityProfile aggregates all segments across all sessions that resolve to
// the same identity. Profiles are fully recomputed on every organizer run.
type IdentityProfile struct {
	Identity        string         `json:"identity"`
	Segments        int            `json:"total_segments"`
	Duration        float64        `json:"total_duration_seconds"`
	AverageDuration float64        `json:"average_segment_duration"`
	Sessions        []SessionShare `json:"sessions"`
	Artifacts       []string       `json:"artifacts"`
	Eligible        bool           `json:"finetune_eligible"`
	ExclusionReason string         `json:"exclusion_reason,omitempty"`
}

// CorpusSummary is the global rollup across all identity profiles.
type CorpusSummary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Identities  int               `json:"total_identities"`
	Eligible    int               `json:"eligible_identities"`
	Segments    int               `json:"total_segments"`
	Duration    float64           `json:"total_duration_seconds"`
	Sessions    int               `json:"sessions_processed"`
	Profiles    []IdentityProfile `json:"profiles"`
}
