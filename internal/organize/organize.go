// Package organize rebuilds the cross-session speaker corpus. It is a pure
// fan-in over the immutable per-session aggregates: every run recomputes all
// identity profiles from scratch, so correcting one session's speaker
// mapping and re-running yields a globally consistent corpus with no manual
// bookkeeping.
package organize

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// Builder recomputes the corpus from the session store.
type Builder struct {
	store     *session.Store
	corpusDir string
	floor     float64           // minimum total seconds for fine-tune eligibility
	sentinels map[string]bool   // normalized low-quality identity strings
	aliases   map[string]string // normalized alias -> canonical display name

	// CopyArtifacts controls whether segment audio is copied into
	// per-identity directories. Disabled in tests that only check profiles.
	CopyArtifacts bool
}

// NewBuilder creates a corpus builder. sentinels and aliases come from the
// operator-maintained configuration, not from inference.
func NewBuilder(store *session.Store, corpusDir string, floor float64, sentinels []string, aliases map[string]string) *Builder {
	b := &Builder{
		store:         store,
		corpusDir:     corpusDir,
		floor:         floor,
		sentinels:     make(map[string]bool, len(sentinels)),
		aliases:       make(map[string]string, len(aliases)),
		CopyArtifacts: true,
	}
	for _, s := range sentinels {
		b.sentinels[normalizeKey(s)] = true
	}
	for alias, canonical := range aliases {
		b.aliases[normalizeKey(alias)] = normalizeSpaces(canonical)
	}
	return b
}

// normalizeSpaces collapses runs of whitespace and trims the ends.
func normalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeKey is the case- and whitespace-insensitive grouping key.
func normalizeKey(s string) string {
	return strings.ToLower(normalizeSpaces(s))
}

// resolve maps a raw identity string through whitespace normalization and the
// alias table, returning the grouping key and the display name.
func (b *Builder) resolve(identity string) (key, display string) {
	display = normalizeSpaces(identity)
	key = strings.ToLower(display)
	if canonical, ok := b.aliases[key]; ok {
		display = canonical
		key = strings.ToLower(canonical)
	}
	return key, display
}

// segmentRef is one corpus-relevant segment with its owning session.
type segmentRef struct {
	session  string
	artifact string
	duration float64
}

type group struct {
	display  string
	segments []segmentRef
}

// Rebuild recomputes all identity profiles and the global summary, replacing
// any previous corpus output. Sessions in completed status contribute their
// resolved identities; sessions still awaiting assignment fall back to their
// provisional labels so early corpus inspection works before review.
func (b *Builder) Rebuild(now time.Time) (*types.CorpusSummary, error) {
	names, err := b.store.List()
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*group)
	sessionsUsed := 0

	for _, name := range names {
		entries, ok := b.sessionEntries(name)
		if !ok {
			continue
		}
		sessionsUsed++
		for _, e := range entries {
			if e.Error != "" || e.Artifact == "" {
				continue // Nothing usable for the corpus
			}
			key, display := b.resolve(e.Identity)
			if key == "" {
				continue
			}
			g := groups[key]
			if g == nil {
				g = &group{display: display}
				groups[key] = g
			} else if display < g.display {
				// Deterministic display name across spelling variants.
				g.display = display
			}
			g.segments = append(g.segments, segmentRef{
				session:  name,
				artifact: e.Artifact,
				duration: e.Duration(),
			})
		}
	}

	summary := b.buildSummary(groups, sessionsUsed, now)

	if err := b.writeCorpus(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// sessionEntries returns the corpus-relevant entries for one session, with
// every entry's Identity populated. Completed sessions are preferred;
// awaiting sessions use provisional labels directly.
func (b *Builder) sessionEntries(name string) ([]types.TranscriptEntry, bool) {
	switch b.store.Status(name) {
	case types.StatusCompleted:
		ft, err := b.store.LoadFinal(name)
		if err != nil {
			log.Printf("Skipping session %s: %v", name, err)
			return nil, false
		}
		return ft.Entries, true
	case types.StatusAwaitingAssignment:
		rt, err := b.store.LoadRaw(name)
		if err != nil {
			log.Printf("Skipping session %s: %v", name, err)
			return nil, false
		}
		entries := make([]types.TranscriptEntry, len(rt.Entries))
		for i, e := range rt.Entries {
			e.Identity = e.Label
			entries[i] = e
		}
		return entries, true
	}
	return nil, false
}

func (b *Builder) buildSummary(groups map[string]*group, sessionsUsed int, now time.Time) *types.CorpusSummary {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	summary := &types.CorpusSummary{
		GeneratedAt: now,
		Sessions:    sessionsUsed,
	}

	for _, key := range keys {
		g := groups[key]

		perSession := make(map[string]*types.SessionShare)
		profile := types.IdentityProfile{Identity: g.display}
		for _, ref := range g.segments {
			profile.Segments++
			profile.Duration += ref.duration
			profile.Artifacts = append(profile.Artifacts, filepath.Join(ref.session, "segments", ref.artifact))
			share := perSession[ref.session]
			if share == nil {
				share = &types.SessionShare{Session: ref.session}
				perSession[ref.session] = share
			}
			share.Segments++
			share.Duration += ref.duration
		}
		if profile.Segments > 0 {
			profile.AverageDuration = profile.Duration / float64(profile.Segments)
		}

		sessionNames := make([]string, 0, len(perSession))
		for s := range perSession {
			sessionNames = append(sessionNames, s)
		}
		sort.Strings(sessionNames)
		for _, s := range sessionNames {
			profile.Sessions = append(profile.Sessions, *perSession[s])
		}
		sort.Strings(profile.Artifacts)

		profile.Eligible, profile.ExclusionReason = b.eligibility(key, profile.Duration)

		summary.Profiles = append(summary.Profiles, profile)
		summary.Identities++
		if profile.Eligible {
			summary.Eligible++
		}
		summary.Segments += profile.Segments
		summary.Duration += profile.Duration
	}

	return summary
}

// eligibility decides whether an identity group enters the fine-tuning-ready
// subset. Excluded groups stay visible in the summary for diagnostics.
func (b *Builder) eligibility(key string, totalDuration float64) (bool, string) {
	if types.IsProvisionalLabel(key) {
		return false, "provisional label was never mapped to a real name"
	}
	if b.sentinels[key] {
		return false, fmt.Sprintf("identity %q is a low-quality sentinel", key)
	}
	if totalDuration < b.floor {
		return false, fmt.Sprintf("total duration %.1fs below quality floor %.1fs", totalDuration, b.floor)
	}
	return true, ""
}

// writeCorpus replaces the corpus directory contents with the freshly
// computed profiles: one directory per eligible identity holding its profile
// and (optionally) copies of its segment artifacts, plus the global summary.
func (b *Builder) writeCorpus(summary *types.CorpusSummary) error {
	if err := os.RemoveAll(b.corpusDir); err != nil {
		return fmt.Errorf("clearing corpus directory: %w", err)
	}
	if err := os.MkdirAll(b.corpusDir, 0755); err != nil {
		return fmt.Errorf("creating corpus directory: %w", err)
	}

	for _, profile := range summary.Profiles {
		if !profile.Eligible {
			continue
		}
		dir := filepath.Join(b.corpusDir, identityDirName(profile.Identity))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating identity directory: %w", err)
		}
		if err := writeJSON(filepath.Join(dir, "profile.json"), profile); err != nil {
			return err
		}
		if b.CopyArtifacts {
			if err := b.copyArtifacts(dir, profile.Artifacts); err != nil {
				return err
			}
		}
	}

	return writeJSON(filepath.Join(b.corpusDir, "corpus_summary.json"), summary)
}

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// identityDirName converts a display name into a filesystem-safe directory
// name ("Alice Smith" -> "Alice_Smith").
func identityDirName(identity string) string {
	return unsafeDirChars.ReplaceAllString(identity, "_")
}

// copyArtifacts copies segment audio into the identity directory. Artifact
// paths are relative to the session root; the copy is prefixed with the
// session name, which the segment filename already carries.
func (b *Builder) copyArtifacts(dir string, artifacts []string) error {
	for _, rel := range artifacts {
		src := filepath.Join(b.store.Root(), rel)
		dst := filepath.Join(dir, filepath.Base(rel))
		if err := copyFile(src, dst); err != nil {
			// A missing artifact should not abort the rebuild; the
			// profile still records it.
			log.Printf("Copying corpus artifact %s: %v", rel, err)
		}
	}
	return nil
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

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
