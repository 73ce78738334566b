// Package diarize invokes the external speaker diarization model. The model
// is an opaque collaborator: it consumes a waveform path and emits JSON
// speaker turns. Any failure fails the whole session, because downstream
// stages assume globally consistent provisional labels within a session.
package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Turn is one (start, end, speaker) interval returned by the model.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarizer turns one decoded waveform into an ordered list of speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, wavPath string) ([]Turn, error)
}

// Command runs a diarization command that prints JSON turns to stdout.
// The HuggingFace token (or equivalent) is passed through the environment.
type Command struct {
	path     string
	args     []string
	tokenEnv string
	token    string
}

// NewCommand creates a Command diarizer. tokenEnv/token may be empty when the
// model needs no credential.
func NewCommand(path string, args []string, tokenEnv, token string) *Command {
	return &Command{path: path, args: args, tokenEnv: tokenEnv, token: token}
}

// Diarize runs the external model on wavPath and returns validated, ordered
// turns. No partial result is ever returned.
func (c *Command) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	args := append(append([]string{}, c.args...), wavPath)
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Env = os.Environ()
	if c.tokenEnv != "" && c.token != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", c.tokenEnv, c.token))
	}
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("diarization command failed: %w", err)
	}

	return ParseTurns(out)
}

// ParseTurns decodes and validates the model's JSON output. Turns are
// returned sorted by start time; an invalid turn rejects the whole output.
func ParseTurns(data []byte) ([]Turn, error) {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("diarizer returned invalid JSON: %w", err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("diarizer returned no speaker turns")
	}

	for i, t := range turns {
		if t.Speaker == "" {
			return nil, fmt.Errorf("turn %d has no speaker label", i)
		}
		if t.Start < 0 {
			return nil, fmt.Errorf("turn %d has negative start %.2f", i, t.Start)
		}
		if t.End <= t.Start {
			return nil, fmt.Errorf("turn %d has end %.2f <= start %.2f", i, t.End, t.Start)
		}
	}

	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns, nil
}

// Speakers returns the distinct speaker labels in turns, sorted.
func Speakers(turns []Turn) []string {
	seen := make(map[string]bool)
	var speakers []string
	for _, t := range turns {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			speakers = append(speakers, t.Speaker)
		}
	}
	sort.Strings(speakers)
	return speakers
}
