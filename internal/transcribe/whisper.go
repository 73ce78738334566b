package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// WhisperCommand transcribes segments by invoking OpenAI Whisper via
// `python -m whisper`. The Python process loads the model per invocation;
// segment artifacts are short, so this stays tolerable for batch use.
type WhisperCommand struct {
	model    string
	language string
	mu       sync.Mutex // One inference at a time; the model is accelerator-bound
}

// NewWhisperCommand creates a Whisper-backed transcriber.
func NewWhisperCommand(model, language string) *WhisperCommand {
	log.Printf("Using Whisper model %q via python -m whisper", model)
	return &WhisperCommand{model: model, language: language}
}

// Transcribe runs Whisper on one segment artifact and returns its text.
func (wt *WhisperCommand) Transcribe(ctx context.Context, wavPath string) (Result, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	outDir, err := os.MkdirTemp("", "whisper_output")
	if err != nil {
		return Result{}, fmt.Errorf("creating whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absPath, err := filepath.Abs(wavPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolving segment path: %w", err)
	}

	args := []string{"-m", "whisper",
		absPath,
		"--model", wt.model,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if wt.language != "" {
		args = append(args, "--language", wt.language)
	}

	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("whisper failed: %v\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	jsonPath := filepath.Join(outDir, baseName+".json")

	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return Result{}, fmt.Errorf("reading whisper output: %w", err)
	}

	return ParseOutput(jsonData)
}

// whisperOutput matches Whisper's JSON output format.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// ParseOutput decodes Whisper's JSON output into a Result.
func ParseOutput(data []byte) (Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("parsing whisper JSON: %w", err)
	}
	return Result{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}, nil
}
