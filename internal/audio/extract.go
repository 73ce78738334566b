package audio

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Extractor produces a decoded mono waveform file from an arbitrary
// audio/video container.
type Extractor interface {
	Extract(ctx context.Context, inputPath, scratchDir string) (string, error)
}

// FFmpeg extracts and normalizes audio by shelling out to ffmpeg.
type FFmpeg struct{}

// Extract converts any supported container to a 16kHz mono WAV in scratchDir
// and returns its path. The caller owns cleanup of the returned file.
func (FFmpeg) Extract(ctx context.Context, inputPath, scratchDir string) (string, error) {
	outputPath := filepath.Join(scratchDir, fmt.Sprintf("decoded_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",               // Drop any video stream
		"-ar", "16000",      // 16kHz sample rate
		"-ac", "1",          // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y",                // Overwrite output
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}

	return outputPath, nil
}

// SupportedFormat checks if the file format is a supported recording container.
func SupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supportedFormats := []string{".wav", ".mp3", ".flac", ".m4a", ".aac", ".ogg", ".webm", ".mp4", ".mkv", ".mov"}

	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
