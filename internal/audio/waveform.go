package audio

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Waveform holds a decoded mono PCM waveform in memory. The source recording
// is loaded once and sliced many times, so segment extraction never re-reads
// the file per segment.
type Waveform struct {
	sampleRate int
	bitDepth   int
	samples    []int
}

// LoadWAV decodes a mono WAV file into memory.
func LoadWAV(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening waveform: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding waveform %q: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return nil, fmt.Errorf("waveform %q is not mono", path)
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("waveform %q contains no samples", path)
	}

	return &Waveform{
		sampleRate: buf.Format.SampleRate,
		bitDepth:   int(dec.BitDepth),
		samples:    buf.Data,
	}, nil
}

// SampleRate returns the waveform sample rate in Hz.
func (w *Waveform) SampleRate() int {
	return w.sampleRate
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	return float64(len(w.samples)) / float64(w.sampleRate)
}

// WriteSlice writes the [start, end) interval (in seconds) as a standalone
// WAV file. Boundaries are clamped to the waveform length.
func (w *Waveform) WriteSlice(start, end float64, path string) error {
	if end <= start {
		return fmt.Errorf("slice end %.2f must be greater than start %.2f", end, start)
	}

	startSample := int(start * float64(w.sampleRate))
	endSample := int(end * float64(w.sampleRate))
	if startSample < 0 {
		startSample = 0
	}
	if endSample > len(w.samples) {
		endSample = len(w.samples)
	}
	if startSample >= endSample {
		return fmt.Errorf("slice [%.2f, %.2f) is outside the waveform", start, end)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating segment file: %w", err)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, w.sampleRate, w.bitDepth, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: w.sampleRate},
		Data:           w.samples[startSample:endSample],
		SourceBitDepth: w.bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("writing segment samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing segment file: %w", err)
	}
	return nil
}
