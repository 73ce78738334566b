// Package transcribe invokes the external speech-to-text model on individual
// segment artifacts. Unlike diarization, a single segment's failure is
// isolated: it becomes an error marker on that entry, never a session abort.
package transcribe

import "context"

// Result is the recognized text for one audio segment.
type Result struct {
	Text     string
	Language string
}

// Transcriber converts one segment artifact to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (Result, error)
}
