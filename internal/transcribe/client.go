// Package transcribe is the boundary to the external transcription
// collaborator. The sync core only consumes it to fill a message's
// transcription fields through the mutation pipeline.
package transcribe

import (
	"context"
)

// Result is a finished transcription.
type Result struct {
	Text      string
	Language  string
	LatencyMs int64
}

// Transcriber converts audio media into text.
type Transcriber interface {
	// Transcribe transcribes the audio file at path.
	Transcribe(ctx context.Context, path string) (*Result, error)

	// Name returns the provider name.
	Name() string
}
