// Package transcriber defines the Provider interface for batch
// speech-to-text backends.
//
// A transcriber accepts one complete utterance in a standard container format
// (WAV) and returns the recognised text plus whatever confidence metadata the
// backend exposes. Streaming partials are deliberately out of scope: the
// capture pipeline only submits finalized utterances.
//
// Implementations must be safe for concurrent use.
package transcriber

import (
	"context"
	"time"
)

// Segment is one backend-reported slice of the transcript with its average
// token log-probability. Not all models report segments.
type Segment struct {
	// Text is the segment's transcript slice.
	Text string

	// AvgLogprob is the average log-probability of the segment's tokens.
	// exp(AvgLogprob) is a per-segment confidence estimate.
	AvgLogprob float64
}

// Result is a raw transcription response, before any content validation.
type Result struct {
	// Text is the recognised speech.
	Text string

	// Language is the detected or requested language code, when reported.
	Language string

	// Duration is the audio length as measured by the backend, when reported.
	Duration time.Duration

	// Model identifies the model that produced this result.
	Model string

	// Segments carries per-segment confidence metadata. Empty for models
	// that return plain-text responses only.
	Segments []Segment
}

// Request is one utterance submitted for transcription.
type Request struct {
	// WAV is the complete utterance in a RIFF/WAV container.
	WAV []byte

	// Language is an optional BCP-47 hint (e.g. "en").
	Language string

	// Prompt is an optional context hint to bias recognition.
	Prompt string
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe submits one utterance and blocks until the backend responds
	// or ctx expires. A transport or backend error is returned as-is so the
	// caller can decide on fallback; content-level rejection is not the
	// provider's concern.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Model returns the identifier of the model this provider calls,
	// for logging and result attribution.
	Model() string
}
