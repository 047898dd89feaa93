// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer wraps a speech synthesis service and returns complete audio
// clips in a standard container format (WAV unless the implementation
// documents otherwise). Implementations must be safe for concurrent use —
// replies for multiple guilds may be synthesized in parallel.
package tts

import "context"

// Voice selects and tunes the synthesis voice. Zero-valued fields are
// replaced by implementation defaults.
type Voice struct {
	// ReferenceAudio is the reference audio filename used for voice cloning
	// (e.g. "emmastone.wav").
	ReferenceAudio string

	// Temperature controls sampling randomness. Default 0.8.
	Temperature float64

	// Exaggeration controls expressiveness. Default 0.5.
	Exaggeration float64

	// CFGWeight is the classifier-free guidance weight. Default 0.5.
	CFGWeight float64

	// SpeedFactor adjusts speaking rate (1.0 = normal).
	SpeedFactor float64

	// Seed fixes the sampling seed; 0 picks a random seed per request.
	Seed int64
}

// VoiceInfo describes one voice available from the backend.
type VoiceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech and returns the complete audio clip.
	// An empty text is an error.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)

	// ListVoices returns the voices currently available from the backend.
	ListVoices(ctx context.Context) ([]VoiceInfo, error)

	// Healthy probes the backend, returning nil when it is reachable and
	// ready to synthesize.
	Healthy(ctx context.Context) error
}
