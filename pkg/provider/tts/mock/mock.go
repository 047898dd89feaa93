// Package mock provides a test double for the tts.Synthesizer interface.
//
// Set the result fields before use and inspect Calls afterwards:
//
//	s := &mock.Synthesizer{WAV: wavBytes}
//	audio, _ := s.Synthesize(ctx, "hello", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/mwinther/skald/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Synthesizer is a mock [tts.Synthesizer].
type Synthesizer struct {
	mu sync.Mutex

	// WAV and Err are returned by Synthesize.
	WAV []byte
	Err error

	// Voices and VoicesErr are returned by ListVoices.
	Voices    []tts.VoiceInfo
	VoicesErr error

	// HealthyErr is returned by Healthy.
	HealthyErr error

	// Calls records every Synthesize invocation in order.
	Calls []SynthesizeCall
}

// Synthesize implements [tts.Synthesizer].
func (s *Synthesizer) Synthesize(_ context.Context, text string, voice tts.Voice) ([]byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Voice: voice})
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.WAV, nil
}

// ListVoices implements [tts.Synthesizer].
func (s *Synthesizer) ListVoices(context.Context) ([]tts.VoiceInfo, error) {
	return s.Voices, s.VoicesErr
}

// Healthy implements [tts.Synthesizer].
func (s *Synthesizer) Healthy(context.Context) error {
	return s.HealthyErr
}

// CallCount returns how many Synthesize calls were made.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
