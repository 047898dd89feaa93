package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from voice-channel input
// streams, buffered per speaker, and played back through output streams.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo (Discord voice is stereo).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
