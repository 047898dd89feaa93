// Package audio defines the interfaces and types for voice-platform
// connectivity plus the PCM utilities (analysis, WAV framing, format
// conversion) shared by the capture and playback pipelines.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Connection].
//   - [Connection] — an active session on that channel, delivering decoded
//     per-speaker PCM chunks and lifecycle events, and accepting playback audio.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., audio/discord). The interfaces are intentionally narrow so the
// capture pipeline stays decoupled from provider details.
package audio

import (
	"context"
	"time"
)

// Chunk is one decoded PCM segment attributed to a single speaker. Chunks for
// a given speaker are delivered in arrival order; chunks across speakers are
// interleaved with no ordering guarantee.
type Chunk struct {
	// UserID is the platform ID of the speaker. Falls back to the raw stream
	// identifier (SSRC) until the platform reveals the speaker's identity.
	UserID string

	// Username is the display name of the speaker, if known.
	Username string

	// Data is little-endian 16-bit PCM.
	Data []byte

	// SampleRate and Channels describe Data.
	SampleRate int
	Channels   int

	// ReceivedAt is the local arrival time of the chunk.
	ReceivedAt time.Time
}

// EventType classifies lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave

	// EventSpeakingStart is emitted when a participant begins transmitting audio.
	EventSpeakingStart

	// EventSpeakingStop is emitted when a participant stops transmitting audio.
	EventSpeakingStop
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventSpeakingStart:
		return "SPEAKING_START"
	case EventSpeakingStop:
		return "SPEAKING_STOP"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name, when the platform provides it.
	Username string
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called. Implementations must be safe for
// concurrent use.
type Connection interface {
	// Chunks returns the channel delivering decoded per-speaker PCM. The
	// channel is closed when the connection terminates. Implementations drop
	// chunks rather than block when the consumer falls behind.
	Chunks() <-chan Chunk

	// Events returns the channel delivering participant join/leave and
	// speaking start/stop events. Events may be dropped under backpressure;
	// consumers must treat them as hints, not a reliable log. The channel is
	// not closed on Disconnect — consumers stop via their own lifecycle.
	Events() <-chan Event

	// OutputStream returns the write-only channel for reply playback. Frames
	// written here are converted to the platform format, encoded, and sent to
	// all channel participants.
	//
	// Ownership: the returned channel is owned by the caller (writer); the
	// platform does not close it on Disconnect. Writes after Disconnect drop
	// frames rather than panic.
	OutputStream() chan<- AudioFrame

	// Disconnect tears down the connection and stops all background
	// goroutines. Safe to call more than once; subsequent calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs and expose a uniform
// [Connection] abstraction. Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID and returns an
	// active [Connection]. The supplied ctx bounds the connection attempt
	// only; once connected, the Connection lives until Disconnect. A ctx
	// deadline surfaces as a connection failure, never a hang.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
