// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields the test can set to control behaviour.
//
// Typical usage:
//
//	conn := mock.NewConnection()
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "channel-42")
//	conn.SendChunk(audio.Chunk{UserID: "user-1", Data: pcm})
//	conn.SendEvent(audio.Event{Type: audio.EventSpeakingStop, UserID: "user-1"})
package mock

import (
	"context"
	"sync"

	"github.com/mwinther/skald/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection is a mock implementation of [audio.Connection]. Tests feed it
// with SendChunk and SendEvent; audio written to the output stream is
// captured on Output.
type Connection struct {
	mu sync.Mutex

	// Output receives every frame written to the connection's output stream.
	Output chan audio.AudioFrame

	// DisconnectError is returned by the first [Connection.Disconnect] call.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	chunks chan audio.Chunk
	events chan audio.Event
	done   chan struct{}
	once   sync.Once
}

// NewConnection creates a mock connection with buffered channels.
func NewConnection() *Connection {
	return &Connection{
		Output: make(chan audio.AudioFrame, 64),
		chunks: make(chan audio.Chunk, 256),
		events: make(chan audio.Event, 64),
		done:   make(chan struct{}),
	}
}

// Chunks implements [audio.Connection].
func (c *Connection) Chunks() <-chan audio.Chunk { return c.chunks }

// Events implements [audio.Connection].
func (c *Connection) Events() <-chan audio.Event { return c.events }

// OutputStream implements [audio.Connection]. Frames written to the returned
// channel appear on Output.
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.Output }

// Disconnect implements [audio.Connection]. The first call closes the chunk
// channel (as the real adapter does) and returns DisconnectError; subsequent
// calls return nil.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	c.mu.Unlock()

	first := false
	c.once.Do(func() {
		first = true
		close(c.done)
		close(c.chunks)
	})
	if first {
		return c.DisconnectError
	}
	return nil
}

// SendChunk delivers a chunk to the consumer. Panics if called after
// Disconnect, mirroring a send on the real closed pipeline.
func (c *Connection) SendChunk(chunk audio.Chunk) {
	c.chunks <- chunk
}

// SendEvent delivers a lifecycle event to the consumer.
func (c *Connection) SendEvent(ev audio.Event) {
	select {
	case <-c.done:
	case c.events <- ev:
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}
