package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mwinther/skald/pkg/audio"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection. It wires up fake OpusSend/OpusRecv channels.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		session:      &discordgo.Session{},
		guildID:      "guild-test",
		ssrcUser:     make(map[uint32]string),
		usernames:    make(map[string]string),
		chunks:       make(chan audio.Chunk, chunkChannelBuffer),
		events:       make(chan audio.Event, eventChannelBuffer),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil }, // no-op for tests
	}
	// Start loops like the real constructor (but without registering the
	// session handler since the fake session has no websocket).
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// silenceOpus is a minimal valid Opus silence frame.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// recvChunk waits for one chunk or fails the test.
func recvChunk(t *testing.T, c *Connection) audio.Chunk {
	t.Helper()
	select {
	case chunk := <-c.Chunks():
		return chunk
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
		return audio.Chunk{}
	}
}

// ─── Platform tests ──────────────────────────────────────────────────────────

// TestNewPlatform verifies that New creates a Platform with the expected fields.
func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

// TestConnection_DisconnectIdempotent verifies that Disconnect can be called
// multiple times without panicking and returns nil on subsequent calls.
func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		err := c.Disconnect()
		if i > 0 && err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

// TestConnection_RecvDecodes verifies that incoming Opus packets are decoded
// and delivered as chunks attributed by SSRC until the user is known.
func TestConnection_RecvDecodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	chunk := recvChunk(t, c)
	if chunk.UserID != "100" {
		t.Errorf("UserID = %q, want provisional SSRC %q", chunk.UserID, "100")
	}
	if chunk.SampleRate != wireSampleRate {
		t.Errorf("SampleRate = %d, want %d", chunk.SampleRate, wireSampleRate)
	}
	if chunk.Channels != wireChannels {
		t.Errorf("Channels = %d, want %d", chunk.Channels, wireChannels)
	}
	if len(chunk.Data) == 0 {
		t.Error("chunk data is empty")
	}
	if chunk.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

// TestConnection_SpeakingUpdateBindsUser verifies that a VoiceSpeakingUpdate
// binds the SSRC to the user, attributes subsequent chunks, and emits a
// speaking event.
func TestConnection_SpeakingUpdateBindsUser(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.mu.Lock()
	c.usernames["user-1"] = "Alice"
	c.mu.Unlock()

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{
		UserID: "user-1", SSRC: 100, Speaking: true,
	})

	select {
	case ev := <-c.Events():
		if ev.Type != audio.EventSpeakingStart {
			t.Errorf("event type = %v, want EventSpeakingStart", ev.Type)
		}
		if ev.UserID != "user-1" || ev.Username != "Alice" {
			t.Errorf("event identity = %q/%q, want user-1/Alice", ev.UserID, ev.Username)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking event")
	}

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	chunk := recvChunk(t, c)
	if chunk.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", chunk.UserID, "user-1")
	}
	if chunk.Username != "Alice" {
		t.Errorf("Username = %q, want %q", chunk.Username, "Alice")
	}

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{
		UserID: "user-1", SSRC: 100, Speaking: false,
	})
	select {
	case ev := <-c.Events():
		if ev.Type != audio.EventSpeakingStop {
			t.Errorf("event type = %v, want EventSpeakingStop", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking stop event")
	}
}

// TestConnection_RecvInterleavesSpeakers verifies that two SSRCs produce
// independently attributed chunks on the shared channel.
func TestConnection_RecvInterleavesSpeakers(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-a", SSRC: 100, Speaking: true})
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-b", SSRC: 200, Speaking: true})

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	got := map[string]bool{}
	for range 2 {
		got[recvChunk(t, c).UserID] = true
	}
	if !got["user-a"] || !got["user-b"] {
		t.Errorf("chunks attributed to %v, want user-a and user-b", got)
	}
}

// TestConnection_ChunksClosedOnDisconnect verifies that the chunk channel is
// closed when the connection terminates so consumers see EOF.
func TestConnection_ChunksClosedOnDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	_ = c.Disconnect()

	select {
	case _, ok := <-c.Chunks():
		if ok {
			t.Error("expected closed chunk channel after Disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk channel to close")
	}
}

// TestConnection_SendEncodes verifies that frames written to OutputStream
// are encoded and appear on OpusSend.
func TestConnection_SendEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// One 20ms stereo 48kHz frame: 960 samples * 2 channels * 2 bytes = 3840.
	pcm := make([]byte, wireFrameBytes)
	c.OutputStream() <- audio.AudioFrame{
		Data:       pcm,
		SampleRate: wireSampleRate,
		Channels:   wireChannels,
	}

	select {
	case opusData := <-c.vc.OpusSend:
		if len(opusData) == 0 {
			t.Error("OpusSend: received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet on OpusSend")
	}
}

// TestConnection_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines to verify thread safety (run with -race).
func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
