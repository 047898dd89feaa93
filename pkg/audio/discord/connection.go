package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mwinther/skald/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	chunkChannelBuffer  = 256
	eventChannelBuffer  = 64
	outputChannelBuffer = 64
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are demuxed by SSRC,
// decoded to PCM with one decoder per stream, attributed to a user via
// VoiceSpeakingUpdate, and delivered as [audio.Chunk] values. Outgoing PCM
// frames are encoded to Opus for transmission.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu        sync.RWMutex
	ssrcUser  map[uint32]string // SSRC → userID, fed by VoiceSpeakingUpdate
	usernames map[string]string // userID → display name, fed by VoiceStateUpdate

	chunks chan audio.Chunk
	events chan audio.Event
	output chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the voice connection during Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the background receive and send goroutines.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		ssrcUser:     make(map[uint32]string),
		usernames:    make(map[string]string),
		chunks:       make(chan audio.Chunk, chunkChannelBuffer),
		events:       make(chan audio.Event, eventChannelBuffer),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// VoiceSpeakingUpdate carries the SSRC → user binding and doubles as the
	// speaking start/stop signal.
	vc.AddHandler(c.handleSpeakingUpdate)

	// VoiceStateUpdate detects participant join/leave and display names.
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.recvLoop()
	go c.sendLoop()

	return c
}

// Chunks returns the channel delivering decoded per-speaker PCM. Closed when
// the connection terminates.
func (c *Connection) Chunks() <-chan audio.Chunk {
	return c.chunks
}

// Events returns the channel delivering participant and speaking events.
func (c *Connection) Events() <-chan audio.Event {
	return c.events
}

// OutputStream returns the write-only channel for reply playback. Frames
// written here are encoded to Opus and sent to Discord.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// Disconnect tears down the voice connection and stops all background
// goroutines. Safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection, demuxes them
// by SSRC, decodes to PCM, and delivers chunks in arrival order. Each SSRC
// gets its own decoder to maintain codec state across frames. A decoder error
// for one stream discards that packet only; other speakers are unaffected.
func (c *Connection) recvLoop() {
	defer close(c.chunks)

	decoders := make(map[uint32]*speakerDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newSpeakerDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			userID, username := c.resolve(pkt.SSRC)
			chunk := audio.Chunk{
				UserID:     userID,
				Username:   username,
				Data:       pcm,
				SampleRate: wireSampleRate,
				Channels:   wireChannels,
				ReceivedAt: time.Now(),
			}

			select {
			case c.chunks <- chunk:
			default:
				// Consumer is behind; drop rather than stall the voice socket.
			}
		}
	}
}

// sendLoop reads PCM frames from the output channel, converts them to
// Discord's wire format (48kHz stereo), slices exact Opus frame-sized chunks,
// encodes, and sends them over the voice connection.
func (c *Connection) sendLoop() {
	enc, err := newPlaybackEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: wireSampleRate, Channels: wireChannels}}

	speakingSet := false

	var buf []byte

	for {
		select {
		case <-c.done:
			if speakingSet {
				c.setSpeaking(false)
			}
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}

			if !speakingSet {
				c.setSpeaking(true)
				speakingSet = true
			}

			frame = conv.Convert(frame)
			buf = append(buf, frame.Data...)

			for len(buf) >= wireFrameBytes {
				pkt, eErr := enc.encode(buf[:wireFrameBytes])
				if eErr != nil {
					slog.Warn("discord: opus encode error", "error", eErr)
					buf = buf[wireFrameBytes:]
					continue
				}
				buf = buf[wireFrameBytes:]

				select {
				case c.vc.OpusSend <- pkt:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleSpeakingUpdate records the SSRC → user binding from Discord's
// speaking notification and forwards it as a speaking start/stop event.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}

	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	username := c.usernames[vs.UserID]
	c.mu.Unlock()

	evType := audio.EventSpeakingStop
	if vs.Speaking {
		evType = audio.EventSpeakingStart
	}
	c.emitEvent(audio.Event{Type: evType, UserID: vs.UserID, Username: username})
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves for the voice channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}
	if username != "" {
		c.mu.Lock()
		c.usernames[vsu.UserID] = username
		c.mu.Unlock()
	}

	// Participant left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
		return
	}

	// Participant joined our channel.
	if vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID) {
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// emitEvent delivers an event without blocking. Events are hints; dropping
// one under backpressure is preferable to stalling a discordgo handler.
func (c *Connection) emitEvent(ev audio.Event) {
	select {
	case <-c.done:
	case c.events <- ev:
	default:
	}
}

// resolve maps an SSRC to the user it belongs to. Until the first
// VoiceSpeakingUpdate for the stream arrives, the raw SSRC is used as a
// provisional identifier so early chunks are still attributable.
func (c *Connection) resolve(ssrc uint32) (userID, username string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.ssrcUser[ssrc]
	if !ok {
		return strconv.FormatUint(uint64(ssrc), 10), ""
	}
	return userID, c.usernames[userID]
}
