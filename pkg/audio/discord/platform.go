// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with the PCM [audio.Chunk] pipeline.
//
// The platform requires an active *discordgo.Session (owned by the bot layer)
// and a guild ID. Each call to [Platform.Connect] joins the specified voice
// channel and returns a [Connection] that demuxes per-speaker audio input and
// muxes reply audio output.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/mwinther/skald/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo voice connection.
// It requires an active *discordgo.Session (owned by the bot layer).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Connection]. The supplied ctx bounds the join attempt: if it
// expires before Discord confirms the voice handshake, Connect returns the
// ctx error instead of hanging, and a late-arriving connection is torn down.
// Once returned, the Connection lives until [Connection.Disconnect].
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan joinResult, 1)

	// mute=false (we send reply audio), deaf=false (we receive speaker audio).
	go func() {
		vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
		res <- joinResult{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		// The join may still complete in the background; disconnect it when
		// it does so the gateway does not hold a ghost voice state.
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				if err := r.vc.Disconnect(); err != nil {
					slog.Warn("discord: disconnect after abandoned join", "channel", channelID, "error", err)
				}
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		return newConnection(r.vc, p.session, p.guildID), nil
	}
}
