package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwinther/skald/internal/capture"
	"github.com/mwinther/skald/internal/config"
	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/internal/respond"
	"github.com/mwinther/skald/internal/transcribe"
	"github.com/mwinther/skald/pkg/audio"
	"github.com/mwinther/skald/pkg/provider/tts"
)

// Dialer connects to one guild's voice channel. The ctx bounds the join
// attempt only.
type Dialer func(ctx context.Context, guildID, channelID string) (audio.Connection, error)

// Session is one guild's live voice presence: the connection, its capture
// pipeline, and the responder consuming its transcripts.
type Session struct {
	GuildID   string
	ChannelID string

	conn     audio.Connection
	pipeline *capture.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
	live     atomic.Bool
}

// Live reports whether the session is still up. Transcription results that
// land after teardown check this and are dropped.
func (s *Session) Live() bool { return s.live.Load() }

// RegistryConfig holds the shared dependencies for per-guild sessions.
type RegistryConfig struct {
	// Dial joins a voice channel. Required.
	Dial Dialer

	// ConnectTimeout bounds a single join attempt. Zero selects 30s.
	ConnectTimeout time.Duration

	// Analyzer gates finalized utterances.
	Analyzer audio.Analyzer

	// Capture tunes each guild's pipeline.
	Capture capture.Config

	// Gateway transcribes finalized utterances. Required.
	Gateway *transcribe.Gateway

	// Character configures the trigger and conversation context.
	Character config.CharacterConfig

	// Generator and Synthesizer drive the spoken reply path. When either is
	// nil, triggered utterances are appended to context without a reply.
	Generator   respond.ReplyGenerator
	Synthesizer tts.Synthesizer

	// Voice is the synthesis voice for replies.
	Voice tts.Voice

	// Metrics records session instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Registry owns the guild → [Session] map. Join and Leave are serialized per
// registry; each session's pipeline runs on its own goroutine.
type Registry struct {
	cfg     RegistryConfig
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// Join connects to the guild's voice channel and starts its capture pipeline.
// A failed or timed-out connect is surfaced to the caller; joining a guild
// that already has a session is an error.
func (r *Registry) Join(ctx context.Context, guildID, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[guildID]; ok {
		return fmt.Errorf("app: guild %s already has a voice session", guildID)
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	conn, err := r.cfg.Dial(connectCtx, guildID, channelID)
	cancel()
	if err != nil {
		return fmt.Errorf("app: join guild %s channel %s: %w", guildID, channelID, err)
	}

	sess := &Session{
		GuildID:   guildID,
		ChannelID: channelID,
		conn:      conn,
		done:      make(chan struct{}),
	}
	sess.live.Store(true)

	responder := respond.NewResponder(respond.ResponderConfig{
		GuildID: guildID,
		Trigger: respond.NewTrigger(r.cfg.Character.CharacterNames(),
			respond.WithUnpromptedChance(r.cfg.Character.UnpromptedChance)),
		Generator:   r.cfg.Generator,
		Synthesizer: r.cfg.Synthesizer,
		Voice:       r.cfg.Voice,
		Context:     respond.NewContextBuffer(r.cfg.Character.SystemPrompt, r.cfg.Character.MaxContextMessages, 0),
		Output:      conn.OutputStream(),
		Live:        sess.Live,
		Metrics:     r.metrics,
	})

	// Teardown cancels the pipeline, not in-flight transcription: a call
	// already on the wire runs to completion and the liveness check above
	// drops its result.
	handler := func(ctx context.Context, utt capture.Utterance) {
		ctx = context.WithoutCancel(ctx)
		responder.Handle(ctx, r.cfg.Gateway.Transcribe(ctx, utt))
	}

	sess.pipeline = capture.New(guildID, conn, r.cfg.Analyzer, handler, r.cfg.Capture)

	runCtx, runCancel := context.WithCancel(context.Background())
	sess.cancel = runCancel
	go func() {
		defer close(sess.done)
		if err := sess.pipeline.Run(runCtx); err != nil {
			slog.Error("app: capture pipeline stopped", "guild", guildID, "error", err)
		}
	}()

	r.sessions[guildID] = sess
	r.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("app: joined voice channel", "guild", guildID, "channel", channelID)
	return nil
}

// Leave tears down the guild's session synchronously: the pipeline stops and
// every buffer for the guild is discarded before Leave returns. In-flight
// transcriptions finish in the background and their results are dropped.
func (r *Registry) Leave(guildID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("app: guild %s has no voice session", guildID)
	}

	sess.live.Store(false)
	sess.cancel()
	<-sess.done

	if err := sess.conn.Disconnect(); err != nil {
		slog.Warn("app: voice disconnect error", "guild", guildID, "error", err)
	}
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("app: left voice channel", "guild", guildID, "channel", sess.ChannelID)
	return nil
}

// Session returns the guild's session, or nil when none is active.
func (r *Registry) Session(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close leaves every active session.
func (r *Registry) Close() {
	r.mu.Lock()
	guilds := make([]string, 0, len(r.sessions))
	for g := range r.sessions {
		guilds = append(guilds, g)
	}
	r.mu.Unlock()

	for _, g := range guilds {
		if err := r.Leave(g); err != nil {
			slog.Warn("app: leave during close", "guild", g, "error", err)
		}
	}
}
