package respond

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/internal/transcribe"
	"github.com/mwinther/skald/pkg/audio"
	"github.com/mwinther/skald/pkg/provider/tts"
)

// ResponderConfig wires one guild's response path.
type ResponderConfig struct {
	// GuildID identifies the guild this responder serves.
	GuildID string

	// Trigger decides reply-vs-context.
	Trigger *Trigger

	// Generator produces reply text.
	Generator ReplyGenerator

	// Synthesizer renders reply text as WAV audio.
	Synthesizer tts.Synthesizer

	// Voice is the character's synthesis voice.
	Voice tts.Voice

	// Context is the guild's conversation history.
	Context *ContextBuffer

	// Output is the voice connection's playback sink.
	Output chan<- audio.AudioFrame

	// Live reports whether the guild's voice session is still up. Results
	// arriving after teardown are dropped. Nil means always live.
	Live func() bool

	// PlaybackTimeout bounds how long Handle waits to enqueue the reply
	// frame. The sink is buffered, so a stalled send means the connection's
	// send loop is gone and the frame must be dropped rather than hold the
	// speaker's processing slot. Zero selects 5 seconds.
	PlaybackTimeout time.Duration

	// Metrics records reply instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Responder consumes validated transcripts for one guild: replies out loud
// when the trigger fires, appends to conversation context otherwise.
// Transcripts may arrive out of order relative to when their utterances
// started; the responder takes them as they come.
type Responder struct {
	cfg     ResponderConfig
	metrics *observe.Metrics
}

// NewResponder creates a Responder from cfg.
func NewResponder(cfg ResponderConfig) *Responder {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Responder{cfg: cfg, metrics: m}
}

// Handle processes one transcript. A nil result is ignored. All failures are
// contained here: a failed reply or synthesis is logged and the pipeline
// moves on to the next utterance.
func (r *Responder) Handle(ctx context.Context, res *transcribe.Result) {
	if res == nil {
		return
	}
	log := slog.With("guild_id", res.GuildID, "user_id", res.UserID)

	if !r.live() {
		log.Debug("session gone, dropping transcript", "text", res.Text)
		return
	}

	if !r.cfg.Trigger.ShouldRespond(res.Text) {
		r.cfg.Context.AddUser(res.Username, res.Text)
		log.Debug("appended to context without responding")
		return
	}

	r.cfg.Context.AddUser(res.Username, res.Text)

	if r.cfg.Generator == nil || r.cfg.Synthesizer == nil {
		log.Debug("reply path disabled, appended to context only")
		return
	}

	start := time.Now()
	reply, err := r.cfg.Generator.Reply(ctx, r.cfg.Context.Messages())
	if err != nil {
		log.Error("reply generation failed", "error", err)
		return
	}
	r.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds())
	r.cfg.Context.AddAssistant(reply)

	start = time.Now()
	wav, err := r.cfg.Synthesizer.Synthesize(ctx, reply, r.cfg.Voice)
	if err != nil {
		log.Error("speech synthesis failed", "error", err)
		return
	}
	r.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())

	frame, err := audio.DecodeWAV(wav)
	if err != nil {
		log.Error("synthesized audio unreadable", "error", err)
		return
	}

	// The session may have been torn down while the reply was in flight.
	if !r.live() {
		log.Debug("session gone, dropping reply")
		return
	}

	timer := time.NewTimer(r.playbackTimeout())
	defer timer.Stop()

	select {
	case r.cfg.Output <- frame:
		r.metrics.RecordReply(ctx, res.GuildID)
		log.Info("reply played",
			"reply", reply,
			"audio_bytes", len(frame.Data),
		)
	case <-ctx.Done():
		log.Debug("playback cancelled", "error", ctx.Err())
	case <-timer.C:
		log.Warn("playback sink stalled, dropping reply", "reply", reply)
	}
}

// defaultPlaybackTimeout is generous next to the buffered sink's normal
// drain rate; hitting it means the session is being torn down.
const defaultPlaybackTimeout = 5 * time.Second

func (r *Responder) playbackTimeout() time.Duration {
	if r.cfg.PlaybackTimeout > 0 {
		return r.cfg.PlaybackTimeout
	}
	return defaultPlaybackTimeout
}

func (r *Responder) live() bool {
	return r.cfg.Live == nil || r.cfg.Live()
}
