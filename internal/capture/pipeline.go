package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/pkg/audio"
)

// Pipeline timing defaults. The settle delay absorbs decoded chunks that lag
// the nominal end-of-speech signal; the recent-activity guard cancels a
// pending finalize when the speaker has resumed in the meantime.
const (
	DefaultSilenceTimeout      = 1 * time.Second
	DefaultSettleDelay         = 2 * time.Second
	DefaultRecentActivityGuard = 1500 * time.Millisecond
	DefaultTickInterval        = 200 * time.Millisecond
)

// Utterance is one finalized, analyzer-approved speech segment ready for
// transcription.
type Utterance struct {
	GuildID  string
	UserID   string
	Username string

	// PCM is the contiguous little-endian 16-bit audio of the utterance.
	PCM        []byte
	SampleRate int
	Channels   int

	// Analysis is the level classification that admitted this utterance.
	Analysis audio.Analysis
}

// Handler consumes finalized utterances. Handlers run on their own goroutine
// per utterance so a slow transcription call never stalls capture for other
// speakers; at most one handler runs per (guild, user) at a time.
type Handler func(ctx context.Context, utt Utterance)

// Config holds the tunable timing and capacity parameters of a Pipeline.
// Zero values fall back to the package defaults.
type Config struct {
	// SilenceTimeout is how long a speaker's buffer may sit without new
	// chunks before the utterance is considered ended.
	SilenceTimeout time.Duration

	// SettleDelay is the extra wait after an end-of-speech signal before
	// finalizing, to catch late-arriving decoded chunks.
	SettleDelay time.Duration

	// RecentActivityGuard cancels a pending finalize when chunks arrived
	// within this window — the speaker only paused briefly.
	RecentActivityGuard time.Duration

	// TickInterval is the scan period for silence detection and pending
	// finalize deadlines.
	TickInterval time.Duration

	// MaxBufferBytes and MaxBufferAge bound a single speaker buffer; see
	// [BufferStore].
	MaxBufferBytes int
	MaxBufferAge   time.Duration

	// SampleRate and Channels describe the PCM delivered by the connection.
	SampleRate int
	Channels   int

	// Metrics records finalize instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.RecentActivityGuard <= 0 {
		c.RecentActivityGuard = DefaultRecentActivityGuard
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Pipeline drives capture for one guild's voice connection. It owns the
// buffer store for that guild, runs the end-of-utterance state machine, and
// dispatches finalized utterances to the handler.
//
// All buffer state transitions happen on the single Run goroutine; only the
// store itself is shared with handler goroutines (via Release).
type Pipeline struct {
	guildID  string
	conn     audio.Connection
	store    *BufferStore
	analyzer audio.Analyzer
	handler  Handler
	cfg      Config

	// pending maps keys awaiting finalization to their settle deadline.
	// Accessed only from the Run goroutine.
	pending map[Key]time.Time

	wg sync.WaitGroup
}

// New creates a Pipeline for guildID reading from conn. Finalized utterances
// that pass the analyzer gate are delivered to handler.
func New(guildID string, conn audio.Connection, analyzer audio.Analyzer, handler Handler, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		guildID:  guildID,
		conn:     conn,
		store:    NewBufferStore(cfg.MaxBufferBytes, cfg.MaxBufferAge),
		analyzer: analyzer,
		handler:  handler,
		cfg:      cfg,
		pending:  make(map[Key]time.Time),
	}
}

// Store exposes the pipeline's buffer store. Intended for the owning session
// (teardown checks) and tests.
func (p *Pipeline) Store() *BufferStore { return p.store }

// Run consumes chunks and events until ctx is cancelled or the connection's
// chunk channel closes, then discards every remaining buffer for the guild.
// The teardown is synchronous: when Run returns, no buffer for this guild
// survives. In-flight handlers may still complete afterwards; consumers must
// check connection liveness before acting on their results.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if n := p.store.Teardown(p.guildID); n > 0 {
			slog.Debug("capture: discarded buffers on teardown", "guild", p.guildID, "buffers", n)
		}
	}()

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	chunks := p.conn.Chunks()
	events := p.conn.Events()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			p.onChunk(ctx, chunk)
		case ev := <-events:
			p.onEvent(ev)
		case now := <-ticker.C:
			p.onTick(ctx, now)
		}
	}
}

// onChunk appends a decoded chunk to the speaker's buffer and force-flushes
// when the buffer has hit its size or age cap.
func (p *Pipeline) onChunk(ctx context.Context, chunk audio.Chunk) {
	if len(chunk.Data) == 0 {
		return
	}
	now := chunk.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	key := Key{GuildID: p.guildID, UserID: chunk.UserID}
	p.store.Append(key, chunk.Data, chunk.Username, now)

	if p.store.ShouldForceFlush(key, now) {
		slog.Warn("capture: buffer hit capacity bound, force flushing",
			"guild", key.GuildID, "user", key.UserID)
		delete(p.pending, key)
		p.finalize(ctx, key)
	}
}

// onEvent reacts to participant lifecycle changes. A speaking stop schedules
// finalization after the settle delay; a speaking start cancels a pending
// finalize; a leave discards the speaker's partial buffer outright.
func (p *Pipeline) onEvent(ev audio.Event) {
	key := Key{GuildID: p.guildID, UserID: ev.UserID}

	switch ev.Type {
	case audio.EventSpeakingStop:
		if _, buffered := p.store.LastActivity(key); buffered {
			p.schedule(key, time.Now())
		}
	case audio.EventSpeakingStart:
		delete(p.pending, key)
	case audio.EventLeave:
		delete(p.pending, key)
		p.store.Discard(key)
		slog.Debug("capture: participant left, buffer discarded",
			"guild", key.GuildID, "user", key.UserID, "username", ev.Username)
	}
}

// onTick arms pending finalizes for buffers that have gone silent and fires
// the ones whose settle deadline has passed.
func (p *Pipeline) onTick(ctx context.Context, now time.Time) {
	// Silence detection: buffers with audio but no pending deadline.
	for _, key := range p.store.Keys() {
		if _, ok := p.pending[key]; ok {
			continue
		}
		if last, buffered := p.store.LastActivity(key); buffered && now.Sub(last) >= p.cfg.SilenceTimeout {
			p.schedule(key, now)
		}
	}

	// Fire deadlines that have settled.
	for key, deadline := range p.pending {
		if now.Before(deadline) {
			continue
		}
		delete(p.pending, key)

		last, buffered := p.store.LastActivity(key)
		if !buffered {
			continue
		}
		if now.Sub(last) < p.cfg.RecentActivityGuard {
			// Speaker resumed during the settle window; silence detection
			// will re-arm once they actually stop.
			continue
		}
		p.finalize(ctx, key)
	}
}

// schedule records a settle deadline for key unless one is already armed.
func (p *Pipeline) schedule(key Key, now time.Time) {
	if _, ok := p.pending[key]; !ok {
		p.pending[key] = now.Add(p.cfg.SettleDelay)
	}
}

// finalize seals the buffer for key, runs the analyzer gate, and dispatches a
// speech utterance to the handler on its own goroutine. Racing triggers are
// resolved inside the store: only one caller receives the buffer.
func (p *Pipeline) finalize(ctx context.Context, key Key) {
	pcm, username := p.store.Finalize(key)
	if pcm == nil {
		return
	}

	res := p.analyzer.Analyze(pcm, p.cfg.SampleRate, p.cfg.Channels)
	if res.IsSilence {
		slog.Debug("capture: utterance rejected by analyzer",
			"guild", key.GuildID, "user", key.UserID,
			"reason", res.Reason,
			"volume", res.Volume, "peak", res.Peak, "duration", res.Duration)
		p.cfg.Metrics.RecordAnalyzerRejection(ctx, res.Reason)
		p.store.Release(key)
		return
	}
	p.cfg.Metrics.RecordUtterance(ctx, key.GuildID)

	slog.Info("capture: utterance finalized",
		"guild", key.GuildID, "user", key.UserID,
		"bytes", len(pcm), "duration", res.Duration, "volume", res.Volume)

	utt := Utterance{
		GuildID:    key.GuildID,
		UserID:     key.UserID,
		Username:   username,
		PCM:        pcm,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
		Analysis:   res,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.store.Release(key)
		p.handler(ctx, utt)
	}()
}

// Wait blocks until all dispatched handlers have returned. Intended for tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
