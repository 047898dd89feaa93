// Package transcribe turns finalized utterances into validated transcripts.
//
// The [Gateway] sits between the capture pipeline and the response layer: it
// encodes the utterance's PCM as WAV, calls the configured transcription
// provider (typically a fallback chain from internal/resilience), derives a
// confidence estimate, and runs content validation. Rejected or failed
// utterances yield a nil result rather than an error — silence, noise, and a
// flaky transcription API are all expected, and must never interrupt the
// pipeline for subsequent utterances.
package transcribe

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mwinther/skald/internal/capture"
	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/pkg/audio"
	"github.com/mwinther/skald/pkg/provider/transcriber"
)

// Gateway defaults.
const (
	// DefaultTimeout bounds a single transcription call, fallback included.
	DefaultTimeout = 60 * time.Second

	// DefaultMinPCMBytes is one 20ms frame at 48kHz stereo. Anything smaller
	// is not worth a network round trip.
	DefaultMinPCMBytes = 3840

	// DefaultLanguage is the language hint sent to the transcription API.
	DefaultLanguage = "en"

	// DefaultPrompt steers the transcription model toward conversational
	// voice-channel audio.
	DefaultPrompt = "This is a conversation in a Discord voice channel. " +
		"Please transcribe accurately with proper punctuation and capitalization."
)

// Result is a validated transcript for one utterance. It is consumed
// immediately by the response layer and never persisted.
type Result struct {
	GuildID    string
	UserID     string
	Username   string
	Text       string
	Confidence float64
	Duration   time.Duration
	Language   string
	Model      string
}

// Config holds the gateway's tunables. Zero values select defaults.
type Config struct {
	// Timeout bounds each transcription call.
	Timeout time.Duration

	// MinPCMBytes is the minimum payload size worth transcribing.
	MinPCMBytes int

	// Language is the language hint passed to the provider.
	Language string

	// Prompt is the prompt hint passed to the provider.
	Prompt string

	// Validation configures content validation. The zero value selects
	// [NewValidator] defaults.
	Validation Validator
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinPCMBytes <= 0 {
		c.MinPCMBytes = DefaultMinPCMBytes
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.Validation == (Validator{}) {
		c.Validation = NewValidator()
	}
	return c
}

// Gateway converts finalized utterances into validated transcripts.
type Gateway struct {
	provider transcriber.Provider
	cfg      Config
	metrics  *observe.Metrics
}

// NewGateway creates a Gateway using the given provider. A nil metrics
// argument selects [observe.DefaultMetrics].
func NewGateway(p transcriber.Provider, cfg Config, m *observe.Metrics) *Gateway {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Gateway{provider: p, cfg: cfg.withDefaults(), metrics: m}
}

// Transcribe encodes the utterance as WAV, calls the transcription provider,
// and validates the returned text. It returns nil when the utterance is too
// small, the API failed after all fallbacks, the model heard no speech, or
// content validation rejected the transcript. All rejections are logged with
// guild and user context.
func (g *Gateway) Transcribe(ctx context.Context, utt capture.Utterance) *Result {
	log := slog.With("guild_id", utt.GuildID, "user_id", utt.UserID)

	if len(utt.PCM) < g.cfg.MinPCMBytes {
		log.Debug("utterance below minimum size", "bytes", len(utt.PCM))
		return nil
	}

	wav := audio.EncodeWAV(utt.PCM, utt.SampleRate, utt.Channels)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := g.provider.Transcribe(ctx, transcriber.Request{
		WAV:      wav,
		Language: g.cfg.Language,
		Prompt:   g.cfg.Prompt,
	})
	elapsed := time.Since(start)

	if err != nil {
		g.metrics.RecordTranscription(ctx, g.provider.Model(), "error")
		log.Error("transcription failed", "error", err, "elapsed", elapsed)
		return nil
	}

	model := res.Model
	if model == "" {
		model = g.provider.Model()
	}
	g.metrics.TranscriptionDuration.Record(ctx, elapsed.Seconds())
	g.metrics.RecordTranscription(ctx, model, "ok")

	text := strings.TrimSpace(res.Text)
	if text == "" {
		log.Debug("no speech detected", "model", model)
		return nil
	}

	confidence := deriveConfidence(res.Segments, utt.Analysis)

	if reason := g.cfg.Validation.Check(text, confidence); reason != "" {
		g.metrics.RecordValidationRejection(ctx, reason)
		log.Info("transcript rejected",
			"reason", reason,
			"text", text,
			"confidence", confidence,
			"model", model,
		)
		return nil
	}

	language := res.Language
	if language == "" {
		language = g.cfg.Language
	}

	log.Info("transcript accepted",
		"text", text,
		"confidence", confidence,
		"model", model,
		"duration", res.Duration,
		"elapsed", elapsed,
	)

	return &Result{
		GuildID:    utt.GuildID,
		UserID:     utt.UserID,
		Username:   utt.Username,
		Text:       text,
		Confidence: confidence,
		Duration:   res.Duration,
		Language:   language,
		Model:      model,
	}
}

// deriveConfidence estimates transcription confidence. Segment-level log
// probabilities win when the model provides them; otherwise the utterance's
// audio volume serves as a prior, and a fixed default covers the rest.
func deriveConfidence(segments []transcriber.Segment, analysis audio.Analysis) float64 {
	if len(segments) > 0 {
		var total float64
		for _, s := range segments {
			total += math.Exp(s.AvgLogprob)
		}
		return total / float64(len(segments))
	}
	if analysis.Volume > 0 {
		return math.Min(0.95, 0.5+analysis.Volume*2)
	}
	return 0.90
}
