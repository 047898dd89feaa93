// Package app wires the Skald subsystems into a running bot: configuration →
// providers → Discord session → per-guild voice sessions, plus the metrics
// and health endpoint.
//
// For testing, inject doubles via functional options (WithDialer,
// WithTranscriber, WithGenerator, WithSynthesizer). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/mwinther/skald/internal/capture"
	"github.com/mwinther/skald/internal/config"
	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/internal/resilience"
	"github.com/mwinther/skald/internal/respond"
	"github.com/mwinther/skald/internal/transcribe"
	"github.com/mwinther/skald/pkg/audio"
	"github.com/mwinther/skald/pkg/audio/discord"
	"github.com/mwinther/skald/pkg/provider/transcriber"
	transopenai "github.com/mwinther/skald/pkg/provider/transcriber/openai"
	"github.com/mwinther/skald/pkg/provider/tts"
	"github.com/mwinther/skald/pkg/provider/tts/chatterbox"
)

// App owns the subsystem lifetimes: the Discord gateway session, the voice
// session registry, and the observability endpoint.
type App struct {
	cfg      *config.Config
	registry *Registry
	server   *observe.Server

	dg          *discordgo.Session
	dial        Dialer
	transcriber transcriber.Provider
	generator   respond.ReplyGenerator
	synthesizer tts.Synthesizer

	metricsShutdown func(context.Context) error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a voice-channel dialer instead of the discordgo-backed
// one. The Discord gateway session is not created when a dialer is injected.
func WithDialer(d Dialer) Option {
	return func(a *App) { a.dial = d }
}

// WithTranscriber injects a transcription provider instead of building the
// OpenAI primary/fallback pair from config.
func WithTranscriber(p transcriber.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithGenerator injects a reply generator.
func WithGenerator(g respond.ReplyGenerator) Option {
	return func(a *App) { a.generator = g }
}

// WithSynthesizer injects a speech synthesizer.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(a *App) { a.synthesizer = s }
}

// New creates an App by wiring all subsystems together from cfg. The config
// must already be validated by the loader; New surfaces only construction
// failures (bad credentials shapes, unreachable-by-construction providers).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init metrics provider: %w", err)
	}
	a.metricsShutdown = metricsShutdown
	metrics := observe.DefaultMetrics()

	if err := a.initTranscriber(); err != nil {
		return nil, err
	}
	if err := a.initReplyPath(); err != nil {
		return nil, err
	}
	if err := a.initDiscord(); err != nil {
		return nil, err
	}

	analyzer := audio.Analyzer{
		SilenceThreshold: cfg.Capture.SilenceThreshold,
		NoiseThreshold:   cfg.Capture.NoiseThreshold,
		PeakThreshold:    cfg.Capture.PeakThreshold,
		MinDuration:      cfg.Capture.MinDuration(),
	}

	validation := transcribe.NewValidator()
	validation.MinConfidence = cfg.Transcription.MinConfidence
	validation.SingleWordConfidence = cfg.Transcription.SingleWordConfidence

	gateway := transcribe.NewGateway(a.transcriber, transcribe.Config{
		Timeout:    cfg.Transcription.Timeout(),
		Language:   cfg.Transcription.Language,
		Prompt:     cfg.Transcription.Prompt,
		Validation: validation,
	}, metrics)

	a.registry = NewRegistry(RegistryConfig{
		Dial:           a.dial,
		ConnectTimeout: cfg.Discord.ConnectTimeout(),
		Analyzer:       analyzer,
		Capture: capture.Config{
			SilenceTimeout: cfg.Capture.EndSilence(),
			SettleDelay:    cfg.Capture.SettleDelay(),
			MaxBufferBytes: cfg.Capture.MaxBufferBytes,
			MaxBufferAge:   cfg.Capture.MaxBufferAge(),
			SampleRate:     cfg.Capture.SampleRate,
			Channels:       cfg.Capture.Channels,
			Metrics:        metrics,
		},
		Gateway:     gateway,
		Character:   cfg.Character,
		Generator:   a.generator,
		Synthesizer: a.synthesizer,
		Voice: tts.Voice{
			ReferenceAudio: cfg.TTS.ReferenceAudio,
			Temperature:    cfg.TTS.Temperature,
			Exaggeration:   cfg.TTS.Exaggeration,
			CFGWeight:      cfg.TTS.CFGWeight,
			SpeedFactor:    cfg.TTS.SpeedFactor,
		},
		Metrics: metrics,
	})

	a.server = observe.NewServer(cfg.Server.MetricsAddr, metrics, a.checkers()...)

	return a, nil
}

// initTranscriber builds the primary → fallback transcription pair unless one
// was injected.
func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	tc := a.cfg.Transcription

	var opts []transopenai.Option
	if tc.BaseURL != "" {
		opts = append(opts, transopenai.WithBaseURL(tc.BaseURL))
	}

	primary, err := transopenai.New(tc.APIKey, tc.PrimaryModel, opts...)
	if err != nil {
		return fmt.Errorf("app: primary transcriber: %w", err)
	}
	fallback, err := transopenai.New(tc.APIKey, tc.FallbackModel, opts...)
	if err != nil {
		return fmt.Errorf("app: fallback transcriber: %w", err)
	}
	a.transcriber = resilience.NewFallbackTranscriber(primary, fallback, resilience.Config{})
	return nil
}

// initReplyPath builds the reply generator and synthesizer. An empty TTS base
// URL disables spoken replies entirely; utterances still accumulate in the
// conversation context.
func (a *App) initReplyPath() error {
	if a.cfg.TTS.BaseURL == "" {
		return nil
	}

	if a.synthesizer == nil {
		synth, err := chatterbox.New(a.cfg.TTS.BaseURL, chatterbox.WithTimeout(a.cfg.TTS.Timeout()))
		if err != nil {
			return fmt.Errorf("app: tts client: %w", err)
		}
		a.synthesizer = synth
	}

	if a.generator == nil {
		gen, err := respond.NewChatGenerator(a.cfg.Transcription.APIKey, a.cfg.Character.ReplyModel)
		if err != nil {
			return fmt.Errorf("app: reply generator: %w", err)
		}
		a.generator = gen
	}
	return nil
}

// initDiscord creates the gateway session and the voice dialer unless a
// dialer was injected.
func (a *App) initDiscord() error {
	if a.dial != nil {
		return nil
	}

	dg, err := discordgo.New("Bot " + a.cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("app: create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	a.dg = dg

	a.dial = func(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
		return discord.New(dg, guildID).Connect(ctx, channelID)
	}
	return nil
}

// checkers builds the readiness probes for the health endpoint.
func (a *App) checkers() []observe.Checker {
	var cs []observe.Checker

	cs = append(cs, observe.Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if a.dg == nil {
				// Injected dialer; the gateway session is not ours to probe.
				return nil
			}
			if a.dg.State == nil || a.dg.State.User == nil {
				return errors.New("gateway session not ready")
			}
			return nil
		},
	})

	if a.synthesizer != nil {
		cs = append(cs, observe.Checker{
			Name: "tts",
			Check: func(ctx context.Context) error {
				return a.synthesizer.Healthy(ctx)
			},
		})
	}
	return cs
}

// Registry exposes the voice session registry. Intended for tests.
func (a *App) Registry() *Registry { return a.registry }

// Run opens the Discord gateway, joins the configured voice channels, and
// serves metrics until ctx is cancelled. A failed join is a hard failure that
// stops the app; per-utterance failures never reach here.
func (a *App) Run(ctx context.Context) error {
	if a.dg != nil {
		if err := a.dg.Open(); err != nil {
			return fmt.Errorf("app: open discord gateway: %w", err)
		}
		slog.Info("app: discord gateway connected")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: metrics endpoint listening", "addr", a.cfg.Server.MetricsAddr)
		return a.server.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		for _, gc := range a.cfg.Discord.Guilds {
			if err := a.registry.Join(gctx, gc.GuildID, gc.ChannelID); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Shutdown leaves every voice session, closes the Discord gateway, and
// flushes the metrics provider. Safe to call after Run returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.registry.Close()

	if a.dg != nil {
		if err := a.dg.Close(); err != nil {
			slog.Warn("app: discord close error", "error", err)
		}
	}

	if a.metricsShutdown != nil {
		if err := a.metricsShutdown(ctx); err != nil {
			return fmt.Errorf("app: metrics shutdown: %w", err)
		}
	}
	return nil
}
