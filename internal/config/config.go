// Package config provides the configuration schema, loader, and validation
// for the Skald voice bot. Configuration is loaded once at process start;
// there is no runtime reload.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Skald.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Discord       DiscordConfig       `yaml:"discord"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Character     CharacterConfig     `yaml:"character"`
	TTS           TTSConfig           `yaml:"tts"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the metrics/health HTTP server listens
	// on (e.g., ":9090").
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and the static list of voice
// channels to join. Membership is fixed at startup; there are no join/leave
// commands.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// Guilds lists the voice channels the bot joins at startup.
	Guilds []GuildConfig `yaml:"guilds"`

	// ConnectTimeoutMs bounds how long a voice channel join may take before
	// it is surfaced as an error. Default: 30000.
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
}

// GuildConfig names one guild and the voice channel to join in it.
type GuildConfig struct {
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// CaptureConfig tunes the per-speaker buffering pipeline and the audio level
// analyzer. Volume and peak thresholds are fractions of full-scale amplitude
// in [0, 1]; lower values are more permissive.
type CaptureConfig struct {
	// SilenceThreshold is the RMS volume below which a buffer is silence.
	// Default: 0.01.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// NoiseThreshold and PeakThreshold together classify low-volume,
	// low-peak buffers as background noise. Defaults: 0.05 and 0.1.
	NoiseThreshold float64 `yaml:"noise_threshold"`
	PeakThreshold  float64 `yaml:"peak_threshold"`

	// MinDurationMs rejects buffers shorter than this as too short to be
	// speech. Default: 170.
	MinDurationMs int `yaml:"min_duration_ms"`

	// EndSilenceMs is how long a speaker's buffer may sit without new
	// chunks before the utterance is considered ended. Default: 1000.
	EndSilenceMs int `yaml:"end_silence_ms"`

	// SettleDelayMs is the extra wait after end-of-speech before finalizing,
	// absorbing late-arriving decoded chunks. Default: 2000.
	SettleDelayMs int `yaml:"settle_delay_ms"`

	// MaxBufferBytes force-flushes a speaker buffer past this size.
	// Default: 50 MiB.
	MaxBufferBytes int `yaml:"max_buffer_bytes"`

	// MaxBufferAgeMs force-flushes a speaker buffer older than this.
	// Default: 300000 (5 minutes).
	MaxBufferAgeMs int `yaml:"max_buffer_age_ms"`

	// SampleRate and Channels describe the decoded PCM format.
	// Defaults: 48000 and 2 (Discord voice).
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// TranscriptionConfig selects the transcription models and the transcript
// acceptance thresholds.
type TranscriptionConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint. Leave empty for the
	// provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// PrimaryModel is tried first for every utterance. Default:
	// "gpt-4o-transcribe".
	PrimaryModel string `yaml:"primary_model"`

	// FallbackModel is tried automatically when the primary fails.
	// Default: "whisper-1".
	FallbackModel string `yaml:"fallback_model"`

	// Language is the ISO-639-1 language hint. Default: "en".
	Language string `yaml:"language"`

	// Prompt steers the model toward conversational punctuation. Empty
	// selects the built-in default prompt.
	Prompt string `yaml:"prompt"`

	// MinConfidence rejects transcripts below this confidence. Default: 0.3.
	MinConfidence float64 `yaml:"min_confidence"`

	// SingleWordConfidence is the stricter floor for one-word transcripts.
	// Default: 0.7.
	SingleWordConfidence float64 `yaml:"single_word_confidence"`

	// TimeoutMs bounds a single transcription request. Default: 60000.
	TimeoutMs int `yaml:"timeout_ms"`
}

// CharacterConfig describes the bot's conversational persona.
type CharacterConfig struct {
	// Name is the character's display name, matched (exactly and
	// phonetically) by the response trigger.
	Name string `yaml:"name"`

	// Aliases are additional names the trigger listens for.
	Aliases []string `yaml:"aliases"`

	// SystemPrompt is the persona description injected into the reply
	// model's system message.
	SystemPrompt string `yaml:"system_prompt"`

	// ReplyModel generates spoken replies. Default: "gpt-4o-mini".
	ReplyModel string `yaml:"reply_model"`

	// UnpromptedChance is the probability of replying to an utterance that
	// matched no trigger. Default: 0.3.
	UnpromptedChance float64 `yaml:"unprompted_chance"`

	// MaxContextMessages bounds the per-guild conversation history.
	// Default: 20.
	MaxContextMessages int `yaml:"max_context_messages"`
}

// TTSConfig points at the Chatterbox speech synthesis sidecar.
type TTSConfig struct {
	// BaseURL is the Chatterbox server address (e.g.,
	// "http://localhost:8004"). Empty disables spoken replies.
	BaseURL string `yaml:"base_url"`

	// ReferenceAudio is the voice-clone reference filename on the server.
	ReferenceAudio string `yaml:"reference_audio"`

	// Temperature, Exaggeration, and CFGWeight tune synthesis. Zero selects
	// the server defaults.
	Temperature  float64 `yaml:"temperature"`
	Exaggeration float64 `yaml:"exaggeration"`
	CFGWeight    float64 `yaml:"cfg_weight"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means
	// default.
	SpeedFactor float64 `yaml:"speed_factor"`

	// TimeoutMs bounds a single synthesis request. Default: 30000.
	TimeoutMs int `yaml:"timeout_ms"`
}

// Duration accessors for the millisecond fields.

// ConnectTimeout returns the voice join timeout.
func (c DiscordConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// MinDuration returns the analyzer's minimum speech duration.
func (c CaptureConfig) MinDuration() time.Duration {
	return time.Duration(c.MinDurationMs) * time.Millisecond
}

// EndSilence returns the utterance-end silence window.
func (c CaptureConfig) EndSilence() time.Duration {
	return time.Duration(c.EndSilenceMs) * time.Millisecond
}

// SettleDelay returns the pre-finalize settle window.
func (c CaptureConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// MaxBufferAge returns the force-flush age bound.
func (c CaptureConfig) MaxBufferAge() time.Duration {
	return time.Duration(c.MaxBufferAgeMs) * time.Millisecond
}

// Timeout returns the transcription request timeout.
func (c TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Timeout returns the synthesis request timeout.
func (c TTSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CharacterNames returns the name plus aliases, for the response trigger.
func (c CharacterConfig) CharacterNames() []string {
	if c.Name == "" {
		return c.Aliases
	}
	return append([]string{c.Name}, c.Aliases...)
}
