package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for fields left unset.
const (
	DefaultMetricsAddr          = ":9090"
	DefaultConnectTimeoutMs     = 30000
	DefaultSilenceThreshold     = 0.01
	DefaultNoiseThreshold       = 0.05
	DefaultPeakThreshold        = 0.1
	DefaultMinDurationMs        = 170
	DefaultEndSilenceMs         = 1000
	DefaultSettleDelayMs        = 2000
	DefaultMaxBufferBytes       = 50 * 1024 * 1024
	DefaultMaxBufferAgeMs       = 300000
	DefaultSampleRate           = 48000
	DefaultChannels             = 2
	DefaultPrimaryModel         = "gpt-4o-transcribe"
	DefaultFallbackModel        = "whisper-1"
	DefaultLanguage             = "en"
	DefaultMinConfidence        = 0.3
	DefaultSingleWordConfidence = 0.7
	DefaultTranscribeTimeoutMs  = 60000
	DefaultReplyModel           = "gpt-4o-mini"
	DefaultUnpromptedChance     = 0.3
	DefaultMaxContextMessages   = 20
	DefaultSynthesisTimeoutMs   = 30000
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.ConnectTimeoutMs <= 0 {
		cfg.Discord.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}

	cc := &cfg.Capture
	if cc.SilenceThreshold <= 0 {
		cc.SilenceThreshold = DefaultSilenceThreshold
	}
	if cc.NoiseThreshold <= 0 {
		cc.NoiseThreshold = DefaultNoiseThreshold
	}
	if cc.PeakThreshold <= 0 {
		cc.PeakThreshold = DefaultPeakThreshold
	}
	if cc.MinDurationMs <= 0 {
		cc.MinDurationMs = DefaultMinDurationMs
	}
	if cc.EndSilenceMs <= 0 {
		cc.EndSilenceMs = DefaultEndSilenceMs
	}
	if cc.SettleDelayMs <= 0 {
		cc.SettleDelayMs = DefaultSettleDelayMs
	}
	if cc.MaxBufferBytes <= 0 {
		cc.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if cc.MaxBufferAgeMs <= 0 {
		cc.MaxBufferAgeMs = DefaultMaxBufferAgeMs
	}
	if cc.SampleRate <= 0 {
		cc.SampleRate = DefaultSampleRate
	}
	if cc.Channels <= 0 {
		cc.Channels = DefaultChannels
	}

	tr := &cfg.Transcription
	if tr.PrimaryModel == "" {
		tr.PrimaryModel = DefaultPrimaryModel
	}
	if tr.FallbackModel == "" {
		tr.FallbackModel = DefaultFallbackModel
	}
	if tr.Language == "" {
		tr.Language = DefaultLanguage
	}
	if tr.MinConfidence <= 0 {
		tr.MinConfidence = DefaultMinConfidence
	}
	if tr.SingleWordConfidence <= 0 {
		tr.SingleWordConfidence = DefaultSingleWordConfidence
	}
	if tr.TimeoutMs <= 0 {
		tr.TimeoutMs = DefaultTranscribeTimeoutMs
	}

	ch := &cfg.Character
	if ch.ReplyModel == "" {
		ch.ReplyModel = DefaultReplyModel
	}
	if ch.UnpromptedChance <= 0 {
		ch.UnpromptedChance = DefaultUnpromptedChance
	}
	if ch.MaxContextMessages <= 0 {
		ch.MaxContextMessages = DefaultMaxContextMessages
	}

	if cfg.TTS.TimeoutMs <= 0 {
		cfg.TTS.TimeoutMs = DefaultSynthesisTimeoutMs
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if len(cfg.Discord.Guilds) == 0 {
		slog.Warn("discord.guilds is empty; the bot will start without joining any voice channel")
	}
	guildsSeen := make(map[string]int, len(cfg.Discord.Guilds))
	for i, g := range cfg.Discord.Guilds {
		prefix := fmt.Sprintf("discord.guilds[%d]", i)
		if g.GuildID == "" {
			errs = append(errs, fmt.Errorf("%s.guild_id is required", prefix))
		} else {
			if prev, ok := guildsSeen[g.GuildID]; ok {
				errs = append(errs, fmt.Errorf("%s.guild_id %q is a duplicate of discord.guilds[%d]", prefix, g.GuildID, prev))
			}
			guildsSeen[g.GuildID] = i
		}
		if g.ChannelID == "" {
			errs = append(errs, fmt.Errorf("%s.channel_id is required", prefix))
		}
	}

	errs = append(errs, validateFraction("capture.silence_threshold", cfg.Capture.SilenceThreshold)...)
	errs = append(errs, validateFraction("capture.noise_threshold", cfg.Capture.NoiseThreshold)...)
	errs = append(errs, validateFraction("capture.peak_threshold", cfg.Capture.PeakThreshold)...)
	if cfg.Capture.SilenceThreshold > cfg.Capture.NoiseThreshold {
		slog.Warn("capture.silence_threshold exceeds capture.noise_threshold; the noise band is empty",
			"silence_threshold", cfg.Capture.SilenceThreshold,
			"noise_threshold", cfg.Capture.NoiseThreshold,
		)
	}
	if c := cfg.Capture.Channels; c != 0 && c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", c))
	}

	errs = append(errs, validateFraction("transcription.min_confidence", cfg.Transcription.MinConfidence)...)
	errs = append(errs, validateFraction("transcription.single_word_confidence", cfg.Transcription.SingleWordConfidence)...)
	if cfg.Transcription.SingleWordConfidence < cfg.Transcription.MinConfidence {
		errs = append(errs, fmt.Errorf("transcription.single_word_confidence %.2f is below transcription.min_confidence %.2f",
			cfg.Transcription.SingleWordConfidence, cfg.Transcription.MinConfidence))
	}
	if cfg.Transcription.APIKey == "" {
		errs = append(errs, errors.New("transcription.api_key is required"))
	}

	errs = append(errs, validateFraction("character.unprompted_chance", cfg.Character.UnpromptedChance)...)
	if cfg.Character.Name == "" {
		slog.Warn("character.name is empty; the response trigger will not match a character name")
	}

	if cfg.TTS.BaseURL == "" {
		slog.Warn("tts.base_url is empty; spoken replies are disabled")
	}
	if sf := cfg.TTS.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("tts.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	return errors.Join(errs...)
}

func validateFraction(name string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", name, v)}
	}
	return nil
}
