// Package resilience provides the primary → fallback failover wrapper for
// transcription backends.
//
// The central type is [FallbackTranscriber], which tries the primary model
// first and falls back to the secondary automatically on any error. Repeated
// primary failures open a simple breaker so a dead primary is bypassed for a
// cooldown window instead of adding its timeout to every utterance.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwinther/skald/pkg/provider/transcriber"
)

// ErrAllFailed is returned when both the primary and the fallback model fail
// for the same utterance.
var ErrAllFailed = errors.New("all transcription models failed")

// Defaults for the primary breaker.
const (
	DefaultMaxFailures = 3
	DefaultCooldown    = 30 * time.Second
)

// Config holds the breaker tuning knobs for a [FallbackTranscriber].
// Zero values fall back to the package defaults.
type Config struct {
	// MaxFailures is the number of consecutive primary failures before the
	// primary is skipped entirely.
	MaxFailures int

	// Cooldown is how long the primary stays skipped before it is probed
	// again.
	Cooldown time.Duration
}

// Compile-time interface assertion.
var _ transcriber.Provider = (*FallbackTranscriber)(nil)

// FallbackTranscriber implements [transcriber.Provider] with automatic
// failover from a primary to a secondary model. The fallback attempt is not
// optional: every primary error is followed by a fallback call (and logged),
// so a single utterance only fails when both models do.
type FallbackTranscriber struct {
	primary  transcriber.Provider
	fallback transcriber.Provider

	maxFailures int
	cooldown    time.Duration

	mu              sync.Mutex
	consecutiveFail int
	skipUntil       time.Time
}

// NewFallbackTranscriber wraps primary and fallback. Both must be non-nil.
func NewFallbackTranscriber(primary, fallback transcriber.Provider, cfg Config) *FallbackTranscriber {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &FallbackTranscriber{
		primary:     primary,
		fallback:    fallback,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Model returns the primary model identifier; the model that actually served
// a given request is recorded on its [transcriber.Result].
func (f *FallbackTranscriber) Model() string { return f.primary.Model() }

// Transcribe tries the primary model (unless it is in cooldown) and falls
// back to the secondary on error. Returns [ErrAllFailed] wrapped with both
// errors when neither model produces a result.
func (f *FallbackTranscriber) Transcribe(ctx context.Context, req transcriber.Request) (*transcriber.Result, error) {
	var primaryErr error

	if f.primaryAvailable() {
		res, err := f.primary.Transcribe(ctx, req)
		if err == nil {
			f.recordSuccess()
			return res, nil
		}
		primaryErr = err
		f.recordFailure()
		slog.Warn("primary transcription model failed, trying fallback",
			"primary", f.primary.Model(),
			"fallback", f.fallback.Model(),
			"error", err)
	} else {
		slog.Debug("skipping primary transcription model (cooldown)",
			"primary", f.primary.Model())
	}

	res, err := f.fallback.Transcribe(ctx, req)
	if err == nil {
		return res, nil
	}
	if primaryErr != nil {
		return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrAllFailed, primaryErr, err)
	}
	return nil, fmt.Errorf("%w: fallback: %v", ErrAllFailed, err)
}

// primaryAvailable reports whether the primary should be tried. A primary in
// cooldown whose window has elapsed becomes available again as a probe.
func (f *FallbackTranscriber) primaryAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.skipUntil.IsZero() {
		return true
	}
	if time.Now().Before(f.skipUntil) {
		return false
	}
	// Cooldown elapsed: allow one probe. A failure re-opens immediately.
	f.skipUntil = time.Time{}
	f.consecutiveFail = f.maxFailures - 1
	return true
}

// recordSuccess resets the failure accounting after a primary success.
func (f *FallbackTranscriber) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveFail = 0
	f.skipUntil = time.Time{}
}

// recordFailure counts a primary failure and starts the cooldown once the
// threshold is reached.
func (f *FallbackTranscriber) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.consecutiveFail++
	if f.consecutiveFail >= f.maxFailures {
		f.skipUntil = time.Now().Add(f.cooldown)
		slog.Warn("primary transcription model entering cooldown",
			"primary", f.primary.Model(),
			"consecutive_failures", f.consecutiveFail,
			"cooldown", f.cooldown)
	}
}
