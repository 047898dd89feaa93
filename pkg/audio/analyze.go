package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Default classification thresholds. Volume and peak thresholds are fractions
// of full-scale 16-bit amplitude; lower values are more permissive.
const (
	DefaultSilenceThreshold = 0.01
	DefaultNoiseThreshold   = 0.05
	DefaultPeakThreshold    = 0.1
	DefaultMinDuration      = 170 * time.Millisecond
)

// maxInt16 is the full-scale magnitude used to normalize sample values to [0,1].
const maxInt16 = 32768.0

// Analysis is the result of classifying one PCM buffer. It is computed fresh
// for every finalized utterance and never persisted.
type Analysis struct {
	// IsSilence is true when the buffer should not be transcribed.
	IsSilence bool

	// Volume is the RMS energy of the buffer, normalized to [0,1].
	Volume float64

	// Peak is the maximum absolute sample value, normalized to [0,1].
	Peak float64

	// Duration is the playback length of the buffer.
	Duration time.Duration

	// Reason explains a silence classification ("empty buffer",
	// "audio level too low", "background noise only", "duration too short").
	// Empty for speech.
	Reason string
}

// Analyzer classifies raw PCM buffers as silence, background noise, or speech.
// The zero value is not useful; construct with NewAnalyzer and override
// thresholds as needed. Analyze is a pure function — an Analyzer is safe for
// concurrent use.
type Analyzer struct {
	// SilenceThreshold is the RMS volume below which audio is silence.
	SilenceThreshold float64

	// NoiseThreshold and PeakThreshold together identify background noise:
	// audio quieter than NoiseThreshold whose peak also stays below
	// PeakThreshold is classified as noise-only.
	NoiseThreshold float64
	PeakThreshold  float64

	// MinDuration is the shortest buffer accepted as speech.
	MinDuration time.Duration
}

// NewAnalyzer returns an Analyzer with the default thresholds.
func NewAnalyzer() Analyzer {
	return Analyzer{
		SilenceThreshold: DefaultSilenceThreshold,
		NoiseThreshold:   DefaultNoiseThreshold,
		PeakThreshold:    DefaultPeakThreshold,
		MinDuration:      DefaultMinDuration,
	}
}

// Analyze computes RMS volume, peak amplitude, and duration for a buffer of
// little-endian 16-bit PCM and classifies it. Rules are checked in order and
// the first match wins:
//
//  1. empty buffer → silence
//  2. volume below SilenceThreshold → silence
//  3. volume below NoiseThreshold and peak below PeakThreshold → silence
//  4. duration below MinDuration → silence
//  5. otherwise → speech
func (a Analyzer) Analyze(pcm []byte, sampleRate, channels int) Analysis {
	if len(pcm) < 2 {
		return Analysis{IsSilence: true, Reason: "empty buffer"}
	}

	n := len(pcm) / 2
	var sumSquares float64
	var peak float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sumSquares += s * s
		if abs := math.Abs(s); abs > peak {
			peak = abs
		}
	}

	res := Analysis{
		Volume: math.Sqrt(sumSquares/float64(n)) / maxInt16,
		Peak:   peak / maxInt16,
	}
	if sampleRate > 0 && channels > 0 {
		frames := n / channels
		res.Duration = time.Duration(frames) * time.Second / time.Duration(sampleRate)
	}

	switch {
	case res.Volume < a.SilenceThreshold:
		res.IsSilence = true
		res.Reason = "audio level too low"
	case res.Volume < a.NoiseThreshold && res.Peak < a.PeakThreshold:
		res.IsSilence = true
		res.Reason = "background noise only"
	case res.Duration < a.MinDuration:
		res.IsSilence = true
		res.Reason = "duration too short"
	}
	return res
}
