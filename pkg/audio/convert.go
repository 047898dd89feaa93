package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// PCMToSamples decodes little-endian 16-bit PCM bytes into samples. A
// trailing odd byte is ignored.
func PCMToSamples(pcm []byte) []int16 {
	s := make([]int16, len(pcm)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return s
}

// SamplesToPCM encodes samples as little-endian 16-bit PCM bytes.
func SamplesToPCM(s []int16) []byte {
	pcm := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter normalizes synthesized reply audio to a playback format,
// typically the Discord wire format of 48 kHz stereo. TTS backends return
// whatever rate and channel count their model produces, so the send path runs
// every frame through one of these.
//
// Frames already in the target format pass through untouched. Warnings are
// logged once per converter, not per frame. Create one per stream; a
// converter must not be shared across goroutines.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame reshaped to the target format. Frames whose byte
// count cannot hold whole int16 samples are dropped (empty Data) rather than
// decoded off-by-one.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: dropping misaligned PCM frame",
				"bytes", len(frame.Data),
				"format", describeFormat(frame.SampleRate, frame.Channels),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio: converting playback format",
			"from", describeFormat(frame.SampleRate, frame.Channels),
			"to", describeFormat(c.Target.SampleRate, c.Target.Channels),
		)
	})

	s := PCMToSamples(frame.Data)
	channels := frame.Channels

	// Resample before any channel change so upmixed duplicates are not
	// interpolated twice.
	if frame.SampleRate != c.Target.SampleRate {
		s = resample(s, channels, frame.SampleRate, c.Target.SampleRate)
	}

	switch {
	case channels == 1 && c.Target.Channels == 2:
		s = upmix(s)
	case channels == 2 && c.Target.Channels == 1:
		s = downmix(s)
	}

	return AudioFrame{
		Data:       SamplesToPCM(s),
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// resample converts interleaved samples between rates by linear
// interpolation, preserving the channel layout. Invalid rates leave the
// input unchanged.
func resample(s []int16, channels, srcRate, dstRate int) []int16 {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return s
	}
	srcFrames := len(s) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)

	for f := range dstFrames {
		pos := float64(f) * step
		idx := int(pos)
		frac := pos - float64(idx)

		next := idx + 1
		if next >= srcFrames {
			next = idx
		}

		for ch := range channels {
			a := float64(s[idx*channels+ch])
			b := float64(s[next*channels+ch])
			out[f*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// upmix duplicates each mono sample into an L+R pair.
func upmix(s []int16) []int16 {
	out := make([]int16, len(s)*2)
	for i, v := range s {
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

// downmix averages each L+R pair into one mono sample. The average of two
// int16 values always fits in an int16, so no clamp is needed.
func downmix(s []int16) []int16 {
	out := make([]int16, len(s)/2)
	for i := range out {
		out[i] = int16((int32(s[i*2]) + int32(s[i*2+1])) / 2)
	}
	return out
}

func describeFormat(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
