package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/mwinther/skald/pkg/audio"
)

// Discord voice is fixed at 48 kHz stereo Opus in 20 ms frames.
const (
	wireSampleRate = 48000
	wireChannels   = 2

	// wireFrameSamples is the per-channel sample count of one frame
	// (50 frames per second).
	wireFrameSamples = wireSampleRate / 50

	// wireFrameBytes is the PCM payload backing one frame.
	wireFrameBytes = wireFrameSamples * wireChannels * 2
)

// speakerDecoder turns one participant's Opus stream back into PCM. Opus
// decoders carry prediction state between packets, so streams never share
// a decoder.
type speakerDecoder struct {
	dec *gopus.Decoder
}

func newSpeakerDecoder() (*speakerDecoder, error) {
	dec, err := gopus.NewDecoder(wireSampleRate, wireChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &speakerDecoder{dec: dec}, nil
}

// decode returns the packet's audio as wire-format PCM bytes.
func (d *speakerDecoder) decode(pkt []byte) ([]byte, error) {
	samples, err := d.dec.Decode(pkt, wireFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.SamplesToPCM(samples), nil
}

// playbackEncoder encodes synthesized reply audio for transmission. The send
// loop slices the reply into exact frames, so encode rejects anything else.
type playbackEncoder struct {
	enc *gopus.Encoder
}

func newPlaybackEncoder() (*playbackEncoder, error) {
	enc, err := gopus.NewEncoder(wireSampleRate, wireChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &playbackEncoder{enc: enc}, nil
}

func (e *playbackEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) != wireFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: frame is %d bytes, want %d", len(pcm), wireFrameBytes)
	}
	pkt, err := e.enc.Encode(audio.PCMToSamples(pcm), wireFrameSamples, wireFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}
