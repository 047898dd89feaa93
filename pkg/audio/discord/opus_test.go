package discord

import (
	"testing"

	"github.com/mwinther/skald/pkg/audio"
)

func TestPlaybackEncoder_RejectsPartialFrame(t *testing.T) {
	enc, err := newPlaybackEncoder()
	if err != nil {
		t.Fatalf("newPlaybackEncoder: %v", err)
	}
	if _, err := enc.encode(make([]byte, wireFrameBytes/2)); err == nil {
		t.Error("partial frame should be rejected")
	}
	if _, err := enc.encode(make([]byte, wireFrameBytes+2)); err == nil {
		t.Error("oversized frame should be rejected")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	enc, err := newPlaybackEncoder()
	if err != nil {
		t.Fatalf("newPlaybackEncoder: %v", err)
	}
	dec, err := newSpeakerDecoder()
	if err != nil {
		t.Fatalf("newSpeakerDecoder: %v", err)
	}

	samples := make([]int16, wireFrameSamples*wireChannels)
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	pkt, err := enc.encode(audio.SamplesToPCM(samples))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(pkt) == 0 {
		t.Fatal("encode produced an empty packet")
	}

	pcm, err := dec.decode(pkt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != wireFrameBytes {
		t.Errorf("decoded %d bytes, want one full frame (%d)", len(pcm), wireFrameBytes)
	}
}
