package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// bitsPerSample is fixed at 16 for the signed little-endian PCM this
// pipeline carries end to end.
const bitsPerSample = 16

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. Raw PCM carries no header, so the sample rate and
// channel count must be supplied explicitly. The result is suitable for
// direct inclusion in a multipart upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload and format from a RIFF/WAV container.
// Only uncompressed 16-bit PCM is supported; the walk over sub-chunks
// tolerates extra chunks (LIST, fact) that some encoders emit before data.
// The returned frame's Data aliases the input slice.
func DecodeWAV(wav []byte) (AudioFrame, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return AudioFrame{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var frame AudioFrame
	var haveFmt, haveData bool

	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(wav) {
			// Truncated final chunk: clamp to what is actually present.
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return AudioFrame{}, errors.New("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			if format != 1 {
				return AudioFrame{}, fmt.Errorf("audio: unsupported WAV format %d (want PCM)", format)
			}
			frame.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			frame.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if bits != bitsPerSample {
				return AudioFrame{}, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
			haveFmt = true
		case "data":
			frame.Data = wav[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return AudioFrame{}, errors.New("audio: missing fmt chunk")
	}
	if !haveData {
		return AudioFrame{}, errors.New("audio: missing data chunk")
	}
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return AudioFrame{}, fmt.Errorf("audio: invalid WAV format %dHz %dch", frame.SampleRate, frame.Channels)
	}
	return frame, nil
}
