// Package chatterbox provides a TTS synthesizer backed by a Chatterbox TTS
// server's REST API. It implements the tts.Synthesizer interface.
//
// Synthesis is performed via POST /tts with a JSON body in voice-clone mode;
// the server returns the rendered clip as WAV bytes. The voice catalogue is
// retrieved from GET /voices and server readiness is probed via the UI
// bootstrap endpoint.
//
// Typical usage:
//
//	c, err := chatterbox.New("http://localhost:8004",
//	    chatterbox.WithTimeout(30*time.Second),
//	)
//	wav, err := c.Synthesize(ctx, "hello there", tts.Voice{ReferenceAudio: "emmastone.wav"})
package chatterbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/mwinther/skald/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Client)(nil)

const (
	defaultTimeout = 30 * time.Second

	ttsEndpoint    = "/tts"
	voicesEndpoint = "/voices"
	healthEndpoint = "/api/ui/initial-data"

	// Voice parameter defaults applied when the caller leaves them zero.
	defaultReferenceAudio = "emmastone.wav"
	defaultTemperature    = 0.8
	defaultExaggeration   = 0.5
	defaultCFGWeight      = 0.5
	defaultSpeedFactor    = 1.0
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client talks to one Chatterbox TTS server. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("chatterbox: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ttsRequest is the POST /tts body in the Chatterbox API format.
type ttsRequest struct {
	Text                   string  `json:"text"`
	VoiceMode              string  `json:"voice_mode"`
	ReferenceAudioFilename string  `json:"reference_audio_filename"`
	OutputFormat           string  `json:"output_format"`
	SplitText              bool    `json:"split_text"`
	Temperature            float64 `json:"temperature"`
	Exaggeration           float64 `json:"exaggeration"`
	CFGWeight              float64 `json:"cfg_weight"`
	SpeedFactor            float64 `json:"speed_factor"`
	Seed                   int64   `json:"seed"`
}

// serverError is the JSON error body returned on non-200 responses.
type serverError struct {
	Error string `json:"error"`
}

// Synthesize implements [tts.Synthesizer]. It renders text in voice-clone
// mode and returns the WAV clip.
func (c *Client) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("chatterbox: empty text")
	}

	body := ttsRequest{
		Text:                   text,
		VoiceMode:              "clone",
		ReferenceAudioFilename: voice.ReferenceAudio,
		OutputFormat:           "wav",
		SplitText:              false,
		Temperature:            voice.Temperature,
		Exaggeration:           voice.Exaggeration,
		CFGWeight:              voice.CFGWeight,
		SpeedFactor:            voice.SpeedFactor,
		Seed:                   voice.Seed,
	}
	if body.ReferenceAudioFilename == "" {
		body.ReferenceAudioFilename = defaultReferenceAudio
	}
	if body.Temperature == 0 {
		body.Temperature = defaultTemperature
	}
	if body.Exaggeration == 0 {
		body.Exaggeration = defaultExaggeration
	}
	if body.CFGWeight == 0 {
		body.CFGWeight = defaultCFGWeight
	}
	if body.SpeedFactor == 0 {
		body.SpeedFactor = defaultSpeedFactor
	}
	if body.Seed == 0 {
		body.Seed = int64(rand.Uint32())
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("chatterbox: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ttsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chatterbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatterbox: tts request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chatterbox: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var se serverError
		if json.Unmarshal(data, &se) == nil && se.Error != "" {
			return nil, fmt.Errorf("chatterbox: server error: %d - %s", resp.StatusCode, se.Error)
		}
		return nil, fmt.Errorf("chatterbox: server returned status %d", resp.StatusCode)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("chatterbox: server returned empty audio")
	}
	return data, nil
}

// voicesResponse is the GET /voices body.
type voicesResponse struct {
	Voices []tts.VoiceInfo `json:"voices"`
}

// ListVoices implements [tts.Synthesizer].
func (c *Client) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("chatterbox: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatterbox: voices request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chatterbox: server returned status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("chatterbox: decode voices: %w", err)
	}
	return vr.Voices, nil
}

// Healthy implements [tts.Synthesizer]. It probes the UI bootstrap endpoint,
// which is cheap and available whenever the server can synthesize.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("chatterbox: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatterbox: health request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chatterbox: server returned status %d", resp.StatusCode)
	}
	return nil
}
