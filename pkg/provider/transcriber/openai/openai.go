// Package openai provides a [transcriber.Provider] backed by the OpenAI audio
// transcription API (POST /v1/audio/transcriptions).
//
// The provider speaks the HTTP API directly rather than going through an SDK:
// the verbose_json response format — the only way to obtain per-segment
// log-probabilities for confidence derivation — is a multipart upload with a
// handful of form fields, and the segment metadata must be parsed verbatim.
//
// Two model families behave differently: whisper-1 supports verbose_json and
// returns segments; the gpt-4o-transcribe family only supports plain json and
// returns no segments (callers then fall back to a volume-derived confidence).
// The response format is chosen automatically from the model name and can be
// overridden with [WithResponseFormat].
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mwinther/skald/pkg/provider/transcriber"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Compile-time interface assertion.
var _ transcriber.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (e.g. for a compatible proxy or a
// test server). The default is the public OpenAI endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient replaces the HTTP client. The default client carries a 60s
// timeout sized for typical utterance lengths.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithResponseFormat forces the response_format form field ("json" or
// "verbose_json") instead of deriving it from the model name.
func WithResponseFormat(format string) Option {
	return func(p *Provider) {
		p.responseFormat = format
	}
}

// WithTempDir sets the directory for the temporary audio files uploaded to
// the API. Defaults to the system temp directory.
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		p.tempDir = dir
	}
}

// Provider implements [transcriber.Provider] against the OpenAI audio API.
// Safe for concurrent use; each call uses its own temporary file.
type Provider struct {
	apiKey         string
	model          string
	baseURL        string
	responseFormat string
	tempDir        string
	httpClient     *http.Client
}

// New creates a Provider calling the given model (e.g. "gpt-4o-transcribe",
// "whisper-1"). apiKey and model must be non-empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.responseFormat == "" {
		// Only the whisper family supports segment-level verbose output.
		if strings.HasPrefix(model, "whisper") {
			p.responseFormat = "verbose_json"
		} else {
			p.responseFormat = "json"
		}
	}
	return p, nil
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// verboseResponse covers both the json and verbose_json response shapes; the
// plain shape simply leaves everything but Text zero.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// apiError is the error envelope returned by the API on non-2xx responses.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe uploads the utterance and parses the response. The WAV payload
// is staged as a temporary file for the multipart upload; the file is removed
// on every path out of this method.
func (p *Provider) Transcribe(ctx context.Context, req transcriber.Request) (*transcriber.Result, error) {
	if len(req.WAV) == 0 {
		return nil, errors.New("openai: empty audio payload")
	}

	tmp, err := os.CreateTemp(p.tempDir, "utterance-*.wav")
	if err != nil {
		return nil, fmt.Errorf("openai: create temp audio file: %w", err)
	}
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			slog.Warn("openai: failed to remove temp audio file", "path", tmp.Name(), "error", rmErr)
		}
	}()

	if _, err := tmp.Write(req.WAV); err != nil {
		return nil, fmt.Errorf("openai: write temp audio file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("openai: rewind temp audio file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := io.Copy(fw, tmp); err != nil {
		return nil, fmt.Errorf("openai: copy audio data: %w", err)
	}

	fields := map[string]string{
		"model":           p.model,
		"response_format": p.responseFormat,
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("openai: write form field %s: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openai: %s (HTTP %d): %s", p.model, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("openai: %s returned HTTP %d", p.model, resp.StatusCode)
	}

	var parsed verboseResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}

	result := &transcriber.Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
		Duration: time.Duration(parsed.Duration * float64(time.Second)),
		Model:    p.model,
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, transcriber.Segment{
			Text:       seg.Text,
			AvgLogprob: seg.AvgLogprob,
		})
	}
	return result, nil
}
