package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mwinther/skald/pkg/audio"
	"github.com/mwinther/skald/pkg/provider/transcriber"
)

func testWAV() []byte {
	return audio.EncodeWAV(make([]byte, 4800), 48000, 1)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "whisper-1"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestNew_ResponseFormatFromModel(t *testing.T) {
	t.Parallel()

	p, err := New("key", "whisper-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.responseFormat != "verbose_json" {
		t.Errorf("whisper-1 format = %q, want verbose_json", p.responseFormat)
	}

	p, err = New("key", "gpt-4o-transcribe")
	if err != nil {
		t.Fatal(err)
	}
	if p.responseFormat != "json" {
		t.Errorf("gpt-4o-transcribe format = %q, want json", p.responseFormat)
	}

	p, err = New("key", "gpt-4o-transcribe", WithResponseFormat("verbose_json"))
	if err != nil {
		t.Fatal(err)
	}
	if p.responseFormat != "verbose_json" {
		t.Errorf("override format = %q, want verbose_json", p.responseFormat)
	}
}

func TestTranscribe_ParsesVerboseResponse(t *testing.T) {
	t.Parallel()

	var gotModel, gotFormat, gotLanguage, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("filename = %q, want audio.wav", header.Filename)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"text":     " hello there ",
			"language": "en",
			"duration": 1.5,
			"segments": []map[string]any{
				{"text": "hello", "avg_logprob": -0.1},
				{"text": "there", "avg_logprob": -0.3},
			},
		})
	}))
	defer srv.Close()

	p, err := New("test-key", "whisper-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Transcribe(context.Background(), transcriber.Request{WAV: testWAV(), Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotModel != "whisper-1" || gotFormat != "verbose_json" || gotLanguage != "en" {
		t.Errorf("form fields = %q/%q/%q", gotModel, gotFormat, gotLanguage)
	}
	if res.Text != "hello there" {
		t.Errorf("text = %q, want trimmed %q", res.Text, "hello there")
	}
	if res.Language != "en" {
		t.Errorf("language = %q, want en", res.Language)
	}
	if res.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", res.Duration)
	}
	if res.Model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", res.Model)
	}
	if len(res.Segments) != 2 || res.Segments[0].AvgLogprob != -0.1 {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestTranscribe_PlainJSONResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"text": "plain response"})
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-transcribe", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), transcriber.Request{WAV: testWAV()})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "plain response" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Segments) != 0 {
		t.Errorf("expected no segments, got %d", len(res.Segments))
	}
}

func TestTranscribe_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded", "type": "server_error"},
		})
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-transcribe", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Transcribe(context.Background(), transcriber.Request{WAV: testWAV()})
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error %q should carry the API message", err)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, err := New("key", "whisper-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transcribe(context.Background(), transcriber.Request{}); err == nil {
		t.Error("expected error for empty audio payload")
	}
}

func TestTranscribe_RemovesTempFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	p, err := New("key", "whisper-1", WithBaseURL(srv.URL), WithTempDir(dir))
	if err != nil {
		t.Fatal(err)
	}

	// Even on a failed request the staged audio file must be cleaned up.
	_, _ = p.Transcribe(context.Background(), transcriber.Request{WAV: testWAV()})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned up: %d files remain", len(entries))
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can notice the client abort; with
		// unread body bytes buffered it never cancels r.Context().
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := New("key", "whisper-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, transcriber.Request{WAV: testWAV()}); err == nil {
		t.Error("expected error after context timeout")
	}
}
