package respond

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// chatRequest mirrors the fields of the chat completion request we assert on.
type chatRequest struct {
	Model               string  `json:"model"`
	MaxCompletionTokens int64   `json:"max_completion_tokens"`
	Temperature         float64 `json:"temperature"`
	FrequencyPenalty    float64 `json:"frequency_penalty"`
	PresencePenalty     float64 `json:"presence_penalty"`
	Messages            []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, reply string, captured *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestNewChatGenerator_Validation(t *testing.T) {
	if _, err := NewChatGenerator("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := NewChatGenerator("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestChatGenerator_Reply(t *testing.T) {
	var captured chatRequest
	srv := newChatServer(t, "  Well met, traveler.  ", &captured)
	defer srv.Close()

	g, err := NewChatGenerator("test-key", "gpt-4o-mini", WithGeneratorBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewChatGenerator: %v", err)
	}

	history := []Message{
		{Role: "system", Content: "You are a bard."},
		{Role: "user", Content: "alice: hello"},
		{Role: "assistant", Content: "Well met."},
		{Role: "user", Content: "alice: sing us a song?"},
	}
	reply, err := g.Reply(context.Background(), history)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "Well met, traveler." {
		t.Errorf("reply = %q, want trimmed completion", reply)
	}

	if captured.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", captured.Model)
	}
	if captured.MaxCompletionTokens != defaultMaxReplyTokens {
		t.Errorf("max_completion_tokens = %d, want %d", captured.MaxCompletionTokens, defaultMaxReplyTokens)
	}
	if captured.Temperature != defaultTemperature {
		t.Errorf("temperature = %v, want %v", captured.Temperature, defaultTemperature)
	}
	if captured.FrequencyPenalty != defaultFrequencyPenalty {
		t.Errorf("frequency_penalty = %v, want %v", captured.FrequencyPenalty, defaultFrequencyPenalty)
	}
	if captured.PresencePenalty != defaultPresencePenalty {
		t.Errorf("presence_penalty = %v, want %v", captured.PresencePenalty, defaultPresencePenalty)
	}

	if len(captured.Messages) != len(history) {
		t.Fatalf("len(messages) = %d, want %d", len(captured.Messages), len(history))
	}
	for i, want := range history {
		got := captured.Messages[i]
		if got.Role != want.Role || got.Content != want.Content {
			t.Errorf("messages[%d] = %s %q, want %s %q", i, got.Role, got.Content, want.Role, want.Content)
		}
	}
}

func TestChatGenerator_ReplyCapsTokens(t *testing.T) {
	var captured chatRequest
	srv := newChatServer(t, "short", &captured)
	defer srv.Close()

	g, err := NewChatGenerator("test-key", "gpt-4o-mini",
		WithGeneratorBaseURL(srv.URL),
		WithMaxReplyTokens(64),
	)
	if err != nil {
		t.Fatalf("NewChatGenerator: %v", err)
	}
	if _, err := g.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if captured.MaxCompletionTokens != 64 {
		t.Errorf("max_completion_tokens = %d, want 64", captured.MaxCompletionTokens)
	}
}

func TestChatGenerator_EmptyCompletion(t *testing.T) {
	var captured chatRequest
	srv := newChatServer(t, "   ", &captured)
	defer srv.Close()

	g, err := NewChatGenerator("test-key", "gpt-4o-mini", WithGeneratorBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewChatGenerator: %v", err)
	}
	if _, err := g.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Error("expected error for blank completion")
	}
}
