package respond

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Reply generation defaults, tuned for short conversational voice replies.
const (
	defaultMaxReplyTokens   = 200
	defaultTemperature      = 0.7
	defaultFrequencyPenalty = 0.5
	defaultPresencePenalty  = 0.3
)

// ReplyGenerator produces a reply to the latest user turn in history. The
// history carries the system prompt and attributed utterances; the last
// entry is the turn being answered.
type ReplyGenerator interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// Compile-time interface assertion.
var _ ReplyGenerator = (*ChatGenerator)(nil)

// GeneratorOption is a functional option for a [ChatGenerator].
type GeneratorOption func(*generatorConfig)

type generatorConfig struct {
	baseURL   string
	timeout   time.Duration
	maxTokens int64
}

// WithGeneratorBaseURL overrides the OpenAI API base URL (tests point it at
// a local server).
func WithGeneratorBaseURL(url string) GeneratorOption {
	return func(c *generatorConfig) {
		c.baseURL = url
	}
}

// WithGeneratorTimeout sets a per-request HTTP timeout.
func WithGeneratorTimeout(d time.Duration) GeneratorOption {
	return func(c *generatorConfig) {
		c.timeout = d
	}
}

// WithMaxReplyTokens bounds the reply length. Default: 200.
func WithMaxReplyTokens(n int64) GeneratorOption {
	return func(c *generatorConfig) {
		c.maxTokens = n
	}
}

// ChatGenerator implements [ReplyGenerator] with OpenAI chat completions.
type ChatGenerator struct {
	client    oai.Client
	model     string
	maxTokens int64
}

// NewChatGenerator constructs a generator using the given API key and model.
func NewChatGenerator(apiKey, model string, opts ...GeneratorOption) (*ChatGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("respond: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("respond: model must not be empty")
	}

	cfg := &generatorConfig{maxTokens: defaultMaxReplyTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &ChatGenerator{
		client:    oai.NewClient(reqOpts...),
		model:     model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Reply implements [ReplyGenerator].
func (g *ChatGenerator) Reply(ctx context.Context, history []Message) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, g.buildParams(history))
	if err != nil {
		return "", fmt.Errorf("respond: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("respond: empty choices in response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("respond: empty completion")
	}
	return reply, nil
}

func (g *ChatGenerator) buildParams(history []Message) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	return oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(g.model),
		Messages:            messages,
		MaxCompletionTokens: param.NewOpt(g.maxTokens),
		Temperature:         param.NewOpt(defaultTemperature),
		FrequencyPenalty:    param.NewOpt(defaultFrequencyPenalty),
		PresencePenalty:     param.NewOpt(defaultPresencePenalty),
	}
}
