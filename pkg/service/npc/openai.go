package npc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/soramame-games/stationtalk/pkg/service"
)

// Compile-time assertion that OpenAIClient implements Client.
var _ Client = (*OpenAIClient)(nil)

// defaultPersona keeps an unconfigured NPC in character rather than
// answering as a generic assistant.
const defaultPersona = "You are a helpful character in a Japanese train " +
	"station. Answer briefly and stay in character. When you speak Japanese, " +
	"wrap the Japanese portion as [JA:...]."

// OpenAIOption is a functional option for OpenAIClient.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL string
	timeout time.Duration
}

// WithOpenAIBaseURL points the client at any OpenAI-compatible endpoint
// (e.g. a local inference server).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithOpenAITimeout sets a per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) {
		c.timeout = d
	}
}

// OpenAIClient generates NPC replies through an OpenAI-compatible chat
// completion API. Each NPC's character is driven by a persona system prompt
// keyed by NPC ID.
type OpenAIClient struct {
	client   oai.Client
	model    string
	personas map[string]string
}

// NewOpenAI constructs an OpenAIClient. personas maps NPC IDs to system
// prompts; NPCs without an entry get a generic station persona.
func NewOpenAI(apiKey, model string, personas map[string]string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("npc: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("npc: model must not be empty")
	}

	cfg := &openaiConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAIClient{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		personas: personas,
	}, nil
}

// Chat implements Client. The conversation history is replayed as chat
// messages ahead of the current utterance.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (Reply, error) {
	persona := c.personas[req.NPCID]
	if persona == "" {
		persona = defaultPersona
	}

	messages := []oai.ChatCompletionMessageParamUnion{oai.SystemMessage(persona)}
	for _, h := range req.History {
		switch h.Role {
		case "assistant":
			messages = append(messages, oai.AssistantMessage(h.Content))
		default:
			messages = append(messages, oai.UserMessage(h.Content))
		}
	}
	messages = append(messages, oai.UserMessage(req.Message))

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, fmt.Errorf("%w: npc: chat completion: %v", service.ErrUnreachable, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: npc: empty choices in response", service.ErrMalformedResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: npc: empty completion content", service.ErrMalformedResponse)
	}
	return Reply{Text: text}, nil
}

// Healthy lists models as a cheap reachability probe.
func (c *OpenAIClient) Healthy(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%w: npc: %v", service.ErrUnreachable, err)
	}
	return nil
}
