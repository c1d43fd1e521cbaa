package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/core"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
	DefaultMaxTurns  = 20
)

// ToolExecutor supplies the tools the model may call.
type ToolExecutor interface {
	Definitions() []core.ToolDefinition
	Execute(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// AnthropicConfig configures the Claude-backed generator.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	MaxTurns  int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// AnthropicGenerator runs the tool-use loop against the Messages API and
// keeps the conversation history between steps.
type AnthropicGenerator struct {
	client    anthropic.Client
	tools     ToolExecutor
	apiTools  []anthropic.ToolUnionParam
	model     string
	maxTokens int64
	maxTurns  int
	logger    *log.Logger

	mu       sync.Mutex
	messages []anthropic.MessageParam
}

var _ Generator = (*AnthropicGenerator)(nil)

// AnthropicOption configures an AnthropicGenerator.
type AnthropicOption func(*AnthropicGenerator)

// WithGeneratorLogger sets the generator's logger.
func WithGeneratorLogger(l *log.Logger) AnthropicOption {
	return func(g *AnthropicGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewAnthropicGenerator creates a generator. The API key comes from cfg or
// ANTHROPIC_API_KEY. tools may be nil.
func NewAnthropicGenerator(cfg AnthropicConfig, tools ToolExecutor, opts ...AnthropicOption) (*AnthropicGenerator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("engine: anthropic api key not set (config anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	g := &AnthropicGenerator{
		client:    anthropic.NewClient(clientOpts...),
		tools:     tools,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxTurns:  cfg.MaxTurns,
		logger:    log.Default().WithPrefix("engine.anthropic"),
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.maxTurns <= 0 {
		g.maxTurns = DefaultMaxTurns
	}
	if tools != nil {
		g.apiTools = toAPITools(tools.Definitions())
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Reset drops the conversation history.
func (g *AnthropicGenerator) Reset() {
	g.mu.Lock()
	g.messages = nil
	g.mu.Unlock()
}

// Generate appends the user message to the history and runs model turns
// until the model answers without calling tools.
func (g *AnthropicGenerator) Generate(ctx context.Context, req *Request) (*Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	history := append(slices.Clone(g.messages), anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)))

	var (
		usage     TokenUsage
		toolCalls []core.ToolCall
	)

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("timed out: %w", err)
		}
		if turn >= g.maxTurns {
			return nil, fmt.Errorf("exceeded maximum turns (%d)", g.maxTurns)
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(g.model),
			MaxTokens: g.maxTokens,
			Messages:  history,
		}
		if req.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
		}
		if len(g.apiTools) > 0 {
			params.Tools = g.apiTools
		}

		var (
			resp *anthropic.Message
			err  error
		)
		if req.StreamCallback != nil {
			resp, err = g.createMessageStreaming(ctx, params, req.StreamCallback)
		} else {
			resp, err = g.client.Messages.New(ctx, params)
		}
		if err != nil {
			return nil, fmt.Errorf("claude API error: %w", err)
		}

		usage.InputTokens += int(resp.Usage.InputTokens)
		usage.OutputTokens += int(resp.Usage.OutputTokens)

		var (
			text        string
			toolResults []anthropic.ContentBlockParamUnion
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				call := g.runTool(ctx, block.ID, block.Name, block.Input)
				toolCalls = append(toolCalls, call)
				toolResults = append(toolResults, anthropic.NewToolResultBlock(call.ID, call.Result, call.Failed))
			}
		}

		history = append(history, resp.ToParam())

		if len(toolResults) == 0 {
			g.messages = history
			if req.StreamCallback != nil {
				req.StreamCallback("", true)
			}
			return &Response{Text: text, ToolCalls: toolCalls, TokensUsed: usage}, nil
		}

		history = append(history, anthropic.NewUserMessage(toolResults...))
	}
}

func (g *AnthropicGenerator) runTool(ctx context.Context, id, name string, input json.RawMessage) core.ToolCall {
	call := core.ToolCall{ID: id, Name: name, Input: input}

	var base core.BaseInput
	if err := json.Unmarshal(input, &base); err != nil {
		call.Result, call.Failed = fmt.Sprintf("invalid tool input JSON: %s", err), true
		return call
	}

	if g.tools == nil {
		call.Result, call.Failed = fmt.Sprintf("unknown tool: %s", name), true
		return call
	}

	result, err := g.tools.Execute(ctx, name, input)
	if err != nil {
		call.Result, call.Failed = err.Error(), true
	} else {
		call.Result = result
	}

	g.logger.Debug("tool call", "tool", name, "thought", strings.TrimSpace(base.Thought), "failed", call.Failed)
	return call
}

func (g *AnthropicGenerator) createMessageStreaming(ctx context.Context, params anthropic.MessageNewParams, callback func(string, bool)) (*anthropic.Message, error) {
	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			g.logger.Warn("stream accumulation failed", "err", err)
		}

		if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				callback(delta.Text, false)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

func toAPITools(defs []core.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: def.InputSchema["properties"]}
		if required, ok := def.InputSchema["required"].([]string); ok {
			schema.Required = required
		}
		tool := anthropic.ToolParam{
			Name:        def.ToolName,
			Description: anthropic.String(def.ToolDescription),
			InputSchema: schema,
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}
