package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/core"
)

// Hooks observe each step of the agent. BeforeStep may contribute knowledge
// to the system prompt; AfterStep sees the completed exchange. Hooks must
// absorb their own failures.
type Hooks interface {
	Initialize(ctx context.Context) error
	BeforeStep(ctx context.Context, systemPrompt, userPrompt string) core.Knowledge
	AfterStep(ctx context.Context, userPrompt, assistantResponse string, toolCalls []core.ToolCall)
	Close() error
}

// Generator produces the assistant's reply for one step.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is what the engine hands the generator.
type Request struct {
	SystemPrompt string
	UserMessage  string

	// StreamCallback is an optional callback for streaming responses.
	StreamCallback func(chunk string, done bool)
}

// Response is the generator's reply.
type Response struct {
	Text       string
	ToolCalls  []core.ToolCall
	TokensUsed TokenUsage
}

// TokenUsage tracks model token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Engine runs agent steps: hooks before, generation, hooks after.
// Steps are sequential; Step must not be called concurrently.
type Engine struct {
	generator    Generator
	hooks        []Hooks
	promptSource string
	prompt       *template.Template
	knowledge    core.Knowledge
	logger       *log.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// Option configures the engine.
type Option func(*Engine)

// WithHooks registers step hooks, called in order.
func WithHooks(h ...Hooks) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, h...)
	}
}

// WithSystemPrompt sets the system prompt template. Knowledge entries are
// available as .Knowledge.
func WithSystemPrompt(tmpl string) Option {
	return func(e *Engine) {
		e.promptSource = tmpl
	}
}

// WithKnowledge seeds the agent's knowledge map.
func WithKnowledge(k core.Knowledge) Option {
	return func(e *Engine) {
		e.knowledge.Merge(k)
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine around generator. The system prompt template
// is parsed here.
func NewEngine(generator Generator, opts ...Option) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("engine: generator is required")
	}
	e := &Engine{
		generator:    generator,
		promptSource: DefaultSystemPrompt,
		knowledge:    core.Knowledge{},
		logger:       log.Default().WithPrefix("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	prompt, err := parsePrompt(e.promptSource)
	if err != nil {
		return nil, err
	}
	e.prompt = prompt
	return e, nil
}

// Input represents the input to one step.
type Input struct {
	// UserMessage is the user's message to process.
	UserMessage string

	// StreamCallback is an optional callback for streaming responses.
	StreamCallback func(chunk string, done bool)
}

// Output represents the result of one step.
type Output struct {
	// Text is the agent's text response.
	Text string

	// ToolsUsed records all tools invoked during this step.
	ToolsUsed []core.ToolCall

	// TokensUsed tracks model token consumption for this step.
	TokensUsed TokenUsage
}

// Step runs one user turn. Hooks are initialised on the first step.
func (e *Engine) Step(ctx context.Context, input *Input) (*Output, error) {
	if err := e.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	// Memory context from an earlier step must not leak into this one.
	delete(e.knowledge, core.MemoryContextKey)
	for _, h := range e.hooks {
		e.knowledge.Merge(h.BeforeStep(ctx, e.promptSource, input.UserMessage))
	}

	systemPrompt, err := renderPrompt(e.prompt, e.promptSource, e.knowledge)
	if err != nil {
		return nil, err
	}

	resp, err := e.generator.Generate(ctx, &Request{
		SystemPrompt:   systemPrompt,
		UserMessage:    input.UserMessage,
		StreamCallback: input.StreamCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	for _, h := range e.hooks {
		h.AfterStep(ctx, input.UserMessage, resp.Text, resp.ToolCalls)
	}

	e.logger.Debug("step complete", "tools", len(resp.ToolCalls),
		"input_tokens", resp.TokensUsed.InputTokens, "output_tokens", resp.TokensUsed.OutputTokens)

	return &Output{
		Text:       resp.Text,
		ToolsUsed:  resp.ToolCalls,
		TokensUsed: resp.TokensUsed,
	}, nil
}

func (e *Engine) ensureInitialized(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("engine: closed")
	}
	if e.initialized {
		return nil
	}
	for _, h := range e.hooks {
		if err := h.Initialize(ctx); err != nil {
			e.logger.Warn("hook initialization failed", "err", err)
		}
	}
	e.initialized = true
	return nil
}

// Knowledge returns a copy of the agent's current knowledge map.
func (e *Engine) Knowledge() core.Knowledge {
	out := make(core.Knowledge, len(e.knowledge))
	out.Merge(e.knowledge)
	return out
}

// Close tears down every hook. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, h := range e.hooks {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parsePrompt(src string) (*template.Template, error) {
	t, err := template.New("system").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("engine: parse system prompt: %w", err)
	}
	return t, nil
}

// renderPrompt executes the template. Memory context is appended when the
// template does not place it itself.
func renderPrompt(t *template.Template, src string, knowledge core.Knowledge) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, struct{ Knowledge core.Knowledge }{knowledge}); err != nil {
		return "", fmt.Errorf("engine: render system prompt: %w", err)
	}
	prompt := b.String()

	if mem := knowledge[core.MemoryContextKey]; mem != "" && !strings.Contains(src, core.MemoryContextKey) {
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + mem
	}
	return prompt, nil
}

// DefaultSystemPrompt is the default system prompt template.
const DefaultSystemPrompt = `You are a helpful assistant with long-term memory.

GUIDELINES:
- Be conversational and helpful
- Ask clarifying questions when needed
- Use memories from earlier conversations when they are relevant
- Store durable facts and preferences the user shares with store_memory

REASONING PATTERN:
When using tools, include a "thought" field explaining your reasoning:
1. What you already know from memory
2. Why you're reading or writing memory now
3. What you expect to find or keep

Clearing memories is destructive: the thought field is REQUIRED for clear_memories.

AVAILABLE ACTIONS:
- Store new memories
- Retrieve memories by meaning, type and metadata
- Reflect on everything remembered about a topic
- Clear memories`
