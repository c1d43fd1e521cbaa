// Package integration binds a memory.Manager to an agent's step lifecycle:
// retrieval before each step, conversation persistence after it.
//
// Every failure is logged and absorbed. A broken memory backend disables the
// integration but never stops the agent.
package integration

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/memory"
)

// Integration owns one conversation ID and a message counter for a single
// agent. Its hooks are called sequentially by the agent's step loop.
type Integration struct {
	cfg            memory.Config
	conversationID string
	factory        Factory
	logger         *log.Logger

	mu           sync.Mutex
	enabled      bool
	manager      *memory.Manager
	shared       bool
	messageCount int
}

// Option configures an Integration.
type Option func(*Integration)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(i *Integration) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithFactory replaces the backend factory.
func WithFactory(f Factory) Option {
	return func(i *Integration) {
		if f != nil {
			i.factory = f
		}
	}
}

// WithManager injects an initialised manager shared with other sessions.
// Initialize then skips construction, and Close leaves the manager open for
// its owner.
func WithManager(m *memory.Manager) Option {
	return func(i *Integration) {
		i.manager = m
		i.shared = m != nil
	}
}

// WithConversationID overrides the generated conversation ID.
func WithConversationID(id string) Option {
	return func(i *Integration) {
		if id != "" {
			i.conversationID = id
		}
	}
}

// New creates an integration. Nothing is connected until Initialize.
func New(cfg memory.Config, opts ...Option) *Integration {
	i := &Integration{
		cfg:            cfg,
		enabled:        cfg.Enabled,
		conversationID: uuid.NewString(),
		factory:        NewManager,
		logger:         log.Default().WithPrefix("memory.integration"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ConversationID returns the ID shared by every turn this integration stores.
func (i *Integration) ConversationID() string {
	return i.conversationID
}

// Enabled reports whether the integration is active. It turns false when
// initialisation fails.
func (i *Integration) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}

// MessageCount returns the number of turns stored so far.
func (i *Integration) MessageCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.messageCount
}

// Manager returns the manager handle, or nil when disabled or closed.
func (i *Integration) Manager() *memory.Manager {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled {
		return nil
	}
	return i.manager
}

// Initialize builds and initialises the configured manager. Any failure is
// logged and disables the integration; it never returns an error.
func (i *Integration) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.enabled || i.manager != nil {
		return nil
	}

	m, err := i.factory(ctx, i.cfg, i.logger)
	if err != nil {
		i.logger.Error("memory disabled: could not build manager", "err", err)
		i.enabled = false
		return nil
	}
	if err := m.Initialize(ctx); err != nil {
		i.logger.Error("memory disabled: initialization failed", "err", err)
		_ = m.Close()
		i.enabled = false
		return nil
	}

	i.manager = m
	i.logger.Info("memory initialized",
		"provider", i.cfg.Provider, "embedding", i.cfg.Embedding, "conversation_id", i.conversationID)
	return nil
}

func (i *Integration) active(flag bool) *memory.Manager {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled || !flag {
		return nil
	}
	return i.manager
}

// BeforeStep returns the memory context for the user prompt, or an empty
// mapping when retrieval is off, finds nothing or fails.
func (i *Integration) BeforeStep(ctx context.Context, systemPrompt, userPrompt string) core.Knowledge {
	m := i.active(i.cfg.AutoRetrieve)
	if m == nil {
		return core.Knowledge{}
	}

	text, err := memory.RetrieveRelevantContext(ctx, m, userPrompt, i.cfg.AutoRetrieveLimit, i.cfg.IncludeSemantic)
	if err != nil {
		i.logger.Warn("memory retrieval failed", "err", err)
		return core.Knowledge{}
	}
	if text == "" || text == memory.NoMemoriesFound {
		return core.Knowledge{}
	}
	return core.Knowledge{core.MemoryContextKey: text}
}

// AfterStep stores the user and assistant turns. Failures are logged and
// swallowed.
func (i *Integration) AfterStep(ctx context.Context, userPrompt, assistantResponse string, toolCalls []core.ToolCall) {
	m := i.active(i.cfg.AutoStoreConversations)
	if m == nil {
		return
	}

	i.mu.Lock()
	index := i.messageCount
	i.messageCount += 2
	i.mu.Unlock()

	_, _, err := memory.StoreExchange(ctx, m, memory.Exchange{
		ConversationID: i.conversationID,
		User:           userPrompt,
		Assistant:      assistantResponse,
		MessageIndex:   index,
		ToolCalls:      toolCalls,
	})
	if err != nil {
		i.logger.Warn("storing conversation failed", "err", err)
	}
}

// Close releases an owned manager. Idempotent.
func (i *Integration) Close() error {
	i.mu.Lock()
	m, shared := i.manager, i.shared
	i.manager = nil
	i.mu.Unlock()

	if m == nil || shared {
		return nil
	}
	if err := m.Close(); err != nil {
		i.logger.Warn("closing memory manager failed", "err", err)
		return err
	}
	return nil
}
