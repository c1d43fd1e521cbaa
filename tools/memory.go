// Package tools exposes the memory system to a model as callable tools.
//
// Every tool returns a human-readable string. Failures are reported in the
// returned text and never cross the tool boundary as errors or panics.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/memory"
)

// Tool names.
const (
	ToolStoreMemory    = "store_memory"
	ToolRetrieveMemory = "retrieve_memory"
	ToolReflect        = "reflect"
	ToolClearMemories  = "clear_memories"
)

const (
	DefaultRetrieveLimit = 5
	DefaultReflectLimit  = 10
)

var errUnavailable = errors.New("memory system is not available")

// ManagerSource yields the manager the tools operate on. A nil manager means
// memory is disabled.
type ManagerSource interface {
	Manager() *memory.Manager
}

// ManagerFunc adapts a function to ManagerSource.
type ManagerFunc func() *memory.Manager

// Manager implements ManagerSource.
func (f ManagerFunc) Manager() *memory.Manager { return f() }

// Static returns a ManagerSource that always yields m.
func Static(m *memory.Manager) ManagerSource {
	return ManagerFunc(func() *memory.Manager { return m })
}

// MemoryTools implements the four memory tools against a ManagerSource.
type MemoryTools struct {
	source ManagerSource
	logger *log.Logger
}

// Option configures MemoryTools.
type Option func(*MemoryTools)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *MemoryTools) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewMemoryTools binds the tools to source.
func NewMemoryTools(source ManagerSource, opts ...Option) *MemoryTools {
	t := &MemoryTools{
		source: source,
		logger: log.Default().WithPrefix("tools.memory"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTools) manager() (*memory.Manager, error) {
	if t.source == nil {
		return nil, errUnavailable
	}
	m := t.source.Manager()
	if m == nil {
		return nil, errUnavailable
	}
	return m, nil
}

// StoreMemoryInput is the input of store_memory.
type StoreMemoryInput struct {
	core.BaseInput
	Content    string          `json:"content"`
	MemoryType string          `json:"memory_type,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// RetrieveMemoryInput is the input of retrieve_memory.
type RetrieveMemoryInput struct {
	core.BaseInput
	Query          string          `json:"query"`
	Limit          int             `json:"limit,omitempty"`
	MemoryType     string          `json:"memory_type,omitempty"`
	MetadataFilter json.RawMessage `json:"metadata_filter,omitempty"`
}

// ReflectInput is the input of reflect.
type ReflectInput struct {
	core.BaseInput
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// ClearMemoriesInput is the input of clear_memories.
type ClearMemoriesInput struct {
	core.BaseInput
	MemoryType string `json:"memory_type,omitempty"`
}

// StoreMemory saves content. An invalid memory type falls back to episodic
// and unparseable metadata to none.
func (t *MemoryTools) StoreMemory(ctx context.Context, content, memoryType string, metadata json.RawMessage) string {
	m, err := t.manager()
	if err != nil {
		return fmt.Sprintf("Failed to store memory: %v", err)
	}

	mt := memory.Episodic
	if strings.TrimSpace(memoryType) != "" {
		parsed, err := memory.ParseMemoryType(memoryType)
		if err != nil {
			t.logger.Warn("invalid memory type, using episodic", "memory_type", memoryType)
		} else {
			mt = parsed
		}
	}

	md, err := parseObject(metadata)
	if err != nil {
		t.logger.Warn("metadata is not a JSON object, using empty metadata", "err", err)
		md = map[string]any{}
	}

	id, err := m.Store(ctx, content, mt, md)
	if err != nil {
		t.logger.Error("storing memory failed", "err", err)
		return fmt.Sprintf("Failed to store memory: %v", err)
	}
	return fmt.Sprintf("Successfully stored memory with ID: %s", id)
}

// RetrieveMemory lists the memories most similar to query. An invalid memory
// type means no type filter; unparseable filters mean no metadata filter.
func (t *MemoryTools) RetrieveMemory(ctx context.Context, query string, limit int, memoryType string, metadataFilter json.RawMessage) string {
	m, err := t.manager()
	if err != nil {
		return fmt.Sprintf("Failed to retrieve memories: %v", err)
	}
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}

	var mt memory.MemoryType
	if strings.TrimSpace(memoryType) != "" {
		parsed, err := memory.ParseMemoryType(memoryType)
		if err != nil {
			t.logger.Warn("invalid memory type, using no type filter", "memory_type", memoryType)
		} else {
			mt = parsed
		}
	}

	filter, err := parseObject(metadataFilter)
	if err != nil {
		t.logger.Warn("metadata filter is not a JSON object, using no metadata filter", "err", err)
		filter = nil
	}

	records, err := m.Retrieve(ctx, memory.Query{
		Text:           query,
		Limit:          limit,
		Type:           mt,
		MetadataFilter: filter,
	})
	if err != nil {
		t.logger.Error("retrieving memories failed", "err", err)
		return fmt.Sprintf("Failed to retrieve memories: %v", err)
	}
	if len(records) == 0 {
		return memory.NoMemoriesFound
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memories:\n\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "Memory #%d (ID: %s, Type: %s):\n", i+1, rec.ID, rec.Type)
		fmt.Fprintf(&b, "Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		if line := metadataLine(rec.Metadata); line != "" {
			fmt.Fprintf(&b, "Metadata: %s\n", line)
		}
		fmt.Fprintf(&b, "Content: %s\n\n", rec.Content)
	}
	return b.String()
}

// Reflect gathers the memories related to query for the model to reason over.
func (t *MemoryTools) Reflect(ctx context.Context, query string, limit int) string {
	m, err := t.manager()
	if err != nil {
		return fmt.Sprintf("Failed to reflect on memories: %v", err)
	}
	if limit <= 0 {
		limit = DefaultReflectLimit
	}

	records, err := m.Retrieve(ctx, memory.Query{Text: query, Limit: limit})
	if err != nil {
		t.logger.Error("reflection failed", "err", err)
		return fmt.Sprintf("Failed to reflect on memories: %v", err)
	}
	if len(records) == 0 {
		return "No relevant memories found to reflect upon."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory reflection on '%s':\n\n", query)
	b.WriteString("Based on my memory, I can reflect on the following relevant information:\n\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "Memory #%d (Type: %s):\n", i+1, rec.Type)
		if line := metadataLine(rec.Metadata); line != "" {
			fmt.Fprintf(&b, "Context: %s\n", line)
		}
		fmt.Fprintf(&b, "%s\n\n", rec.Content)
	}
	return b.String()
}

// ClearMemories removes all memories, or all of one type. memoryType is
// "all" or a memory type name.
func (t *MemoryTools) ClearMemories(ctx context.Context, memoryType string) string {
	m, err := t.manager()
	if err != nil {
		return fmt.Sprintf("Failed to clear memories: %v", err)
	}

	name := strings.ToLower(strings.TrimSpace(memoryType))
	if name == "" || name == "all" {
		if err := m.Clear(ctx, ""); err != nil {
			t.logger.Error("clearing memories failed", "err", err)
			return fmt.Sprintf("Failed to clear memories: %v", err)
		}
		return "Successfully cleared all memories."
	}

	mt, err := memory.ParseMemoryType(name)
	if err != nil {
		return fmt.Sprintf("Invalid memory type: %s. Valid types are: episodic, semantic, working, or all.", memoryType)
	}
	if err := m.Clear(ctx, mt); err != nil {
		t.logger.Error("clearing memories failed", "err", err, "memory_type", mt)
		return fmt.Sprintf("Failed to clear memories: %v", err)
	}
	return fmt.Sprintf("Successfully cleared all %s memories.", memoryType)
}

// Definitions returns the model-facing tool definitions.
func (t *MemoryTools) Definitions() []core.ToolDefinition {
	types := make([]string, 0, len(memory.MemoryTypes))
	for _, mt := range memory.MemoryTypes {
		types = append(types, string(mt))
	}

	return []core.ToolDefinition{
		{
			ToolName:        ToolStoreMemory,
			ToolDescription: "Store a new memory. The content becomes searchable by meaning in later conversations.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"content":     StringProperty("The text content to store in memory"),
				"memory_type": StringEnumProperty("The type of memory (default: episodic)", types...),
				"metadata":    StringProperty("Optional JSON object of metadata, as a string"),
			}, false, "content"),
		},
		{
			ToolName:        ToolRetrieveMemory,
			ToolDescription: "Retrieve memories semantically similar to a query, optionally filtered by type and metadata.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"query":           StringProperty("The query to search for relevant memories"),
				"limit":           IntegerProperty("Maximum number of memories to retrieve", DefaultRetrieveLimit),
				"memory_type":     StringEnumProperty("Optional filter by memory type", types...),
				"metadata_filter": StringProperty("Optional JSON object of metadata equality filters, as a string"),
			}, false, "query"),
		},
		{
			ToolName:        ToolReflect,
			ToolDescription: "Gather past memories related to a topic to reason about them.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"query": StringProperty("The topic or question to reflect on"),
				"limit": IntegerProperty("Maximum number of memories to consider", DefaultReflectLimit),
			}, false, "query"),
		},
		{
			ToolName:        ToolClearMemories,
			ToolDescription: "Permanently delete all memories of one type, or all memories.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"memory_type": StringEnumProperty("The type of memories to clear", append(append([]string{}, types...), "all")...),
			}, true),
		},
	}
}

// Execute dispatches a tool call by name. Errors are returned only for
// unknown tools and undecodable input.
func (t *MemoryTools) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	switch name {
	case ToolStoreMemory:
		var in StoreMemoryInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("invalid %s input: %w", name, err)
		}
		return t.StoreMemory(ctx, in.Content, in.MemoryType, in.Metadata), nil
	case ToolRetrieveMemory:
		var in RetrieveMemoryInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("invalid %s input: %w", name, err)
		}
		return t.RetrieveMemory(ctx, in.Query, in.Limit, in.MemoryType, in.MetadataFilter), nil
	case ToolReflect:
		var in ReflectInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("invalid %s input: %w", name, err)
		}
		return t.Reflect(ctx, in.Query, in.Limit), nil
	case ToolClearMemories:
		var in ClearMemoriesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("invalid %s input: %w", name, err)
		}
		return t.ClearMemories(ctx, in.MemoryType), nil
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

// parseObject decodes a JSON object given either inline or as a JSON string
// containing the object. Empty input yields an empty map.
func parseObject(raw json.RawMessage) (map[string]any, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(s)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("not a JSON object")
	}
	return out, nil
}

func metadataLine(md map[string]any) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+memory.FormatValue(md[k]))
	}
	return strings.Join(parts, ", ")
}
