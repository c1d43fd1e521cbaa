// Package core holds the small value types shared by the engine, the memory
// integration and the tool surface.
package core

import "encoding/json"

// BaseInput provides common fields for all tool inputs.
// Memory tools embed this struct so the model can explain why it reads or
// writes memory.
type BaseInput struct {
	// Thought contains the agent's reasoning about why it's using this tool.
	Thought string `json:"thought,omitempty"`
}

// ToolCall records one tool invocation made by the assistant during a step.
type ToolCall struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Result string          `json:"result,omitempty"`
	Failed bool            `json:"failed,omitempty"`
}

// ToolDefinition describes a tool the model may call. InputSchema is a JSON
// Schema object.
type ToolDefinition struct {
	ToolName        string         `json:"name"`
	ToolDescription string         `json:"description"`
	InputSchema     map[string]any `json:"input_schema"`
}

// Knowledge is the agent-held key/text mapping interpolated into the system
// prompt.
type Knowledge map[string]string

// Merge copies every entry of other into k, overwriting existing keys.
func (k Knowledge) Merge(other Knowledge) {
	for key, v := range other {
		k[key] = v
	}
}

// MemoryContextKey is the knowledge key the memory integration injects.
const MemoryContextKey = "memory_context"
