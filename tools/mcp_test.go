package tools_test

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/tools"
)

func TestMCPServer_ListsTools(t *testing.T) {
	mt, _ := newTools(t)
	s := tools.NewMCPServer(mt, "nim-memory", "test")

	registered := s.ListTools()
	require.Len(t, registered, 4)
	for _, name := range []string{"store_memory", "retrieve_memory", "reflect", "clear_memories"} {
		assert.Contains(t, registered, name)
	}
}

func TestMCPServer_CallTools(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTools(t)
	registered := tools.NewMCPServer(mt, "nim-memory", "test").ListTools()

	result, err := registered["store_memory"].Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "store_memory",
			Arguments: map[string]any{"content": "the launch is on monday", "memory_type": "semantic"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Successfully stored memory with ID: ")

	result, err = registered["retrieve_memory"].Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "retrieve_memory",
			Arguments: map[string]any{"query": "launch", "limit": 3},
		},
	})
	require.NoError(t, err)
	text, ok = result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Content: the launch is on monday")

	result, err = registered["reflect"].Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "reflect",
			Arguments: map[string]any{"limit": "many"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
