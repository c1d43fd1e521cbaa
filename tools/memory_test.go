package tools_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
	"github.com/becomeliminal/nim-memory/tools"
)

func newTools(t *testing.T) (*tools.MemoryTools, *memory.Manager) {
	t.Helper()
	e := mock.New(32)
	m := memory.NewManager(chromem.New(chromem.Config{}, e), e)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return tools.NewMemoryTools(tools.Static(m)), m
}

func storedID(t *testing.T, out string) string {
	t.Helper()
	id, ok := strings.CutPrefix(out, "Successfully stored memory with ID: ")
	require.True(t, ok, out)
	return id
}

func TestStoreMemory(t *testing.T) {
	ctx := context.Background()
	mt, m := newTools(t)

	id := storedID(t, mt.StoreMemory(ctx, "user likes tea", "Semantic", json.RawMessage(`"{\"source\": \"chat\"}"`)))

	records, err := m.Retrieve(ctx, memory.Query{Text: "tea", Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, memory.Semantic, records[0].Type)
	assert.Equal(t, map[string]any{"source": "chat"}, records[0].Metadata)
}

func TestStoreMemory_Fallbacks(t *testing.T) {
	ctx := context.Background()
	mt, m := newTools(t)

	storedID(t, mt.StoreMemory(ctx, "odd input", "dream", json.RawMessage(`"not json"`)))
	storedID(t, mt.StoreMemory(ctx, "array metadata", "", json.RawMessage(`[1, 2]`)))

	records, err := m.Retrieve(ctx, memory.Query{Text: "input", Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, memory.Episodic, r.Type)
		assert.Empty(t, r.Metadata)
	}
}

func TestRetrieveMemory(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTools(t)

	assert.Equal(t, "No relevant memories found.", mt.RetrieveMemory(ctx, "anything", 5, "", nil))

	storedID(t, mt.StoreMemory(ctx, "meeting on friday", "episodic", json.RawMessage(`{"project": "apollo"}`)))
	storedID(t, mt.StoreMemory(ctx, "paris is in france", "semantic", nil))

	out := mt.RetrieveMemory(ctx, "friday", 5, "episodic", json.RawMessage(`{"project": "apollo"}`))
	assert.True(t, strings.HasPrefix(out, "Found 1 relevant memories:\n\n"), out)
	assert.Contains(t, out, "Type: episodic):\n")
	assert.Contains(t, out, "Metadata: project: apollo\n")
	assert.Contains(t, out, "Content: meeting on friday\n")

	// invalid type and filter are ignored
	out = mt.RetrieveMemory(ctx, "friday", 0, "dream", json.RawMessage(`"{broken"`))
	assert.True(t, strings.HasPrefix(out, "Found 2 relevant memories:"), out)
}

func TestReflect(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTools(t)

	assert.Equal(t, "No relevant memories found to reflect upon.", mt.Reflect(ctx, "tea", 10))

	storedID(t, mt.StoreMemory(ctx, "user prefers green tea", "semantic", json.RawMessage(`{"topic": "drinks"}`)))
	out := mt.Reflect(ctx, "tea", 0)
	assert.True(t, strings.HasPrefix(out, "Memory reflection on 'tea':\n\nBased on my memory"), out)
	assert.Contains(t, out, "Memory #1 (Type: semantic):\nContext: topic: drinks\nuser prefers green tea\n")
}

func TestClearMemories(t *testing.T) {
	ctx := context.Background()
	mt, m := newTools(t)

	storedID(t, mt.StoreMemory(ctx, "a", "episodic", nil))
	storedID(t, mt.StoreMemory(ctx, "b", "semantic", nil))

	assert.Equal(t, "Invalid memory type: dreams. Valid types are: episodic, semantic, working, or all.",
		mt.ClearMemories(ctx, "dreams"))

	assert.Equal(t, "Successfully cleared all episodic memories.", mt.ClearMemories(ctx, "episodic"))
	records, err := m.Retrieve(ctx, memory.Query{Text: "a", Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, memory.Semantic, records[0].Type)

	assert.Equal(t, "Successfully cleared all memories.", mt.ClearMemories(ctx, "ALL"))
	records, err = m.Retrieve(ctx, memory.Query{Text: "a", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestToolsWithoutManager(t *testing.T) {
	ctx := context.Background()
	mt := tools.NewMemoryTools(tools.Static(nil))

	assert.True(t, strings.HasPrefix(mt.StoreMemory(ctx, "x", "", nil), "Failed to store memory:"))
	assert.True(t, strings.HasPrefix(mt.RetrieveMemory(ctx, "x", 1, "", nil), "Failed to retrieve memories:"))
	assert.True(t, strings.HasPrefix(mt.Reflect(ctx, "x", 1), "Failed to reflect on memories:"))
	assert.True(t, strings.HasPrefix(mt.ClearMemories(ctx, "all"), "Failed to clear memories:"))
}

func TestToolsAfterManagerClosed(t *testing.T) {
	ctx := context.Background()
	mt, m := newTools(t)
	require.NoError(t, m.Close())

	assert.True(t, strings.HasPrefix(mt.StoreMemory(ctx, "x", "", nil), "Failed to store memory:"))
}

func TestDefinitions(t *testing.T) {
	mt, _ := newTools(t)
	defs := mt.Definitions()
	require.Len(t, defs, 4)

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.ToolName)
		assert.NotEmpty(t, d.ToolDescription)
		assert.Equal(t, "object", d.InputSchema["type"])
		props, ok := d.InputSchema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "thought")
	}
	assert.Equal(t, []string{"store_memory", "retrieve_memory", "reflect", "clear_memories"}, names)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTools(t)

	out, err := mt.Execute(ctx, tools.ToolStoreMemory, json.RawMessage(`{"thought": "remember", "content": "blue car", "metadata": {"owner": "sam"}}`))
	require.NoError(t, err)
	storedID(t, out)

	out, err = mt.Execute(ctx, tools.ToolRetrieveMemory, json.RawMessage(`{"query": "car", "metadata_filter": "{\"owner\": \"sam\"}"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Content: blue car")

	out, err = mt.Execute(ctx, tools.ToolReflect, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Memory reflection on ''")

	out, err = mt.Execute(ctx, tools.ToolClearMemories, json.RawMessage(`{"memory_type": "working"}`))
	require.NoError(t, err)
	assert.Equal(t, "Successfully cleared all working memories.", out)

	_, err = mt.Execute(ctx, "launch_rocket", nil)
	assert.ErrorContains(t, err, "unknown tool: launch_rocket")

	_, err = mt.Execute(ctx, tools.ToolReflect, json.RawMessage(`{"limit": "ten"}`))
	assert.Error(t, err)
}
