package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
)

func newManager(t *testing.T) (*memory.Manager, *mock.Embedder) {
	t.Helper()
	e := mock.New(64)
	m := memory.NewManager(chromem.New(chromem.Config{}, e), e)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return m, e
}

func TestManager_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	md := map[string]any{"topic": "payments"}
	id, err := m.Store(ctx, "User prefers weekly summaries", memory.Semantic, md)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	md["topic"] = "mutated after store"

	got, err := m.Retrieve(ctx, memory.Query{Text: "User prefers weekly summaries", Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, memory.Semantic, got[0].Type)
	assert.Equal(t, "payments", got[0].Metadata["topic"], "caller map must not alias stored metadata")
}

func TestManager_StoreDefaultsToEpisodic(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.Store(ctx, "something happened", "", nil)
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, memory.Query{Text: "something happened", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, memory.Episodic, got[0].Type)
}

func TestManager_StoreDefaultsToPayloadType(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.Store(ctx, "alice likes tea", "", nil,
		memory.WithPayload(memory.Fact{Subject: "alice", Predicate: "likes", Object: "tea"}))
	require.NoError(t, err)
	_, err = m.Store(ctx, "we talked about tea", "", nil,
		memory.WithPayload(memory.ConversationTurn{Role: "user"}))
	require.NoError(t, err)
	_, err = m.Store(ctx, "tea insight, stored as working", memory.Working, nil,
		memory.WithPayload(memory.Reflection{Topic: "tea"}))
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, memory.Query{Text: "alice likes tea", Limit: 10, Type: memory.Semantic})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice likes tea", got[0].Content)

	got, err = m.Retrieve(ctx, memory.Query{Text: "tea", Limit: 10, Type: memory.Episodic})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "we talked about tea", got[0].Content)

	got, err = m.Retrieve(ctx, memory.Query{Text: "tea", Limit: 10, Type: memory.Working})
	require.NoError(t, err)
	require.Len(t, got, 1, "an explicit type wins over the payload default")
}

func TestManager_StoreRejectsInvalidType(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Store(context.Background(), "x", memory.MemoryType("procedural"), nil)
	assert.ErrorIs(t, err, memory.ErrInvalidMemoryType)
}

func TestManager_WithIDUpserts(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.Store(ctx, "v1", memory.Working, nil, memory.WithID("scratch"))
	require.NoError(t, err)
	id, err := m.Store(ctx, "v2", memory.Working, nil, memory.WithID("scratch"))
	require.NoError(t, err)
	assert.Equal(t, "scratch", id)

	got, err := m.Retrieve(ctx, memory.Query{Text: "v2", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Content)
}

func TestManager_StoreFact(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	id, err := m.StoreFact(ctx, memory.Fact{Subject: "Alice", Predicate: "lives in", Object: "Lisbon"}, nil)
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, memory.Query{Text: "Alice lives in Lisbon", Limit: 1, Type: memory.Semantic})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "Alice lives in Lisbon", got[0].Content)

	fact, ok := got[0].Payload.(memory.Fact)
	require.True(t, ok)
	assert.Equal(t, 1.0, fact.Confidence)

	_, err = m.StoreFact(ctx, memory.Fact{Subject: "Alice"}, nil)
	assert.Error(t, err)
}

func TestManager_StoreReflection(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	_, err := m.StoreReflection(ctx, "User asks about fees on Mondays",
		memory.Reflection{Topic: "fees", RelatedIDs: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, memory.Query{Text: "User asks about fees on Mondays", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, memory.Reflection{Topic: "fees", RelatedIDs: []string{"a", "b"}}, got[0].Payload)

	_, err = m.StoreReflection(ctx, "no topic", memory.Reflection{}, nil)
	assert.Error(t, err)
}

func TestManager_UpdateDeleteClear(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	id, err := m.Store(ctx, "draft", memory.Working, map[string]any{"a": "1"})
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, id, memory.Update{Metadata: map[string]any{"b": "2"}}))
	got, err := m.Retrieve(ctx, memory.Query{Text: "draft", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, got[0].Metadata)

	assert.ErrorIs(t, m.Update(ctx, "missing", memory.Update{}), memory.ErrNotFound)

	require.NoError(t, m.Delete(ctx, id))
	got, err = m.Retrieve(ctx, memory.Query{Text: "draft", Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, m.Clear(ctx, "bogus"), memory.ErrInvalidMemoryType)
	assert.NoError(t, m.Clear(ctx, ""))
}

type closingEmbedder struct {
	*mock.Embedder
	closed int
}

func (c *closingEmbedder) Close() error {
	c.closed++
	return errors.New("embedder close failed")
}

// embeddedStore lets test stubs embed memory.Store without the embedded
// field name colliding with the Store method.
type embeddedStore = memory.Store

type stubStore struct {
	embeddedStore
	closed int
}

func (s *stubStore) Close() error {
	s.closed++
	return nil
}

func TestManager_CloseClosesEmbedder(t *testing.T) {
	e := &closingEmbedder{Embedder: mock.New(8)}
	s := &stubStore{}
	m := memory.NewManager(s, e)

	err := m.Close()
	assert.EqualError(t, err, "embedder close failed")
	assert.Equal(t, 1, s.closed)
	assert.Equal(t, 1, e.closed)
	assert.Same(t, memory.Embedder(e), m.Embedder())
}
