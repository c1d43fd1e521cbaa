// Package storetest provides the compliance suite every memory.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

// Dimensions is the embedding size used by the suite.
const Dimensions = 32

// Factory returns a fresh, uninitialised store backed by e. Each call must
// yield an empty store.
type Factory func(t *testing.T, e memory.Embedder) memory.Store

// Run runs the compliance suite. Each subtest gets its own store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	open := func(t *testing.T) (memory.Store, *mock.Embedder) {
		t.Helper()
		e := mock.New(Dimensions)
		s := newStore(t, e)
		require.NoError(t, s.Initialize(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		return s, e
	}

	t.Run("NotInitialized", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, mock.New(Dimensions))
		t.Cleanup(func() { _ = s.Close() })

		_, err := s.Store(ctx, memory.NewRecord("x", memory.Episodic, nil))
		assert.ErrorIs(t, err, memory.ErrNotInitialized)
		_, err = s.Retrieve(ctx, memory.Query{Text: "x", Limit: 1})
		assert.ErrorIs(t, err, memory.ErrNotInitialized)
		assert.ErrorIs(t, s.Update(ctx, "id", memory.Update{}), memory.ErrNotInitialized)
		assert.ErrorIs(t, s.Delete(ctx, "id"), memory.ErrNotInitialized)
		assert.ErrorIs(t, s.Clear(ctx, ""), memory.ErrNotInitialized)
	})

	t.Run("InitializeIsIdempotent", func(t *testing.T) {
		s, _ := open(t)
		require.NoError(t, s.Initialize(context.Background()))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		md := map[string]any{"source": "unit", "score": 1.5, "pinned": true}
		rec := memory.NewRecord("the deploy finished at noon", memory.Semantic, md)
		id, err := s.Store(ctx, rec)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Equal(t, id, rec.ID)
		assert.Len(t, rec.Embedding, Dimensions)

		got, err := s.Retrieve(ctx, memory.Query{Text: rec.Content, Limit: 5})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].ID)
		assert.Equal(t, rec.Content, got[0].Content)
		assert.Equal(t, memory.Semantic, got[0].Type)
		assert.Equal(t, md, got[0].Metadata)
		assert.WithinDuration(t, rec.CreatedAt, got[0].CreatedAt, time.Millisecond)
		assert.Nil(t, got[0].Payload)
	})

	t.Run("PayloadRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		fact := memory.Fact{Subject: "Ada", Predicate: "wrote", Object: "notes", Confidence: 0.9, Source: "book"}
		rec := memory.NewRecord(fact.Content(), memory.Semantic, nil)
		rec.Payload = fact
		_, err := s.Store(ctx, rec)
		require.NoError(t, err)

		turn := memory.ConversationTurn{Role: "user", ConversationID: "c1", MessageIndex: 3, ToolCalls: []string{"search"}}
		rec2 := memory.NewRecord("hello there", memory.Episodic, nil)
		rec2.Payload = turn
		_, err = s.Store(ctx, rec2)
		require.NoError(t, err)

		got, err := s.Retrieve(ctx, memory.Query{Text: fact.Content(), Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, fact, got[0].Payload)

		got, err = s.Retrieve(ctx, memory.Query{Text: "hello there", Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, turn, got[0].Payload)
	})

	t.Run("UpsertByID", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		first := memory.NewRecord("first version", memory.Episodic, nil)
		first.ID = "fixed-id"
		_, err := s.Store(ctx, first)
		require.NoError(t, err)

		second := memory.NewRecord("second version", memory.Episodic, nil)
		second.ID = "fixed-id"
		_, err = s.Store(ctx, second)
		require.NoError(t, err)

		got, err := s.Retrieve(ctx, memory.Query{Text: "second version", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "fixed-id", got[0].ID)
		assert.Equal(t, "second version", got[0].Content)
	})

	t.Run("DimensionInvariant", func(t *testing.T) {
		ctx := context.Background()
		s, e := open(t)
		seed(t, s, 6)

		got, err := s.Retrieve(ctx, memory.Query{Text: "memory 1", Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		for _, r := range got {
			assert.Len(t, r.Embedding, e.Dimensions(ctx))
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		s, _ := open(t)
		rec := memory.NewRecord("short", memory.Episodic, nil)
		rec.Embedding = []float32{1, 0, 0}
		_, err := s.Store(context.Background(), rec)
		assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
	})

	t.Run("RankedBySimilarity", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		seed(t, s, 5)

		got, err := s.Retrieve(ctx, memory.Query{Text: "memory 3", Limit: 5})
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, "memory 3", got[0].Content)

		q := mock.Vector("memory 3", Dimensions)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t,
				memory.CosineSimilarity(q, got[i-1].Embedding)+1e-6,
				memory.CosineSimilarity(q, got[i].Embedding))
		}
	})

	t.Run("LimitBound", func(t *testing.T) {
		ctx := context.Background()
		s, e := open(t)
		seed(t, s, 4)

		calls := e.Calls()
		got, err := s.Retrieve(ctx, memory.Query{Text: "memory", Limit: 0})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, calls, e.Calls(), "limit 0 must not embed the query")

		for limit := 1; limit <= 6; limit++ {
			got, err := s.Retrieve(ctx, memory.Query{Text: "memory", Limit: limit})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), limit)
			assert.Len(t, got, min(limit, 4))
		}
	})

	t.Run("TypeFilter", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		storeTyped(t, s)

		got, err := s.Retrieve(ctx, memory.Query{Text: "note", Limit: 10, Type: memory.Semantic})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, memory.Semantic, got[0].Type)
	})

	t.Run("MetadataFilterAND", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		_, err := s.Store(ctx, memory.NewRecord("first", memory.Episodic, map[string]any{"a": 1, "b": 1}))
		require.NoError(t, err)
		_, err = s.Store(ctx, memory.NewRecord("second", memory.Episodic, map[string]any{"a": 1, "b": 2}))
		require.NoError(t, err)
		_, err = s.Store(ctx, memory.NewRecord("third", memory.Episodic, map[string]any{"b": 1}))
		require.NoError(t, err)

		got, err := s.Retrieve(ctx, memory.Query{Text: "anything", Limit: 10,
			MetadataFilter: map[string]any{"a": 1, "b": 1}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "first", got[0].Content)

		got, err = s.Retrieve(ctx, memory.Query{Text: "anything", Limit: 10,
			MetadataFilter: map[string]any{"a": 1}})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.Retrieve(ctx, memory.Query{Text: "anything", Limit: 10,
			MetadataFilter: map[string]any{"missing": "x"}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("MetadataFilterStructured", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		_, err := s.Store(ctx, memory.NewRecord("tagged", memory.Episodic, map[string]any{
			"tags":  map[string]any{"kind": "note", "rank": 2},
			"list":  []any{"x", "y"},
			"flag":  true,
			"score": 1.5,
		}))
		require.NoError(t, err)
		_, err = s.Store(ctx, memory.NewRecord("other", memory.Episodic, map[string]any{
			"tags": map[string]any{"kind": "note", "rank": 3},
		}))
		require.NoError(t, err)

		for name, filter := range map[string]map[string]any{
			"object": {"tags": map[string]any{"rank": 2, "kind": "note"}},
			"array":  {"list": []any{"x", "y"}},
			"bool":   {"flag": true},
			"number": {"score": 1.5},
		} {
			got, err := s.Retrieve(ctx, memory.Query{Text: "anything", Limit: 10, MetadataFilter: filter})
			require.NoError(t, err, name)
			require.Len(t, got, 1, name)
			assert.Equal(t, "tagged", got[0].Content, name)
		}
	})

	t.Run("FilteredLimitOnLargeStore", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		for i := range 300 {
			memType := memory.Episodic
			if i%6 == 0 {
				memType = memory.Semantic
			}
			_, err := s.Store(ctx, memory.NewRecord(fmt.Sprintf("record number %d", i), memType,
				map[string]any{"group": i % 10}))
			require.NoError(t, err)
		}

		got, err := s.Retrieve(ctx, memory.Query{Text: "record number 7", Limit: 20, Type: memory.Semantic})
		require.NoError(t, err)
		require.Len(t, got, 20)
		for _, rec := range got {
			assert.Equal(t, memory.Semantic, rec.Type)
		}

		got, err = s.Retrieve(ctx, memory.Query{Text: "record number 7", Limit: 100,
			MetadataFilter: map[string]any{"group": 7}})
		require.NoError(t, err)
		assert.Len(t, got, 30)

		got, err = s.Retrieve(ctx, memory.Query{Text: "record number 7", Limit: 100,
			Type: memory.Semantic, MetadataFilter: map[string]any{"group": 6}})
		require.NoError(t, err)
		assert.Len(t, got, 10)
	})

	t.Run("Update", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		rec := memory.NewRecord("original content", memory.Episodic, map[string]any{"keep": "yes", "change": "old"})
		rec.CreatedAt = time.Now().UTC().Add(-time.Hour)
		rec.UpdatedAt = rec.CreatedAt
		id, err := s.Store(ctx, rec)
		require.NoError(t, err)

		content := "rewritten content"
		require.NoError(t, s.Update(ctx, id, memory.Update{
			Content:  &content,
			Metadata: map[string]any{"change": "new", "added": true},
		}))

		got, err := s.Retrieve(ctx, memory.Query{Text: content, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].ID)
		assert.Equal(t, content, got[0].Content)
		assert.Equal(t, map[string]any{"keep": "yes", "change": "new", "added": true}, got[0].Metadata)
		assert.InDelta(t, 1.0, memory.CosineSimilarity(mock.Vector(content, Dimensions), got[0].Embedding), 1e-4)
		assert.True(t, got[0].UpdatedAt.After(got[0].CreatedAt))
		assert.WithinDuration(t, rec.CreatedAt, got[0].CreatedAt, time.Millisecond)

		require.NoError(t, s.Update(ctx, id, memory.Update{Metadata: map[string]any{"only": "meta"}}))
		got, err = s.Retrieve(ctx, memory.Query{Text: content, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, content, got[0].Content)
		assert.Equal(t, "meta", got[0].Metadata["only"])
		assert.Equal(t, "yes", got[0].Metadata["keep"])
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		s, _ := open(t)
		content := "x"
		err := s.Update(context.Background(), "does-not-exist", memory.Update{Content: &content})
		assert.ErrorIs(t, err, memory.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		id, err := s.Store(ctx, memory.NewRecord("to be removed", memory.Episodic, nil))
		require.NoError(t, err)
		_, err = s.Store(ctx, memory.NewRecord("to be kept", memory.Episodic, nil))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		got, err := s.Retrieve(ctx, memory.Query{Text: "to be removed", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "to be kept", got[0].Content)

		assert.NoError(t, s.Delete(ctx, id), "deleting twice is a no-op")
		assert.NoError(t, s.Delete(ctx, "never-existed"))
	})

	t.Run("ClearByType", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		storeTyped(t, s)

		require.NoError(t, s.Clear(ctx, memory.Episodic))
		got, err := s.Retrieve(ctx, memory.Query{Text: "note", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			assert.NotEqual(t, memory.Episodic, r.Type)
		}
	})

	t.Run("ClearAll", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)
		storeTyped(t, s)

		require.NoError(t, s.Clear(ctx, ""))
		got, err := s.Retrieve(ctx, memory.Query{Text: "note", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DegradedEmbeddings", func(t *testing.T) {
		ctx := context.Background()
		s, e := open(t)

		_, err := s.Store(ctx, memory.NewRecord("healthy record", memory.Episodic, nil))
		require.NoError(t, err)

		e.SetFailing(true)
		rec := memory.NewRecord("degraded record", memory.Episodic, nil)
		_, err = s.Store(ctx, rec)
		require.NoError(t, err, "degraded records are still persisted")
		assert.True(t, memory.IsZeroVector(rec.Embedding))

		got, err := s.Retrieve(ctx, memory.Query{Text: "healthy record", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, got, "a degraded query embedding yields no results")

		e.SetFailing(false)
		got, err = s.Retrieve(ctx, memory.Query{Text: "degraded record", Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "healthy record", got[0].Content)

		// Re-embedding through an update restores ranking.
		content := "degraded record"
		require.NoError(t, s.Update(ctx, rec.ID, memory.Update{Content: &content}))
		got, err = s.Retrieve(ctx, memory.Query{Text: content, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, rec.ID, got[0].ID)
	})

	t.Run("ConcurrentStores", func(t *testing.T) {
		ctx := context.Background()
		s, _ := open(t)

		g, gctx := errgroup.WithContext(ctx)
		for i := range 8 {
			g.Go(func() error {
				_, err := s.Store(gctx, memory.NewRecord(fmt.Sprintf("concurrent %d", i), memory.Working, nil))
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.Retrieve(ctx, memory.Query{Text: "concurrent", Limit: 20, Type: memory.Working})
		require.NoError(t, err)
		assert.Len(t, got, 8)
	})

	t.Run("Close", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, mock.New(Dimensions))
		require.NoError(t, s.Initialize(ctx))
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.Retrieve(ctx, memory.Query{Text: "x", Limit: 1})
		assert.ErrorIs(t, err, memory.ErrNotInitialized)
	})
}

func seed(t *testing.T, s memory.Store, n int) {
	t.Helper()
	for i := range n {
		_, err := s.Store(context.Background(), memory.NewRecord(fmt.Sprintf("memory %d", i), memory.Episodic, nil))
		require.NoError(t, err)
	}
}

func storeTyped(t *testing.T, s memory.Store) {
	t.Helper()
	for _, typ := range memory.MemoryTypes {
		_, err := s.Store(context.Background(), memory.NewRecord(string(typ)+" note", typ, nil))
		require.NoError(t, err)
	}
}
