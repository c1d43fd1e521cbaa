package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

func TestCache_ServesRepeatedTexts(t *testing.T) {
	ctx := context.Background()
	inner := mock.New(8)
	e, err := cache.New(inner, 100)
	require.NoError(t, err)
	defer e.Close()

	first, err := e.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	e.Wait()
	assert.Equal(t, int64(1), inner.Calls())

	second, err := e.Embed(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.Calls(), "fully cached batch skips the backend")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[1])

	mixed, err := e.Embed(ctx, []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.Calls())
	assert.Equal(t, first[0], mixed[0])
	assert.Equal(t, mock.Vector("c", 8), mixed[1])

	assert.Equal(t, 8, e.Dimensions(ctx))
	assert.Same(t, inner, e.Unwrap())
}

func TestCache_CallerMutationDoesNotLeak(t *testing.T) {
	ctx := context.Background()
	inner := mock.New(8)
	e, err := cache.New(inner, 100)
	require.NoError(t, err)
	defer e.Close()

	first, err := e.Embed(ctx, []string{"a"})
	require.NoError(t, err)
	e.Wait()
	first[0][0] = 42

	second, err := e.Embed(ctx, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), inner.Calls())
	assert.Equal(t, mock.Vector("a", 8), second[0])

	second[0][1] = 42
	third, err := e.Embed(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, mock.Vector("a", 8), third[0])
}

func TestCache_DoesNotCacheDegradedVectors(t *testing.T) {
	ctx := context.Background()
	inner := mock.New(8)
	e, err := cache.New(inner, 100)
	require.NoError(t, err)
	defer e.Close()

	inner.SetFailing(true)
	got, err := e.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.True(t, memory.IsZeroVector(got[0]))
	e.Wait()

	inner.SetFailing(false)
	got, err = e.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.False(t, memory.IsZeroVector(got[0]))
	assert.Equal(t, int64(2), inner.Calls())
}

func TestCache_EmptyInput(t *testing.T) {
	inner := mock.New(8)
	e, err := cache.New(inner, 10)
	require.NoError(t, err)
	defer e.Close()

	got, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, inner.Calls())
}

func TestCache_InvalidSize(t *testing.T) {
	_, err := cache.New(mock.New(8), 0)
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}
