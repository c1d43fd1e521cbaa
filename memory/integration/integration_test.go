package integration_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/integration"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
)

func testConfig() memory.Config {
	cfg := memory.DefaultConfig()
	cfg.Persist = false
	return cfg
}

func mockFactory(e *mock.Embedder) integration.Factory {
	return func(_ context.Context, _ memory.Config, _ *log.Logger) (*memory.Manager, error) {
		return memory.NewManager(chromem.New(chromem.Config{}, e), e), nil
	}
}

func newIntegration(t *testing.T, cfg memory.Config) (*integration.Integration, *mock.Embedder) {
	t.Helper()
	e := mock.New(32)
	in := integration.New(cfg, integration.WithFactory(mockFactory(e)))
	require.NoError(t, in.Initialize(context.Background()))
	t.Cleanup(func() { _ = in.Close() })
	return in, e
}

func TestNew_GeneratesConversationID(t *testing.T) {
	a := integration.New(testConfig())
	b := integration.New(testConfig())
	assert.NotEmpty(t, a.ConversationID())
	assert.NotEqual(t, a.ConversationID(), b.ConversationID())

	c := integration.New(testConfig(), integration.WithConversationID("fixed"))
	assert.Equal(t, "fixed", c.ConversationID())
}

func TestInitialize_FailureDisables(t *testing.T) {
	failing := func(context.Context, memory.Config, *log.Logger) (*memory.Manager, error) {
		return nil, errors.New("backend unreachable")
	}
	in := integration.New(testConfig(), integration.WithFactory(failing))

	require.NoError(t, in.Initialize(context.Background()))
	assert.False(t, in.Enabled())
	assert.Nil(t, in.Manager())
	assert.Empty(t, in.BeforeStep(context.Background(), "", "anything"))

	in.AfterStep(context.Background(), "u", "a", nil)
	assert.Zero(t, in.MessageCount())
	assert.NoError(t, in.Close())
}

func TestInitialize_StoreFailureDisables(t *testing.T) {
	cfg := testConfig()
	factory := func(context.Context, memory.Config, *log.Logger) (*memory.Manager, error) {
		e := mock.New(32)
		// persist without a path cannot initialise
		return memory.NewManager(chromem.New(chromem.Config{Persist: true}, e), e), nil
	}
	in := integration.New(cfg, integration.WithFactory(factory))
	require.NoError(t, in.Initialize(context.Background()))
	assert.False(t, in.Enabled())
}

func TestDisabledConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	called := false
	factory := func(context.Context, memory.Config, *log.Logger) (*memory.Manager, error) {
		called = true
		return nil, nil
	}
	in := integration.New(cfg, integration.WithFactory(factory))
	require.NoError(t, in.Initialize(context.Background()))
	assert.False(t, called)
	assert.False(t, in.Enabled())
	assert.Equal(t, core.Knowledge{}, in.BeforeStep(context.Background(), "", "q"))
}

func TestBeforeStep_EmptyStore(t *testing.T) {
	in, _ := newIntegration(t, testConfig())
	assert.Equal(t, core.Knowledge{}, in.BeforeStep(context.Background(), "system", "what did we discuss"))
}

func TestAfterStepThenBeforeStep(t *testing.T) {
	ctx := context.Background()
	in, _ := newIntegration(t, testConfig())

	in.AfterStep(ctx, "My favourite colour is teal", "Noted, teal it is", []core.ToolCall{{Name: "store_memory"}})
	assert.Equal(t, 2, in.MessageCount())

	in.AfterStep(ctx, "And my cat is called Miso", "Lovely name", nil)
	assert.Equal(t, 4, in.MessageCount())

	records, err := in.Manager().Retrieve(ctx, memory.Query{
		Text:           "colour",
		Limit:          10,
		MetadataFilter: map[string]any{"conversation_id": in.ConversationID()},
	})
	require.NoError(t, err)
	require.Len(t, records, 4)

	indices := map[int]bool{}
	for _, r := range records {
		turn, ok := r.Payload.(memory.ConversationTurn)
		require.True(t, ok)
		indices[turn.MessageIndex] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, indices)

	knowledge := in.BeforeStep(ctx, "system", "favourite colour")
	text, ok := knowledge[core.MemoryContextKey]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text, "Relevant memories related to 'favourite colour':"))
	assert.Contains(t, text, "Memory #1 (episodic)")
}

func TestAutoFlagsOff(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AutoRetrieve = false
	cfg.AutoStoreConversations = false
	in, _ := newIntegration(t, cfg)

	in.AfterStep(ctx, "u", "a", nil)
	assert.Zero(t, in.MessageCount())

	_, err := in.Manager().Store(ctx, "manually stored", memory.Episodic, nil)
	require.NoError(t, err)
	assert.Empty(t, in.BeforeStep(ctx, "", "manually"))
}

func TestAfterStep_SwallowsFailures(t *testing.T) {
	ctx := context.Background()
	in, _ := newIntegration(t, testConfig())
	m := in.Manager()
	require.NoError(t, m.Close())

	assert.NotPanics(t, func() { in.AfterStep(ctx, "u", "a", nil) })
	assert.Equal(t, 2, in.MessageCount())
	assert.Empty(t, in.BeforeStep(ctx, "", "u"))
}

func TestSharedManagerNotClosed(t *testing.T) {
	ctx := context.Background()
	e := mock.New(32)
	shared := memory.NewManager(chromem.New(chromem.Config{}, e), e)
	require.NoError(t, shared.Initialize(ctx))

	in := integration.New(testConfig(), integration.WithManager(shared))
	require.NoError(t, in.Initialize(ctx))
	assert.Same(t, shared, in.Manager())

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())

	_, err := shared.Store(ctx, "still usable", memory.Semantic, nil)
	assert.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	in, _ := newIntegration(t, testConfig())
	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Nil(t, in.Manager())
	assert.Empty(t, in.BeforeStep(context.Background(), "", "q"))
}
