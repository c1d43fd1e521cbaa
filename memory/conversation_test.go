package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/core"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

func TestStoreConversation(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	userID, assistantID, err := memory.StoreConversation(ctx, m, "hello", "hi there", "c1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, userID)
	require.NotEmpty(t, assistantID)

	got, err := m.Retrieve(ctx, memory.Query{
		Text:           "hello",
		Limit:          10,
		MetadataFilter: map[string]any{"conversation_id": "c1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	roles := map[string]string{}
	var timestamps []any
	for _, r := range got {
		assert.Equal(t, memory.Episodic, r.Type)
		assert.Equal(t, "c1", r.Metadata["conversation_id"])
		timestamps = append(timestamps, r.Metadata["timestamp"])

		turn, ok := r.Payload.(memory.ConversationTurn)
		require.True(t, ok)
		assert.Equal(t, "c1", turn.ConversationID)
		roles[r.Content] = turn.Role
	}
	assert.Equal(t, map[string]string{"hello": "user", "hi there": "assistant"}, roles)
	assert.Equal(t, timestamps[0], timestamps[1], "both turns share one timestamp")
}

func TestStoreExchange_ToolCallsAndAnnotations(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	_, assistantID, err := memory.StoreExchange(ctx, m, memory.Exchange{
		ConversationID: "c2",
		User:           "Send the invoice to Maria Lopez before 01/15/2025",
		Assistant:      "Invoice scheduled for delivery",
		MessageIndex:   4,
		ToolCalls:      []core.ToolCall{{Name: "send_invoice"}, {}},
		Timestamp:      ts,
	})
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, memory.Query{Text: "Send the invoice to Maria Lopez before 01/15/2025", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, r := range got {
		turn := r.Payload.(memory.ConversationTurn)
		switch turn.Role {
		case memory.RoleUser:
			assert.Equal(t, 4, turn.MessageIndex)
			assert.Empty(t, turn.ToolCalls)
			assert.Equal(t, []any{"01/15/2025"}, r.Metadata["dates"])
			assert.Equal(t, []any{"Maria Lopez"}, r.Metadata["entities"])
			assert.Equal(t, "2025-01-02T03:04:05Z", r.Metadata["timestamp"])
		case memory.RoleAssistant:
			assert.Equal(t, assistantID, r.ID)
			assert.Equal(t, 5, turn.MessageIndex)
			assert.Equal(t, []string{"send_invoice", "unknown"}, turn.ToolCalls)
		default:
			t.Fatalf("unexpected role %q", turn.Role)
		}
	}
}

// flakyStore fails every store whose content matches failOn.
type flakyStore struct {
	embeddedStore
	failOn string
	stored []string
}

func (s *flakyStore) Store(_ context.Context, rec *memory.Record) (string, error) {
	if rec.Content == s.failOn {
		return "", errors.New("disk full")
	}
	s.stored = append(s.stored, rec.Content)
	return "id-" + rec.Content, nil
}

func TestStoreExchange_WritesAreIndependent(t *testing.T) {
	s := &flakyStore{failOn: "question"}
	m := memory.NewManager(s, mock.New(8))

	userID, assistantID, err := memory.StoreConversation(context.Background(), m, "question", "answer", "c3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store user turn")
	assert.Empty(t, userID)
	assert.Equal(t, "id-answer", assistantID)
	assert.Equal(t, []string{"answer"}, s.stored)
}

func TestRetrieveRelevantContext(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"older episode", "newer episode"} {
		rec := memory.NewRecord(content, memory.Episodic, nil)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		rec.UpdatedAt = rec.CreatedAt
		_, err := storeAt(ctx, m, rec)
		require.NoError(t, err)
	}
	fact := memory.NewRecord("a semantic fact", memory.Semantic, nil)
	fact.CreatedAt = base.Add(30 * time.Minute)
	fact.UpdatedAt = fact.CreatedAt
	_, err := storeAt(ctx, m, fact)
	require.NoError(t, err)

	got, err := memory.RetrieveRelevantContext(ctx, m, "episode", 4, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Relevant memories related to 'episode':"))

	// Newest first regardless of similarity.
	iFact := strings.Index(got, "a semantic fact")
	iNewer := strings.Index(got, "newer episode")
	iOlder := strings.Index(got, "older episode")
	require.True(t, iFact >= 0 && iNewer >= 0 && iOlder >= 0, got)
	assert.Less(t, iFact, iNewer)
	assert.Less(t, iNewer, iOlder)

	got, err = memory.RetrieveRelevantContext(ctx, m, "episode", 4, false)
	require.NoError(t, err)
	assert.NotContains(t, got, "a semantic fact")

	got, err = memory.RetrieveRelevantContext(ctx, m, "episode", 1, true)
	require.NoError(t, err)
	assert.Contains(t, got, "Memory #1")
	assert.NotContains(t, got, "Memory #2")
	assert.NotContains(t, got, "a semantic fact", "limit 1 leaves no room for semantic memories")
}

func TestRetrieveRelevantContext_Empty(t *testing.T) {
	m, _ := newManager(t)
	got, err := memory.RetrieveRelevantContext(context.Background(), m, "anything", 5, true)
	require.NoError(t, err)
	assert.Equal(t, memory.NoMemoriesFound, got)

	got, err = memory.RetrieveRelevantContext(context.Background(), m, "anything", 0, true)
	require.NoError(t, err)
	assert.Equal(t, memory.NoMemoriesFound, got)
}

// storeAt stores a prepared record through the manager while keeping its
// timestamps.
func storeAt(ctx context.Context, m *memory.Manager, rec *memory.Record) (string, error) {
	return m.Store(ctx, rec.Content, rec.Type, rec.Metadata, memory.WithID(rec.Content), memory.WithTimestamps(rec.CreatedAt, rec.UpdatedAt))
}
