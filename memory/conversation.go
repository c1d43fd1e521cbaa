package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/becomeliminal/nim-memory/core"
)

// Roles stored on conversation turn payloads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Exchange is one user/assistant turn pair of a conversation.
type Exchange struct {
	ConversationID string
	User           string
	Assistant      string

	// MessageIndex is the index of the user turn. The assistant turn is
	// stored at MessageIndex+1.
	MessageIndex int

	ToolCalls []core.ToolCall

	// Timestamp defaults to now.
	Timestamp time.Time
}

// StoreConversation stores a user message and the assistant response as two
// episodic records tagged with the conversation ID.
func StoreConversation(ctx context.Context, m *Manager, user, assistant, conversationID string, toolCalls []core.ToolCall) (userID, assistantID string, err error) {
	return StoreExchange(ctx, m, Exchange{
		ConversationID: conversationID,
		User:           user,
		Assistant:      assistant,
		ToolCalls:      toolCalls,
	})
}

// StoreExchange stores both turns of an exchange. The two writes are
// independent: a failure of one does not undo or prevent the other, and the
// returned error joins both failures.
func StoreExchange(ctx context.Context, m *Manager, ex Exchange) (userID, assistantID string, err error) {
	ts := ex.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	names := make([]string, 0, len(ex.ToolCalls))
	for _, tc := range ex.ToolCalls {
		name := tc.Name
		if name == "" {
			name = "unknown"
		}
		names = append(names, name)
	}

	userID, userErr := m.Store(ctx, ex.User, Episodic, turnMetadata(ex.User, ex.ConversationID, ts),
		WithPayload(ConversationTurn{
			Role:           RoleUser,
			ConversationID: ex.ConversationID,
			MessageIndex:   ex.MessageIndex,
		}))
	if userErr != nil {
		userErr = fmt.Errorf("store user turn: %w", userErr)
	}

	assistantID, assistantErr := m.Store(ctx, ex.Assistant, Episodic, turnMetadata(ex.Assistant, ex.ConversationID, ts),
		WithPayload(ConversationTurn{
			Role:           RoleAssistant,
			ConversationID: ex.ConversationID,
			MessageIndex:   ex.MessageIndex + 1,
			ToolCalls:      names,
		}))
	if assistantErr != nil {
		assistantErr = fmt.Errorf("store assistant turn: %w", assistantErr)
	}

	return userID, assistantID, errors.Join(userErr, assistantErr)
}

func turnMetadata(content, conversationID string, ts time.Time) map[string]any {
	md := ExtractKeyInformation(content)
	md["conversation_id"] = conversationID
	md["timestamp"] = ts.Format(time.RFC3339)
	return md
}

// RetrieveRelevantContext fetches up to limit episodic memories and, when
// includeSemantic is set, up to limit/2 semantic ones, then formats the
// newest limit of the combined set. Records are ordered by creation time,
// not similarity, once both pools are merged.
func RetrieveRelevantContext(ctx context.Context, m *Manager, query string, limit int, includeSemantic bool) (string, error) {
	if limit <= 0 {
		return NoMemoriesFound, nil
	}

	records, err := m.Retrieve(ctx, Query{Text: query, Limit: limit, Type: Episodic})
	if err != nil {
		return "", fmt.Errorf("retrieve episodic memories: %w", err)
	}

	if semanticLimit := limit / 2; includeSemantic && semanticLimit > 0 {
		semantic, err := m.Retrieve(ctx, Query{Text: query, Limit: semanticLimit, Type: Semantic})
		if err != nil {
			return "", fmt.Errorf("retrieve semantic memories: %w", err)
		}
		records = append(records, semantic...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}

	return FormatMemoriesAsContext(records, query), nil
}
