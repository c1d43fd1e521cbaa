package memory

import (
	"encoding/json"
	"fmt"
)

// PayloadKind identifies a payload variant in storage.
type PayloadKind string

const (
	PayloadConversationTurn PayloadKind = "conversation_turn"
	PayloadFact             PayloadKind = "fact"
	PayloadReflection       PayloadKind = "reflection"
)

// Payload is the typed part of a specialised record. The set of variants is
// closed: ConversationTurn, Fact and Reflection.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// ConversationTurn is one message of an agent conversation.
type ConversationTurn struct {
	Role           string   `json:"role"`
	ConversationID string   `json:"conversation_id"`
	MessageIndex   int      `json:"message_index"`
	ToolCalls      []string `json:"tool_calls,omitempty"`
}

// Fact is a subject-predicate-object triple.
type Fact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// Content renders the triple as record content.
func (f Fact) Content() string {
	return f.Subject + " " + f.Predicate + " " + f.Object
}

// Reflection is an insight about a topic derived from other memories.
type Reflection struct {
	Topic      string   `json:"topic"`
	RelatedIDs []string `json:"related_memory_ids,omitempty"`
}

func (ConversationTurn) Kind() PayloadKind { return PayloadConversationTurn }
func (Fact) Kind() PayloadKind             { return PayloadFact }
func (Reflection) Kind() PayloadKind       { return PayloadReflection }

func (ConversationTurn) isPayload() {}
func (Fact) isPayload()             {}
func (Reflection) isPayload()       {}

// DefaultType returns the memory type a payload is stored under when the
// caller does not choose one.
func DefaultType(p Payload) MemoryType {
	switch p.(type) {
	case Fact, *Fact, Reflection, *Reflection:
		return Semantic
	}
	return Episodic
}

// EncodePayload serialises a payload for storage. A nil payload encodes to an
// empty kind and nil data.
func EncodePayload(p Payload) (PayloadKind, []byte, error) {
	if p == nil {
		return "", nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), data, nil
}

// DecodePayload restores a payload written by EncodePayload.
func DecodePayload(kind PayloadKind, data []byte) (Payload, error) {
	if kind == "" || len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case PayloadConversationTurn:
		var p ConversationTurn
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		return p, nil
	case PayloadFact:
		var p Fact
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		return p, nil
	case PayloadReflection:
		var p Reflection
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown payload kind: %s", kind)
}
