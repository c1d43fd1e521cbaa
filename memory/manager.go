package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Manager pairs one Store with one Embedder and gives callers a
// content-first API. It holds no state beyond the two collaborators.
//
// A Manager is driven sequentially by its owning agent; sharing one between
// sessions is safe only when the Store is safe for concurrent use (both
// bundled stores are).
type Manager struct {
	store    Store
	embedder Embedder
	logger   *log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger used for manager-level events.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager.
func NewManager(store Store, embedder Embedder, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		embedder: embedder,
		logger:   log.Default().WithPrefix("memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Embedder returns the embedding provider the manager was built with.
func (m *Manager) Embedder() Embedder {
	return m.embedder
}

// Initialize prepares the underlying store.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.store.Initialize(ctx)
}

// StoreOption customises a single Store call.
type StoreOption func(*Record)

// WithID pre-assigns the record ID so repeated stores upsert in place.
func WithID(id string) StoreOption {
	return func(r *Record) { r.ID = id }
}

// WithPayload attaches a typed payload to the record.
func WithPayload(p Payload) StoreOption {
	return func(r *Record) { r.Payload = p }
}

// WithTimestamps sets the creation and update times, for importing records
// that predate the store.
func WithTimestamps(created, updated time.Time) StoreOption {
	return func(r *Record) {
		r.CreatedAt = created.UTC()
		r.UpdatedAt = updated.UTC()
	}
}

// Store saves content as a new memory and returns its ID. The embedding is
// computed by the store. An empty memoryType picks the payload's default
// type, or episodic when there is no payload.
func (m *Manager) Store(ctx context.Context, content string, memoryType MemoryType, metadata map[string]any, opts ...StoreOption) (string, error) {
	if memoryType != "" && !memoryType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMemoryType, memoryType)
	}

	rec := NewRecord(content, memoryType, cloneMetadata(metadata))
	for _, opt := range opts {
		opt(rec)
	}
	if memoryType == "" {
		rec.Type = DefaultType(rec.Payload)
	}

	id, err := m.store.Store(ctx, rec)
	if err != nil {
		return "", err
	}
	m.logger.Debug("stored memory", "id", id, "type", rec.Type, "chars", len(content))
	return id, nil
}

// StoreFact saves a subject-predicate-object triple as a semantic memory.
func (m *Manager) StoreFact(ctx context.Context, fact Fact, metadata map[string]any) (string, error) {
	if strings.TrimSpace(fact.Subject) == "" || strings.TrimSpace(fact.Predicate) == "" || strings.TrimSpace(fact.Object) == "" {
		return "", errors.New("fact requires subject, predicate and object")
	}
	if fact.Confidence == 0 {
		fact.Confidence = 1.0
	}
	return m.Store(ctx, fact.Content(), "", metadata, WithPayload(fact))
}

// StoreReflection saves an insight about a topic as a semantic memory.
func (m *Manager) StoreReflection(ctx context.Context, content string, reflection Reflection, metadata map[string]any) (string, error) {
	if strings.TrimSpace(reflection.Topic) == "" {
		return "", errors.New("reflection requires a topic")
	}
	return m.Store(ctx, content, "", metadata, WithPayload(reflection))
}

// Retrieve returns the records most similar to the query.
func (m *Manager) Retrieve(ctx context.Context, q Query) ([]*Record, error) {
	records, err := m.store.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("retrieved memories", "count", len(records), "query", truncate(q.Text, 50), "type", q.Type)
	return records, nil
}

// Update changes content and/or metadata of an existing record.
func (m *Manager) Update(ctx context.Context, id string, upd Update) error {
	return m.store.Update(ctx, id, upd)
}

// Delete removes a record by ID.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Clear removes every record, or every record of memoryType when set.
func (m *Manager) Clear(ctx context.Context, memoryType MemoryType) error {
	if memoryType != "" && !memoryType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMemoryType, memoryType)
	}
	return m.store.Clear(ctx, memoryType)
}

// Close releases the store and, when it holds resources, the embedder.
func (m *Manager) Close() error {
	err := m.store.Close()
	if c, ok := m.embedder.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func cloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
