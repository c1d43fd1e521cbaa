// Package chromem implements memory.Store on chromem-go, a pure Go embedded
// vector database with optional on-disk persistence.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "nerve_memory"

// Reserved document metadata keys. Caller metadata lives under metaPrefix.
const (
	keyMemoryType  = "_memory_type"
	keyCreatedAt   = "_created_at"
	keyUpdatedAt   = "_updated_at"
	keyPayloadKind = "_payload_kind"
	keyPayload     = "_payload"
	keyDegraded    = "_degraded"

	metaPrefix = "m."
)

// Config configures the store.
type Config struct {
	// Path is the persistence directory. Ignored unless Persist is set.
	Path           string
	CollectionName string
	Persist        bool
	Compress       bool
}

// Store keeps records as chromem documents. Safe for concurrent use.
type Store struct {
	cfg      Config
	embedder memory.Embedder
	logger   *log.Logger

	mu   sync.RWMutex
	db   *chromem.DB
	col  *chromem.Collection
	dims int
}

var _ memory.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store. Nothing is opened until Initialize.
func New(cfg Config, embedder memory.Embedder, opts ...Option) *Store {
	if cfg.CollectionName == "" {
		cfg.CollectionName = DefaultCollection
	}
	s := &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   log.Default().WithPrefix("store.chromem"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database and the collection.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col != nil {
		return nil
	}

	var db *chromem.DB
	if s.cfg.Persist {
		if s.cfg.Path == "" {
			return fmt.Errorf("%w: chroma.path is required when persist is enabled", memory.ErrConfiguration)
		}
		var err error
		db, err = chromem.NewPersistentDB(s.cfg.Path, s.cfg.Compress)
		if err != nil {
			return fmt.Errorf("%w: open persistent db: %v", memory.ErrBackend, err)
		}
	} else {
		db = chromem.NewDB()
	}

	dims := s.embedder.Dimensions(ctx)
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return memory.EmbedOne(ctx, s.embedder, text)
	}
	col, err := db.GetOrCreateCollection(s.cfg.CollectionName,
		map[string]string{"dimensions": strconv.Itoa(dims)},
		chromem.EmbeddingFunc(embed),
	)
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", memory.ErrBackend, err)
	}
	if err := checkDimensions(ctx, col, dims); err != nil {
		return err
	}

	s.db, s.col, s.dims = db, col, dims
	s.logger.Info("initialized", "collection", s.cfg.CollectionName, "persist", s.cfg.Persist,
		"documents", col.Count(), "dimensions", dims)
	return nil
}

func (s *Store) collection() (*chromem.Collection, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil {
		return nil, 0, memory.ErrNotInitialized
	}
	return s.col, s.dims, nil
}

// Store upserts rec.
func (s *Store) Store(ctx context.Context, rec *memory.Record) (string, error) {
	col, dims, err := s.collection()
	if err != nil {
		return "", err
	}
	if err := memory.PrepareRecord(ctx, rec, s.embedder, dims); err != nil {
		return "", err
	}
	if err := s.put(ctx, col, rec); err != nil {
		return "", err
	}
	s.logger.Debug("stored", "id", rec.ID, "type", rec.Type, "degraded", memory.IsZeroVector(rec.Embedding))
	return rec.ID, nil
}

func (s *Store) put(ctx context.Context, col *chromem.Collection, rec *memory.Record) error {
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", memory.ErrBackend, err)
	}
	return nil
}

// Retrieve ranks non-degraded documents by cosine similarity to the query.
// Query failures are logged and return an empty result.
func (s *Store) Retrieve(ctx context.Context, q memory.Query) ([]*memory.Record, error) {
	col, _, err := s.collection()
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return []*memory.Record{}, nil
	}

	count := col.Count()
	if count == 0 {
		return []*memory.Record{}, nil
	}

	vec, err := memory.EmbedOne(ctx, s.embedder, q.Text)
	if err != nil {
		return nil, err
	}
	if memory.IsZeroVector(vec) {
		s.logger.Warn("query embedding degraded, returning no results", "query", q.Text)
		return []*memory.Record{}, nil
	}

	where, err := whereClause(q)
	if err != nil {
		s.logger.Warn("unencodable metadata filter", "err", err)
		return []*memory.Record{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, min(q.Limit, count), where, nil)
	if err != nil {
		s.logger.Error("query failed", "err", err)
		return []*memory.Record{}, nil
	}

	records := make([]*memory.Record, 0, len(results))
	for _, r := range results {
		rec, err := fromDocument(r.ID, r.Content, r.Embedding, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable document", "id", r.ID, "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Update merges upd into an existing record.
func (s *Store) Update(ctx context.Context, id string, upd memory.Update) error {
	col, dims, err := s.collection()
	if err != nil {
		return err
	}
	rec, err := s.get(ctx, col, id)
	if err != nil {
		return err
	}
	if err := memory.ApplyUpdate(ctx, rec, upd, s.embedder); err != nil {
		return err
	}
	if len(rec.Embedding) != dims {
		return fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(rec.Embedding), dims)
	}
	return s.put(ctx, col, rec)
}

// Get returns a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	col, _, err := s.collection()
	if err != nil {
		return nil, err
	}
	return s.get(ctx, col, id)
}

func (s *Store) get(ctx context.Context, col *chromem.Collection, id string) (*memory.Record, error) {
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return fromDocument(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
}

// Delete removes a record. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	col, _, err := s.collection()
	if err != nil {
		return err
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("%w: delete document: %v", memory.ErrBackend, err)
	}
	return nil
}

// Clear removes all records, or all records of one type.
func (s *Store) Clear(ctx context.Context, memoryType memory.MemoryType) error {
	col, _, err := s.collection()
	if err != nil {
		return err
	}
	types := memory.MemoryTypes
	if memoryType != "" {
		types = []memory.MemoryType{memoryType}
	}
	for _, t := range types {
		if err := col.Delete(ctx, map[string]string{keyMemoryType: string(t)}, nil); err != nil {
			return fmt.Errorf("%w: clear %s: %v", memory.ErrBackend, t, err)
		}
	}
	s.logger.Info("cleared", "type", memoryType)
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	col, _, err := s.collection()
	if err != nil {
		return 0
	}
	return col.Count()
}

// Close drops the database handle. Persistent databases write through on
// every change, so nothing is flushed here.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db, s.col = nil, nil
	return nil
}

func whereClause(q memory.Query) (map[string]string, error) {
	where := map[string]string{keyDegraded: "false"}
	if q.Type != "" {
		where[keyMemoryType] = string(q.Type)
	}
	for k, v := range q.MetadataFilter {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		where[metaPrefix+k] = string(enc)
	}
	return where, nil
}

func toDocument(rec *memory.Record) (chromem.Document, error) {
	md := map[string]string{
		keyMemoryType: string(rec.Type),
		keyCreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		keyUpdatedAt:  rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		keyDegraded:   "false",
	}
	for k, v := range rec.Metadata {
		enc, err := json.Marshal(v)
		if err != nil {
			return chromem.Document{}, fmt.Errorf("encode metadata %q: %w", k, err)
		}
		md[metaPrefix+k] = string(enc)
	}
	if rec.Payload != nil {
		kind, body, err := memory.EncodePayload(rec.Payload)
		if err != nil {
			return chromem.Document{}, err
		}
		md[keyPayloadKind] = string(kind)
		md[keyPayload] = string(body)
	}

	embedding := rec.Embedding
	if memory.IsZeroVector(embedding) {
		// chromem normalises on insert, which a zero vector cannot survive.
		// Degraded records keep a placeholder and are filtered out of queries.
		md[keyDegraded] = "true"
		embedding = placeholder(len(embedding))
	}

	return chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: embedding,
		Metadata:  md,
	}, nil
}

func fromDocument(id, content string, embedding []float32, md map[string]string) (*memory.Record, error) {
	rec := &memory.Record{
		ID:       id,
		Content:  content,
		Type:     memory.MemoryType(md[keyMemoryType]),
		Metadata: map[string]any{},
	}
	if md[keyDegraded] == "true" {
		rec.Embedding = make([]float32, len(embedding))
	} else {
		rec.Embedding = embedding
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, md[keyCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, md[keyUpdatedAt]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	for k, v := range md {
		key, ok := strings.CutPrefix(k, metaPrefix)
		if !ok {
			continue
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		rec.Metadata[key] = val
	}

	if kind := md[keyPayloadKind]; kind != "" {
		p, err := memory.DecodePayload(memory.PayloadKind(kind), []byte(md[keyPayload]))
		if err != nil {
			return nil, err
		}
		rec.Payload = p
	}
	return rec, nil
}

// checkDimensions rejects a reopened collection whose vectors have a length
// other than dims. chromem keeps the creation metadata private, so the
// stored length is read back from one document.
func checkDimensions(ctx context.Context, col *chromem.Collection, dims int) error {
	if col.Count() == 0 {
		return nil
	}
	res, err := col.QueryEmbedding(ctx, placeholder(dims), 1, nil, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: collection %q holds vectors of another dimension than the embedder's %d: %v",
			memory.ErrConfiguration, col.Name, dims, err)
	}
	if len(res) > 0 && len(res[0].Embedding) != dims {
		return fmt.Errorf("%w: collection %q has dimension %d, embedder has %d",
			memory.ErrConfiguration, col.Name, len(res[0].Embedding), dims)
	}
	return nil
}

func placeholder(dims int) []float32 {
	v := make([]float32, dims)
	if dims > 0 {
		v[0] = 1
	}
	return v
}
