// Package pgvector implements memory.Store on PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/becomeliminal/nim-memory/memory"
)

const (
	DefaultTable  = "nerve_memory"
	DefaultSchema = "public"

	// hnsw indexes support at most this many dimensions.
	maxIndexedDimensions = 2000

	// Bounds of hnsw.ef_search; pgvector rejects values above 1000.
	defaultSearchWidth = 40
	maxSearchWidth     = 1000
)

// Config configures the store.
type Config struct {
	// ConnectionString defaults to NIM_PGVECTOR_CONNECTION.
	ConnectionString string
	SchemaName       string
	TableName        string
	MaxConns         int32
}

// Store keeps records in one table. Safe for concurrent use; concurrent
// writers to a shared table rely on upsert by ID.
type Store struct {
	cfg      Config
	embedder memory.Embedder
	logger   *log.Logger

	mu    sync.RWMutex
	pool  *pgxpool.Pool
	dims  int
	table string
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

// New creates a store. No connection is made until Initialize.
func New(cfg Config, embedder memory.Embedder, opts ...Option) *Store {
	if cfg.ConnectionString == "" {
		cfg.ConnectionString = os.Getenv("NIM_PGVECTOR_CONNECTION")
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = DefaultSchema
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTable
	}
	s := &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   log.Default().WithPrefix("store.pgvector"),
		table:    pgx.Identifier{cfg.SchemaName, cfg.TableName}.Sanitize(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPool creates a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Initialize connects and provisions the extension, schema, table and
// indexes. An existing table with a different vector dimension is a
// configuration error.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return nil
	}
	if s.cfg.ConnectionString == "" {
		return fmt.Errorf("%w: pgvector connection string not set (config pgvector.connection_string or NIM_PGVECTOR_CONNECTION)", memory.ErrConfiguration)
	}

	pool, err := NewPool(ctx, s.cfg.ConnectionString, s.cfg.MaxConns)
	if err != nil {
		return fmt.Errorf("%w: %v", memory.ErrBackend, err)
	}

	dims := s.embedder.Dimensions(ctx)
	if err := s.provision(ctx, pool, dims); err != nil {
		pool.Close()
		return err
	}

	s.pool, s.dims = pool, dims
	s.logger.Info("initialized", "table", s.table, "dimensions", dims)
	return nil
}

func (s *Store) provision(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	schema := pgx.Identifier{s.cfg.SchemaName}.Sanitize()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			content      TEXT NOT NULL,
			metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding    vector(%d) NOT NULL,
			memory_type  TEXT NOT NULL,
			payload_kind TEXT,
			payload      JSONB,
			degraded     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		)`, s.table, dims),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: provision: %v", memory.ErrBackend, err)
		}
	}

	var existing int
	err := pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding'`, s.table).Scan(&existing)
	if err != nil {
		return fmt.Errorf("%w: inspect table: %v", memory.ErrBackend, err)
	}
	if existing > 0 && existing != dims {
		return fmt.Errorf("%w: table %s has vector(%d), embedder produces %d dimensions",
			memory.ErrConfiguration, s.table, existing, dims)
	}

	typeIdx := pgx.Identifier{s.cfg.TableName + "_memory_type_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (memory_type)`, typeIdx, s.table)); err != nil {
		return fmt.Errorf("%w: create type index: %v", memory.ErrBackend, err)
	}

	// Tables provisioned by earlier versions carry an ivfflat index trained on
	// an empty table, which loses rows under filtered queries.
	legacyIdx := pgx.Identifier{s.cfg.SchemaName, s.cfg.TableName + "_embedding_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, `DROP INDEX IF EXISTS `+legacyIdx); err != nil {
		return fmt.Errorf("%w: drop ivfflat index: %v", memory.ErrBackend, err)
	}

	if dims > maxIndexedDimensions {
		s.logger.Warn("dimension too large for hnsw, using sequential scan", "dimensions", dims)
		return nil
	}
	vecIdx := pgx.Identifier{s.cfg.TableName + "_embedding_hnsw_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
		vecIdx, s.table)); err != nil {
		return fmt.Errorf("%w: create vector index: %v", memory.ErrBackend, err)
	}
	return nil
}

// searchWidth is the hnsw candidate list size for a query returning limit rows.
func searchWidth(limit int) int {
	return min(max(limit*2, defaultSearchWidth), maxSearchWidth)
}

func (s *Store) conn() (*pgxpool.Pool, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil, 0, memory.ErrNotInitialized
	}
	return s.pool, s.dims, nil
}

// Store upserts rec.
func (s *Store) Store(ctx context.Context, rec *memory.Record) (string, error) {
	pool, dims, err := s.conn()
	if err != nil {
		return "", err
	}
	if err := memory.PrepareRecord(ctx, rec, s.embedder, dims); err != nil {
		return "", err
	}
	if err := s.upsert(ctx, pool, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Store) upsert(ctx context.Context, db dbtx, rec *memory.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding, memory_type, payload_kind, payload, degraded, created_at, updated_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content      = EXCLUDED.content,
			metadata     = EXCLUDED.metadata,
			embedding    = EXCLUDED.embedding,
			memory_type  = EXCLUDED.memory_type,
			payload_kind = EXCLUDED.payload_kind,
			payload      = EXCLUDED.payload,
			degraded     = EXCLUDED.degraded,
			updated_at   = EXCLUDED.updated_at`, s.table)

	if _, err := db.Exec(ctx, q,
		rec.ID, rec.Content, row.metadata, pgvector.NewVector(rec.Embedding), string(rec.Type),
		row.payloadKind, row.payload, memory.IsZeroVector(rec.Embedding), rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("%w: upsert: %v", memory.ErrBackend, err)
	}
	return nil
}

// Retrieve ranks non-degraded rows by cosine similarity. Query failures are
// logged and return an empty result.
func (s *Store) Retrieve(ctx context.Context, q memory.Query) ([]*memory.Record, error) {
	pool, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
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

	args := []any{pgvector.NewVector(vec)}
	conds := []string{"NOT degraded"}
	if q.Type != "" {
		args = append(args, string(q.Type))
		conds = append(conds, fmt.Sprintf("memory_type = $%d", len(args)))
	}
	for k, v := range q.MetadataFilter {
		cond, arg := filterCondition(len(args)+1, v)
		args = append(args, k, arg)
		conds = append(conds, cond)
	}
	args = append(args, q.Limit)

	// The approximate index applies WHERE clauses after its candidate scan,
	// so filtered queries rank every matching row exactly.
	order := "embedding <=> $1::vector"
	if q.Type != "" || len(q.MetadataFilter) > 0 {
		order = "similarity DESC"
	}

	sql := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, columns, s.table, strings.Join(conds, " AND "), order, len(args))

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		s.logger.Error("query failed", "err", err)
		return []*memory.Record{}, nil
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`,
		strconv.Itoa(searchWidth(q.Limit))); err != nil {
		s.logger.Error("query failed", "err", err)
		return []*memory.Record{}, nil
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		s.logger.Error("query failed", "err", err)
		return []*memory.Record{}, nil
	}
	defer rows.Close()

	records := []*memory.Record{}
	for rows.Next() {
		var similarity float64
		rec, err := scanRecord(rows, &similarity)
		if err != nil {
			s.logger.Warn("skipping undecodable row", "err", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("query failed", "err", err)
		return []*memory.Record{}, nil
	}
	return records, nil
}

// Update merges upd into an existing row inside a transaction.
func (s *Store) Update(ctx context.Context, id string, upd memory.Update) error {
	pool, dims, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", memory.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := s.get(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if err := memory.ApplyUpdate(ctx, rec, upd, s.embedder); err != nil {
		return err
	}
	if len(rec.Embedding) != dims {
		return fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(rec.Embedding), dims)
	}
	if err := s.upsert(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", memory.ErrBackend, err)
	}
	return nil
}

// Get returns a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	pool, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	return s.get(ctx, pool, id, false)
}

func (s *Store) get(ctx context.Context, db dbtx, id string, forUpdate bool) (*memory.Record, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.table)
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rec, err := scanRecord(db.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", memory.ErrBackend, err)
	}
	return rec, nil
}

// Delete removes a row. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	pool, _, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id); err != nil {
		return fmt.Errorf("%w: delete: %v", memory.ErrBackend, err)
	}
	return nil
}

// Clear removes all rows, or all rows of one type.
func (s *Store) Clear(ctx context.Context, memoryType memory.MemoryType) error {
	pool, _, err := s.conn()
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`DELETE FROM %s`, s.table)
	var args []any
	if memoryType != "" {
		sql += ` WHERE memory_type = $1`
		args = append(args, string(memoryType))
	}
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%w: clear: %v", memory.ErrBackend, err)
	}
	s.logger.Info("cleared", "type", memoryType, "rows", tag.RowsAffected())
	return nil
}

// Close releases the pool. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// DropTable removes the table. Used by tests to leave the database clean.
func (s *Store) DropTable(ctx context.Context) error {
	pool, _, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+s.table); err != nil {
		return fmt.Errorf("%w: drop table: %v", memory.ErrBackend, err)
	}
	return nil
}

// filterCondition builds the equality test for one metadata filter entry
// whose key is bound at $pos and value at $pos+1. Strings compare as text;
// numbers, booleans, objects and arrays compare as jsonb so formatting of
// the stored document does not matter.
func filterCondition(pos int, v any) (string, any) {
	if str, ok := v.(string); ok {
		return fmt.Sprintf("metadata ->> $%d = $%d", pos, pos+1), str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("metadata ->> $%d = $%d", pos, pos+1), fmt.Sprint(v)
	}
	return fmt.Sprintf("metadata -> $%d = $%d::jsonb", pos, pos+1), string(data)
}
