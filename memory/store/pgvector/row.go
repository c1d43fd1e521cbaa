package pgvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/becomeliminal/nim-memory/memory"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const columns = `id, content, metadata, embedding::text, memory_type, payload_kind, payload, degraded, created_at, updated_at`

type row struct {
	metadata    json.RawMessage
	payloadKind any
	payload     any
}

func toRow(rec *memory.Record) (row, error) {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return row{}, fmt.Errorf("encode metadata: %w", err)
	}
	r := row{metadata: md}
	if rec.Payload != nil {
		kind, body, err := memory.EncodePayload(rec.Payload)
		if err != nil {
			return row{}, err
		}
		r.payloadKind = string(kind)
		r.payload = json.RawMessage(body)
	}
	return r, nil
}

// scanRecord reads the columns listed in columns, followed by any extra
// destinations.
func scanRecord(sc scanner, extra ...any) (*memory.Record, error) {
	var (
		rec         memory.Record
		metadata    []byte
		embedding   string
		memoryType  string
		payloadKind *string
		payload     []byte
		degraded    bool
	)
	dest := append([]any{
		&rec.ID, &rec.Content, &metadata, &embedding, &memoryType,
		&payloadKind, &payload, &degraded, &rec.CreatedAt, &rec.UpdatedAt,
	}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Type = memory.MemoryType(memoryType)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	rec.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	var vec pgvector.Vector
	if err := vec.Scan(embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	rec.Embedding = vec.Slice()

	if payloadKind != nil && *payloadKind != "" {
		p, err := memory.DecodePayload(memory.PayloadKind(*payloadKind), payload)
		if err != nil {
			return nil, err
		}
		rec.Payload = p
	}
	return &rec, nil
}
