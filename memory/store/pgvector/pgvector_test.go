package pgvector_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/store/pgvector"
	"github.com/becomeliminal/nim-memory/memory/store/storetest"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("NIM_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NIM_TEST_PG_DSN not set")
	}
	return dsn
}

// newTestStore returns a store on a table unique to the test, dropped on
// cleanup.
func newTestStore(t *testing.T, dsn string, e memory.Embedder) *pgvector.Store {
	t.Helper()
	table := "nim_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s := pgvector.New(pgvector.Config{ConnectionString: dsn, TableName: table}, e)
	t.Cleanup(func() {
		ctx := context.Background()
		if err := s.Initialize(ctx); err == nil {
			_ = s.DropTable(ctx)
		}
		_ = s.Close()
	})
	return s
}

func TestCompliance(t *testing.T) {
	dsn := testDSN(t)
	storetest.Run(t, func(t *testing.T, e memory.Embedder) memory.Store {
		return newTestStore(t, dsn, e)
	})
}

func TestDimensionChangeIsConfigurationError(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	table := fmt.Sprintf("nim_test_dim_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	first := pgvector.New(pgvector.Config{ConnectionString: dsn, TableName: table}, mock.New(8))
	require.NoError(t, first.Initialize(ctx))
	t.Cleanup(func() {
		_ = first.DropTable(context.Background())
		_ = first.Close()
	})

	second := pgvector.New(pgvector.Config{ConnectionString: dsn, TableName: table}, mock.New(16))
	err := second.Initialize(ctx)
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}

func TestMissingConnectionString(t *testing.T) {
	t.Setenv("NIM_PGVECTOR_CONNECTION", "")
	s := pgvector.New(pgvector.Config{}, mock.New(8))
	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}

func TestUnreachableDatabase(t *testing.T) {
	s := pgvector.New(pgvector.Config{ConnectionString: "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"}, mock.New(8))
	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, memory.ErrBackend)
}
