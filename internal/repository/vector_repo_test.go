package repository

import (
	"context"
	"os"
	"strings"
	"testing"

	"docqa/internal/config"
	"docqa/internal/db"
	"docqa/internal/vectorindex"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresVectors connects to the database described by the DB_*
// variables. The <=> operator only exists on Postgres with pgvector.
func newPostgresVectors(t *testing.T) *VectorRepositoryImpl {
	t.Helper()
	if os.Getenv("DB_DRIVER") != "postgres" {
		t.Skip("set DB_DRIVER=postgres to run pgvector queries")
	}
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EMBEDDING_PROVIDER", "local")
	t.Setenv("GENERATION_PROVIDER", "ollama")
	t.Setenv("VECTOR_INDEX", "pgvector")

	cfg, err := config.Load()
	require.NoError(t, err)
	gdb, err := db.NewGorm(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })
	return NewVectorRepository(gdb.DB)
}

func TestVectorRepository_PostgresQuery(t *testing.T) {
	repo := newPostgresVectors(t)
	ctx := context.Background()

	docA := ksuid.New().String()
	docB := ksuid.New().String()
	t.Cleanup(func() {
		_ = repo.Remove(context.Background(), docA)
		_ = repo.Remove(context.Background(), docB)
	})

	require.NoError(t, repo.Add(ctx, docA, "m",
		vectorindex.Entry{ChunkID: docA + ":0", Seq: 0, Vector: []float32{1, 0}},
		vectorindex.Entry{ChunkID: docA + ":1", Seq: 1, Vector: []float32{0, 1}},
		vectorindex.Entry{ChunkID: docA + ":2", Seq: 2, Vector: []float32{4, 3}},
		vectorindex.Entry{ChunkID: docA + ":3", Seq: 3, Vector: []float32{2, 0}},
	))
	// identical to the query vector, so it would win if partitions leaked
	require.NoError(t, repo.Add(ctx, docB, "m",
		vectorindex.Entry{ChunkID: docB + ":0", Seq: 0, Vector: []float32{1, 0}},
	))

	matches, err := repo.Query(ctx, docA, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	for i, m := range matches {
		assert.True(t, strings.HasPrefix(m.ChunkID, docA+":"), "match %s belongs to another document", m.ChunkID)
		if i > 0 {
			assert.LessOrEqual(t, m.Score, matches[i-1].Score, "scores must not increase")
		}
	}
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
	assert.Equal(t, 0, matches[0].Seq, "equal scores come back in document order")
	assert.Equal(t, 3, matches[1].Seq)
	assert.InDelta(t, 0.8, matches[2].Score, 1e-5)

	matches, err = repo.Query(ctx, docB, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, docB+":0", matches[0].ChunkID)
}
