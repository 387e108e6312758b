package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_Directory(t *testing.T) {
	exerciseDirectory(t, newTestSQLiteStore(t))
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_SeedTwiceUpdatesRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Seed(ctx, germanSeed())
	require.NoError(t, err)

	d := germanSeed()
	d.StateProvinces[0].Name = "Lower Saxony"
	_, err = st.Seed(ctx, d)
	require.NoError(t, err)

	name, ok, err := st.StateNameByAbbreviation(ctx, "NI")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Lower Saxony", name)
}

// --- Response cache ---

func TestSQLite_ResponseCache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedResponse(ctx, "abc123def456", []byte(`[]`), time.Hour))

	body, ok, err := st.GetCachedResponse(ctx, "abc123def456")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(body))
}

func TestSQLite_ResponseCache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	body, ok, err := st.GetCachedResponse(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)
}

func TestSQLite_ResponseCache_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedResponse(ctx, "k", []byte("one"), 0))
	require.NoError(t, st.SetCachedResponse(ctx, "k", []byte("two"), 0))

	body, ok, err := st.GetCachedResponse(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(body))
}

func TestSQLite_ResponseCache_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedResponse(ctx, "short", []byte("x"), time.Millisecond))
	require.NoError(t, st.SetCachedResponse(ctx, "forever", []byte("y"), 0))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := st.GetCachedResponse(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := st.DeleteExpiredResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = st.GetCachedResponse(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}
