package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", []byte(`{"cycle_id":"c1"}`)))
	got, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"cycle_id":"c1"}`), got)
}

func TestPut_UpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", []byte("v1")))
	require.NoError(t, s.Put(ctx, "c1", []byte("v2")))

	got, _, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestGet_MissingKeyReportsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelete_RemovesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", []byte("x")))

	require.NoError(t, s.Delete(ctx, "c1"))
	_, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAll_ReturnsEveryRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", []byte("a")))
	require.NoError(t, s.Put(ctx, "c2", []byte("b")))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("a"), all["c1"])
	require.Equal(t, []byte("b"), all["c2"])
}
