package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGet_RoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "c1", []byte("hello")))
	got, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestGet_MissingKeyReportsNotFound(t *testing.T) {
	s := New()
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPut_CopiesInputSoCallerMutationDoesNotLeak(t *testing.T) {
	s := New()
	ctx := context.Background()
	buf := []byte("original")

	require.NoError(t, s.Put(ctx, "c1", buf))
	buf[0] = 'X'

	got, _, _ := s.Get(ctx, "c1")
	require.Equal(t, []byte("original"), got)
}

func TestDelete_RemovesEntry(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", []byte("x")))

	require.NoError(t, s.Delete(ctx, "c1"))
	_, ok, _ := s.Get(ctx, "c1")
	require.False(t, ok)
}

func TestAll_ReturnsEveryRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "c1", []byte("a")))
	require.NoError(t, s.Put(ctx, "c2", []byte("b")))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("a"), all["c1"])
	require.Equal(t, []byte("b"), all["c2"])
}
