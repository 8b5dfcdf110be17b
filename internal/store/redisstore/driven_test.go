package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriven(t *testing.T) (*DrivenStreams, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewDrivenStreams(rdb, time.Hour), mr
}

func TestDrivenStreams_AddListRemove(t *testing.T) {
	d, _ := newDriven(t)
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, "alice", "s2"))
	require.NoError(t, d.Add(ctx, "alice", "s1"))
	require.NoError(t, d.Add(ctx, "alice", "s1"))
	require.NoError(t, d.Add(ctx, "bob", "s9"))

	ids, err := d.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	ok, err := d.IsDriven(ctx, "bob", "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Remove(ctx, "alice", "s2"))
	ids, err = d.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, d.Clear(ctx, "alice"))
	ids, err = d.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDrivenStreams_Expire(t *testing.T) {
	d, mr := newDriven(t)
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, "alice", "s1"))
	assert.Equal(t, time.Hour, mr.TTL(drivenKey("alice")))

	mr.FastForward(2 * time.Hour)
	ok, err := d.IsDriven(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
