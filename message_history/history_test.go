package messagehistory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caleberi/chatrelay/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestHistory(t *testing.T, size int, ttl time.Duration) (*RedisHistory, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	h, err := NewRedisHistory("test-room", size, ttl, &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, mr
}

func TestNewRedisHistory(t *testing.T) {
	h, _ := setupTestHistory(t, 0, time.Minute)
	assert.Equal(t, common.DefaultHistorySize, h.size)
	assert.Equal(t, "test-room", h.key)
}

func TestNewRedisHistory_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisHistory("test-room", 5, time.Minute, &redis.Options{Addr: addr, MaxRetries: -1})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	h, _ := setupTestHistory(t, 3, time.Minute)

	entries, err := h.Recent(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for i := 0; i < 5; i++ {
		msg := common.Message{From: common.PeerID(fmt.Sprintf("peer-%d", i)), Data: []byte(fmt.Sprintf("msg-%d", i))}
		require.NoError(t, h.Append(ctx, msg))
	}

	entries, err = h.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+2), string(entry.Data))
		assert.Equal(t, common.PeerID(fmt.Sprintf("peer-%d", i+2)), entry.From)
		assert.NotEmpty(t, entry.Id)
		assert.False(t, entry.At.IsZero())
	}
}

func TestAppendRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	h, mr := setupTestHistory(t, 3, 30*time.Second)

	require.NoError(t, h.Append(ctx, common.Message{From: "a", Data: []byte("hi")}))
	assert.Equal(t, 30*time.Second, mr.TTL("test-room"))

	mr.FastForward(31 * time.Second)
	entries, err := h.Recent(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "history should expire with the key")
}

func TestRecentSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	h, mr := setupTestHistory(t, 5, 0)

	require.NoError(t, h.Append(ctx, common.Message{From: "a", Data: []byte("first")}))
	_, err := mr.RPush("test-room", "{not json")
	require.NoError(t, err)
	require.NoError(t, h.Append(ctx, common.Message{From: "b", Data: []byte("second")}))

	entries, err := h.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", string(entries[0].Data))
	assert.Equal(t, "second", string(entries[1].Data))
	assert.Equal(t, time.Duration(0), mr.TTL("test-room"))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	h, mr := setupTestHistory(t, 5, time.Minute)

	require.NoError(t, h.Append(ctx, common.Message{From: "a", Data: []byte("x")}))
	require.NoError(t, h.Clear(ctx))
	assert.False(t, mr.Exists("test-room"))
}
