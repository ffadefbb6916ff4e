// Package messagehistory keeps the most recent chat messages in Redis so that
// peers joining a room can be brought up to date.
//
// Messages are stored as JSON entries in a single Redis list. Each append
// trims the list to the configured size and refreshes the key expiry, so an
// idle room forgets its history after the TTL elapses.
//
// Example usage:
//
//	h, err := NewRedisHistory("chat:history", 20, time.Hour, &redis.Options{Addr: "localhost:6379"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	_ = h.Append(ctx, common.Message{From: "peer-1", Data: []byte("hello\n")})
//	entries, _ := h.Recent(ctx)
package messagehistory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caleberi/chatrelay/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// History stores and replays recent messages.
type History interface {
	// Append records msg as the newest entry, evicting the oldest ones past the size limit.
	Append(ctx context.Context, msg common.Message) error
	// Recent returns the retained entries from oldest to newest.
	Recent(ctx context.Context) ([]Entry, error)
	// Close releases the underlying connection.
	Close() error
}

// Entry is a single persisted message.
type Entry struct {
	Id   string        `json:"id"`
	From common.PeerID `json:"from"`
	Data []byte        `json:"data"`
	At   time.Time     `json:"at"`
}

// RedisHistory is a History backed by a capped Redis list.
type RedisHistory struct {
	key  string
	size int
	ttl  time.Duration
	rdb  *redis.Client
}

var _ History = (*RedisHistory)(nil)

// NewRedisHistory connects to Redis and returns a history retaining at most
// size entries under key. A non-positive size falls back to
// common.DefaultHistorySize; a non-positive ttl disables expiry.
func NewRedisHistory(key string, size int, ttl time.Duration, opts *redis.Options) (*RedisHistory, error) {
	if size <= 0 {
		size = common.DefaultHistorySize
	}
	if key == "" {
		key = common.DefaultHistoryKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.HistoryTimeout)
	defer cancel()

	rdb := redis.NewClient(opts)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisHistory{
		key:  key,
		size: size,
		ttl:  ttl,
		rdb:  rdb,
	}, nil
}

func (h *RedisHistory) Append(ctx context.Context, msg common.Message) error {
	jsn, err := json.Marshal(Entry{
		Id:   uuid.New().String(),
		From: msg.From,
		Data: msg.Data,
		At:   time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "encode history entry")
	}

	p := h.rdb.Pipeline()
	p.RPush(ctx, h.key, jsn)
	p.LTrim(ctx, h.key, int64(-h.size), -1)
	if h.ttl > 0 {
		p.Expire(ctx, h.key, h.ttl)
	}
	if _, err := p.Exec(ctx); err != nil {
		return errors.Wrapf(err, "append history entry to %s", h.key)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context) ([]Entry, error) {
	raw, err := h.rdb.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read history %s", h.key)
	}

	result := make([]Entry, 0, len(raw))
	for _, js := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(js), &entry); err != nil {
			log.Warn().Err(err).Str("key", h.key).Msg("skipping malformed history entry")
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

// Clear drops every retained entry.
func (h *RedisHistory) Clear(ctx context.Context) error {
	return h.rdb.Del(ctx, h.key).Err()
}

func (h *RedisHistory) Close() error {
	return h.rdb.Close()
}
