package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Mode = ModeRelay
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
}

func TestConfigValidate(t *testing.T) {
	testcases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown_mode", mutate: func(c *Config) { c.Mode = "multicast" }},
		{name: "empty_address", mutate: func(c *Config) { c.Address = "" }},
		{name: "zero_max_clients", mutate: func(c *Config) { c.MaxClients = 0 }},
		{name: "zero_queue_capacity", mutate: func(c *Config) { c.Mode = ModeRelay; c.QueueCapacity = 0 }},
		{name: "zero_event_capacity", mutate: func(c *Config) { c.Mode = ModeRelay; c.EventCapacity = 0 }},
		{name: "zero_workers", mutate: func(c *Config) { c.Mode = ModeRelay; c.Workers = 0 }},
		{name: "negative_poll", mutate: func(c *Config) { c.Mode = ModeRelay; c.PollInterval = -time.Second }},
		{name: "history_without_size", mutate: func(c *Config) { c.RedisAddr = "localhost:6379"; c.HistorySize = 0 }},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigApplyEnv(t *testing.T) {
	t.Setenv("CHAT_MODE", "relay")
	t.Setenv("CHAT_ADDR", "127.0.0.1:9999")
	t.Setenv("CHAT_QUEUE_CAPACITY", "8")
	t.Setenv("CHAT_WORKERS", "not-a-number")
	t.Setenv("CHAT_POLL_INTERVAL", "250ms")
	t.Setenv("CHAT_REDIS_ADDR", "localhost:6379")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, ModeRelay, cfg.Mode)
	assert.Equal(t, ServerAddr("127.0.0.1:9999"), cfg.Address)
	assert.Equal(t, 8, cfg.QueueCapacity)
	assert.Equal(t, DefaultWorkers, cfg.Workers, "malformed values are ignored")
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, DefaultEventCapacity, cfg.EventCapacity)
}
