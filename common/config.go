package common

import (
	"strconv"
	"time"

	"github.com/gookit/goutil/envutil"
	"github.com/pkg/errors"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config carries everything needed to start either server flavour. Fields a
// mode does not use are ignored by it.
type Config struct {
	Mode    ServerMode
	Address ServerAddr

	// broadcast
	MaxClients int

	// relay
	QueueCapacity     int
	EventCapacity     int
	Workers           int
	NonBlockingAccept bool
	PollInterval      time.Duration

	// history is disabled when RedisAddr is empty
	RedisAddr   string
	HistoryKey  string
	HistorySize int
	HistoryTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:          ModeBroadcast,
		Address:       DefaultServerAddr,
		MaxClients:    DefaultMaxClients,
		QueueCapacity: DefaultQueueCapacity,
		EventCapacity: DefaultEventCapacity,
		Workers:       DefaultWorkers,
		HistoryKey:    DefaultHistoryKey,
		HistorySize:   DefaultHistorySize,
		HistoryTTL:    HistoryKeyExpiryTime,
	}
}

// ApplyEnv overrides fields from CHAT_* environment variables. Unset or
// malformed variables leave the current value alone.
func (c *Config) ApplyEnv() {
	c.Mode = ServerMode(envutil.Getenv("CHAT_MODE", string(c.Mode)))
	c.Address = ServerAddr(envutil.Getenv("CHAT_ADDR", string(c.Address)))
	c.RedisAddr = envutil.Getenv("CHAT_REDIS_ADDR", c.RedisAddr)
	c.HistoryKey = envutil.Getenv("CHAT_HISTORY_KEY", c.HistoryKey)

	setInt := func(name string, dst *int) {
		if v, err := strconv.Atoi(envutil.Getenv(name)); err == nil {
			*dst = v
		}
	}
	setInt("CHAT_QUEUE_CAPACITY", &c.QueueCapacity)
	setInt("CHAT_EVENT_CAPACITY", &c.EventCapacity)
	setInt("CHAT_WORKERS", &c.Workers)
	setInt("CHAT_MAX_CLIENTS", &c.MaxClients)
	setInt("CHAT_HISTORY_SIZE", &c.HistorySize)

	if d, err := time.ParseDuration(envutil.Getenv("CHAT_POLL_INTERVAL")); err == nil {
		c.PollInterval = d
	}
}

// Validate rejects settings that would leave a server stuck. A zero queue
// capacity is legal for utils.BQueue but would block every Send forever.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeBroadcast, ModeRelay:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %q", c.Mode)
	}
	if c.Address == "" {
		return errors.Wrap(ErrInvalidConfig, "address is empty")
	}
	if c.Mode == ModeBroadcast && c.MaxClients <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max clients must be positive, got %d", c.MaxClients)
	}
	if c.Mode == ModeRelay {
		if c.QueueCapacity <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "queue capacity must be positive, got %d", c.QueueCapacity)
		}
		if c.EventCapacity <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "event capacity must be positive, got %d", c.EventCapacity)
		}
		if c.Workers <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "workers must be positive, got %d", c.Workers)
		}
		if c.PollInterval < 0 {
			return errors.Wrapf(ErrInvalidConfig, "poll interval must not be negative, got %v", c.PollInterval)
		}
	}
	if c.RedisAddr != "" && c.HistorySize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "history size must be positive, got %d", c.HistorySize)
	}
	return nil
}
