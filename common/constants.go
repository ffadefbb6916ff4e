package common

import "time"

const (
	ModeBroadcast ServerMode = "broadcast"
	ModeRelay     ServerMode = "relay"
)

const (
	DefaultServerAddr ServerAddr = "127.0.0.1:8000"

	// socket reads
	ReadBufferSize = 4096
	WriteTimeout   = 5 * time.Second

	// broadcast server
	DefaultMaxClients = 128

	// relay server
	DefaultQueueCapacity = 2
	DefaultEventCapacity = 64
	DefaultWorkers       = 1

	// message history
	DefaultHistoryKey    = "chatrelay:history"
	DefaultHistorySize   = 20
	HistoryKeyExpiryTime = 24 * time.Hour
	HistoryTimeout       = 2 * time.Second

	ShutdownTimeout = 5 * time.Second
)
