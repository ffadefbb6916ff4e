package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/caleberi/chatrelay/chat_server"
	"github.com/caleberi/chatrelay/common"
	messagehistory "github.com/caleberi/chatrelay/message_history"
	"github.com/caleberi/chatrelay/relay_server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

type server interface {
	Shutdown() error
}

func main() {
	cfg := common.DefaultConfig()

	mode := flag.String("mode", string(cfg.Mode), "server flavour: broadcast or relay")
	addr := flag.String("addr", string(cfg.Address), "address to listen on")
	flag.IntVar(&cfg.QueueCapacity, "capacity", cfg.QueueCapacity, "relay: pending connection queue capacity")
	flag.IntVar(&cfg.EventCapacity, "events", cfg.EventCapacity, "relay: event queue capacity")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "relay: connection workers")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "relay: worker poll interval, 0 blocks")
	flag.BoolVar(&cfg.NonBlockingAccept, "nonBlocking", cfg.NonBlockingAccept, "relay: refuse connections when the queue is full")
	flag.IntVar(&cfg.MaxClients, "maxClients", cfg.MaxClients, "broadcast: client limit")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for message history, empty disables it")
	flag.IntVar(&cfg.HistorySize, "historySize", cfg.HistorySize, "messages replayed to new clients")
	flag.Parse()

	cfg.Mode = common.ServerMode(*mode)
	cfg.Address = common.ServerAddr(*addr)
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	var history messagehistory.History
	if cfg.RedisAddr != "" {
		h, err := messagehistory.NewRedisHistory(cfg.HistoryKey, cfg.HistorySize, cfg.HistoryTTL,
			&redis.Options{Addr: cfg.RedisAddr})
		if err != nil {
			log.Fatal().Err(err).Stack().Msg("message history unavailable")
		}
		defer h.Close()
		history = h
	}

	var (
		srv server
		err error
	)
	switch cfg.Mode {
	case common.ModeRelay:
		srv, err = relay_server.NewRelayServer(cfg, history)
	default:
		srv, err = chat_server.NewChatServer(cfg, history)
	}
	if err != nil {
		log.Fatal().Err(err).Stack().Msg("cannot start server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := srv.Shutdown(); err != nil {
		log.Err(err).Stack().Msg("shutdown")
	}
}
