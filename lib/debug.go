package lib

import (
	"io"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func getLogVerbosity() int {
	verbosity := os.Getenv("VERBOSE")
	if verbosity == "" {
		return 0
	}
	level, err := strconv.Atoi(verbosity)
	if err != nil {
		log.Fatal().Msgf("Invalid verbosity %v", verbosity)
	}
	return level
}

type Topic string

var debugStartTime time.Time
var debugVerbosity atomic.Int64

const (
	TopicAccept Topic = "ACPT"
	TopicConn   Topic = "CONN"
	TopicDrop   Topic = "DROP"
	TopicError  Topic = "ERROR"
	TopicHub    Topic = "HUB"
	TopicInfo   Topic = "INFO"
	TopicQueue  Topic = "QUEUE"
	TopicRelay  Topic = "RELAY"
	TopicTest   Topic = "TEST"
	TopicWarn   Topic = "WARN"
	TopicWorker Topic = "WORK"
)

func init() {
	debugVerbosity.Store(int64(getLogVerbosity()))
	debugStartTime = time.Now()
}

// Verbosity returns the level read from VERBOSE at startup.
func Verbosity() int {
	return int(debugVerbosity.Load())
}

func SetVerbosity(level int) {
	debugVerbosity.Store(int64(level))
}

// Debug writes a topic-tagged trace line to stderr when VERBOSE >= 1.
func Debug(topic Topic, format string, args ...interface{}) {
	WDebug(os.Stderr, topic, format, args...)
}

func WDebug(w io.Writer, topic Topic, format string, args ...interface{}) {
	if debugVerbosity.Load() < 1 {
		return
	}
	logger := zerolog.New(w).With().
		Int64("elapsed_ms", time.Since(debugStartTime).Milliseconds()).
		Str("topic", string(topic)).
		Logger()
	logger.Log().Msgf(format, args...)
}
