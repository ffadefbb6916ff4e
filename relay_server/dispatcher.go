package relay_server

import (
	"net"

	"github.com/caleberi/chatrelay/lib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// dispatch accepts connections until the listener is closed. In blocking
// mode a full queue pauses accepting; otherwise the connection is refused.
func (rs *RelayServer) dispatch() error {
	defer close(rs.dispatcherDone)
	for {
		conn, err := rs.listener.Accept()
		if err != nil {
			if rs.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Err(err).Stack().Msg("problem with client connecting")
			continue
		}
		lib.Debug(lib.TopicAccept, "accepted %s, %d pending", conn.RemoteAddr(), rs.conns.Size())

		if !rs.cfg.NonBlockingAccept {
			rs.conns.Send(conn)
			continue
		}
		if !rs.conns.TrySend(conn) {
			rs.dropped.Add(1)
			log.Warn().Msgf("connection queue full, refusing %s", conn.RemoteAddr())
			conn.Close()
		}
	}
}
