package relay_server

import (
	"io"
	"net"

	"github.com/caleberi/chatrelay/common"
	"github.com/caleberi/chatrelay/lib"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// work adopts connections from the queue until it receives the nil sentinel.
func (rs *RelayServer) work(id int) error {
	for {
		if rs.cfg.PollInterval > 0 && !rs.conns.WaitFor(rs.cfg.PollInterval) {
			lib.Debug(lib.TopicWorker, "worker %d idle, %d peers", id, rs.PeerCount())
			continue
		}

		conn := rs.conns.Receive()
		if conn == nil {
			lib.Debug(lib.TopicWorker, "worker %d retiring", id)
			return nil
		}
		if rs.shuttingDown.Load() {
			conn.Close()
			continue
		}

		p := &peer{
			id:   common.PeerID(uuid.New().String()),
			addr: conn.RemoteAddr().String(),
			conn: conn,
		}
		log.Info().Msgf("Client address: %s id: %s (worker %d)", p.addr, p.id, id)

		// the join must be queued before any event the reader produces
		rs.events.Send(Event{Kind: EventJoin, Peer: p})
		rs.group.Go(func() error {
			rs.read(p)
			return nil
		})
	}
}

// read turns socket reads into message events and always ends with exactly
// one leave event. The hub owns the connection and closes it.
func (rs *RelayServer) read(p *peer) {
	buf := make([]byte, common.ReadBufferSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			rs.events.Send(Event{Kind: EventMessage, Peer: p, Data: data})
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info().Msgf("The client %s disconnected", p.addr)
			case rs.shuttingDown.Load() || errors.Is(err, net.ErrClosed):
			default:
				log.Err(err).Msgf("There was a connection issue with %s", p.addr)
			}
			rs.events.Send(Event{Kind: EventLeave, Peer: p})
			return
		}
	}
}
