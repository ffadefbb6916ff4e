package relay_server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/caleberi/chatrelay/common"
	"github.com/caleberi/chatrelay/lib"
	messagehistory "github.com/caleberi/chatrelay/message_history"
	"github.com/caleberi/chatrelay/utils"
	"github.com/rs/zerolog/log"
)

type EventKind int

const (
	EventJoin EventKind = iota + 1
	EventMessage
	EventLeave
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventMessage:
		return "message"
	case EventLeave:
		return "leave"
	case EventStop:
		return "stop"
	}
	return "unknown"
}

// Event is the only way workers and readers talk to the hub.
type Event struct {
	Kind EventKind
	Peer *peer
	Data []byte
}

type peer struct {
	id   common.PeerID
	addr string
	conn net.Conn
}

// hub owns the peer registry. Only run touches peers, so it needs no lock.
type hub struct {
	events  *utils.BQueue[Event]
	history messagehistory.History
	peers   map[common.PeerID]*peer
	count   atomic.Int64
}

func newHub(events *utils.BQueue[Event], history messagehistory.History) *hub {
	return &hub{
		events:  events,
		history: history,
		peers:   make(map[common.PeerID]*peer),
	}
}

func (h *hub) peerCount() int {
	return int(h.count.Load())
}

// run consumes events until it has seen EventStop and every reader has
// reported its leave. Each join is matched by exactly one leave.
func (h *hub) run() error {
	stopping := false
	readers := 0
	for !stopping || readers > 0 {
		ev := h.events.Receive()
		lib.Debug(lib.TopicHub, "%s event, %d peers", ev.Kind, len(h.peers))

		switch ev.Kind {
		case EventJoin:
			readers++
			if stopping {
				ev.Peer.conn.Close()
				continue
			}
			h.join(ev.Peer)
		case EventMessage:
			if stopping {
				continue
			}
			h.relay(ev.Peer, ev.Data)
		case EventLeave:
			readers--
			h.leave(ev.Peer)
		case EventStop:
			stopping = true
			// readers notice the closed socket and answer with EventLeave
			for _, p := range h.peers {
				p.conn.Close()
			}
		}
	}
	return nil
}

func (h *hub) join(p *peer) {
	h.replayHistory(p)
	h.peers[p.id] = p
	h.count.Store(int64(len(h.peers)))
	log.Info().Msgf("Peer %s joined, %d connected", p.id, len(h.peers))
}

func (h *hub) leave(p *peer) {
	p.conn.Close()
	if _, ok := h.peers[p.id]; !ok {
		return
	}
	delete(h.peers, p.id)
	h.count.Store(int64(len(h.peers)))
	lib.Debug(lib.TopicConn, "%s left, %d peers remaining", p.id, len(h.peers))
}

// relay writes data to every peer but the sender. A failed write closes the
// peer; its reader then reports the leave.
func (h *hub) relay(from *peer, data []byte) {
	for id, p := range h.peers {
		if id == from.id {
			continue
		}
		if err := write(p.conn, data); err != nil {
			log.Err(err).Msgf("dropping peer %s after failed write", p.addr)
			p.conn.Close()
		}
	}

	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.HistoryTimeout)
	defer cancel()
	if err := h.history.Append(ctx, common.Message{From: from.id, Data: data}); err != nil {
		log.Err(err).Stack().Msg("cannot record message history")
	}
}

func (h *hub) replayHistory(p *peer) {
	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.HistoryTimeout)
	defer cancel()
	entries, err := h.history.Recent(ctx)
	if err != nil {
		log.Err(err).Stack().Msg("cannot load message history")
		return
	}
	for _, entry := range entries {
		if err := write(p.conn, entry.Data); err != nil {
			log.Err(err).Msgf("history replay to %s failed", p.addr)
			return
		}
	}
}

func write(conn net.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(common.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}
