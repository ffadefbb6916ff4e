package chat_server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/caleberi/chatrelay/common"
	"github.com/caleberi/chatrelay/lib"
	messagehistory "github.com/caleberi/chatrelay/message_history"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type client struct {
	id   common.PeerID
	addr string
	conn net.Conn
	mu   sync.Mutex // serializes writes from concurrent broadcasts
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(data)
}

func (c *client) writeLocked(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(common.WriteTimeout)); err != nil {
		return err
	}
	// net.Conn.Write only returns short with a non-nil error
	_, err := c.conn.Write(data)
	return err
}

// ChatServer relays every message it reads from a client to all other
// connected clients. The client registry is only ever touched under the
// embedded lock.
type ChatServer struct {
	sync.RWMutex
	ServerAddr common.ServerAddr
	listener   net.Listener
	clients    map[common.PeerID]*client
	limiter    *semaphore.Weighted
	history    messagehistory.History
	group      *errgroup.Group
	isDead     bool
}

// NewChatServer starts listening on cfg.Address and accepts clients in the
// background. history may be nil.
func NewChatServer(cfg common.Config, history messagehistory.History) (*ChatServer, error) {
	if cfg.MaxClients <= 0 {
		return nil, errors.Wrapf(common.ErrInvalidConfig, "max clients must be positive, got %d", cfg.MaxClients)
	}

	l, err := net.Listen("tcp", string(cfg.Address))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot start a listener on %s", cfg.Address)
	}

	cs := &ChatServer{
		ServerAddr: common.ServerAddr(l.Addr().String()),
		listener:   l,
		clients:    make(map[common.PeerID]*client),
		limiter:    semaphore.NewWeighted(int64(cfg.MaxClients)),
		history:    history,
		group:      &errgroup.Group{},
	}

	cs.group.Go(cs.acceptLoop)

	log.Info().Msgf("Chat server is running now. Address = [%s] ", cs.ServerAddr)
	return cs, nil
}

func (cs *ChatServer) Addr() net.Addr {
	return cs.listener.Addr()
}

func (cs *ChatServer) ClientCount() int {
	cs.RLock()
	defer cs.RUnlock()
	return len(cs.clients)
}

func (cs *ChatServer) dead() bool {
	cs.RLock()
	defer cs.RUnlock()
	return cs.isDead
}

func (cs *ChatServer) acceptLoop() error {
	for {
		conn, err := cs.listener.Accept()
		if err != nil {
			if cs.dead() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Err(err).Stack().Msg("problem with client connecting")
			continue
		}

		if !cs.limiter.TryAcquire(1) {
			log.Warn().Msgf("rejecting %s: client limit reached", conn.RemoteAddr())
			conn.Close()
			continue
		}

		c := &client{
			id:   common.PeerID(uuid.New().String()),
			addr: conn.RemoteAddr().String(),
			conn: conn,
		}
		log.Info().Msgf("Client address: %s id: %s", c.addr, c.id)

		cs.group.Go(func() error {
			defer cs.limiter.Release(1)
			cs.serve(c)
			return nil
		})
	}
}

func (cs *ChatServer) serve(c *client) {
	defer c.conn.Close()

	if !cs.join(c) {
		return
	}
	defer cs.unregister(c)

	buf := make([]byte, common.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			lib.Debug(lib.TopicRelay, "received %d bytes from %s", n, c.id)
			cs.broadcast(common.Message{From: c.id, Data: data})
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info().Msgf("The client %s disconnected", c.addr)
			case cs.dead() || errors.Is(err, net.ErrClosed):
			default:
				log.Err(err).Msgf("There was a connection issue with %s", c.addr)
			}
			return
		}
	}
}

// join reads the history and registers c in one critical section, so every
// message is either in the replay or broadcast to c, never both or neither.
// c.mu is held until the replay is written, which keeps live messages behind it.
func (cs *ChatServer) join(c *client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs.Lock()
	if cs.isDead {
		cs.Unlock()
		return false
	}
	entries := cs.recentHistory()
	cs.clients[c.id] = c
	cs.Unlock()

	for _, entry := range entries {
		if err := c.writeLocked(entry.Data); err != nil {
			log.Err(err).Msgf("history replay to %s failed", c.addr)
			break
		}
	}
	return true
}

func (cs *ChatServer) unregister(c *client) {
	cs.Lock()
	delete(cs.clients, c.id)
	remaining := len(cs.clients)
	cs.Unlock()
	lib.Debug(lib.TopicConn, "%s left, %d clients remaining", c.id, remaining)
}

// broadcast writes msg to every client except its sender. Recipients are
// picked and the history appended under the read lock; the writes happen
// after it is released. A client whose write fails is closed and its own
// reader then removes it.
func (cs *ChatServer) broadcast(msg common.Message) {
	cs.RLock()
	recipients := make([]*client, 0, len(cs.clients))
	for id, c := range cs.clients {
		if id != msg.From {
			recipients = append(recipients, c)
		}
	}
	cs.appendHistory(msg)
	cs.RUnlock()

	for _, c := range recipients {
		if err := c.write(msg.Data); err != nil {
			log.Err(err).Msgf("dropping client %s after failed write", c.addr)
			c.conn.Close()
		}
	}
}

func (cs *ChatServer) appendHistory(msg common.Message) {
	if cs.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.HistoryTimeout)
	defer cancel()
	if err := cs.history.Append(ctx, msg); err != nil {
		log.Err(err).Stack().Msg("cannot record message history")
	}
}

func (cs *ChatServer) recentHistory() []messagehistory.Entry {
	if cs.history == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.HistoryTimeout)
	defer cancel()
	entries, err := cs.history.Recent(ctx)
	if err != nil {
		log.Err(err).Stack().Msg("cannot load message history")
		return nil
	}
	return entries
}

// Shutdown stops accepting, disconnects every client and waits for all
// connection goroutines to return.
func (cs *ChatServer) Shutdown() error {
	cs.Lock()
	if cs.isDead {
		cs.Unlock()
		return nil
	}
	cs.isDead = true
	err := cs.listener.Close()
	for _, c := range cs.clients {
		c.conn.Close()
	}
	cs.Unlock()

	if werr := cs.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	log.Info().Msgf("Chat server [%s] stopped", cs.ServerAddr)
	return err
}
