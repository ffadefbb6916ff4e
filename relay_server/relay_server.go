// Package relay_server implements the queue-driven chat relay.
//
// Three kinds of goroutines cooperate and only ever talk through two bounded
// queues:
//
//   - the dispatcher accepts TCP connections and sends each handle into the
//     connection queue, pausing when it is full;
//   - workers receive handles, announce the new peer to the hub and start a
//     reader that turns socket reads into events;
//   - the hub is the single owner of the peer registry. It receives events
//     and writes every message to all other peers.
//
// Shutdown never interrupts a blocked queue operation. Workers are retired
// with one nil connection each and the hub with an EventStop, after which it
// closes every peer and drains their leave events before returning.
package relay_server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/caleberi/chatrelay/common"
	messagehistory "github.com/caleberi/chatrelay/message_history"
	"github.com/caleberi/chatrelay/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type RelayServer struct {
	ServerAddr common.ServerAddr
	cfg        common.Config
	listener   net.Listener

	conns  *utils.BQueue[net.Conn]
	events *utils.BQueue[Event]
	hub    *hub

	group          *errgroup.Group
	workers        sync.WaitGroup
	dispatcherDone chan struct{}

	shuttingDown atomic.Bool
	dropped      atomic.Int64
}

// NewRelayServer validates cfg, starts listening on cfg.Address and launches
// the dispatcher, cfg.Workers workers and the hub. history may be nil.
func NewRelayServer(cfg common.Config, history messagehistory.History) (*RelayServer, error) {
	cfg.Mode = common.ModeRelay
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", string(cfg.Address))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot start a listener on %s", cfg.Address)
	}

	rs := newRelayServer(cfg, l, history)
	rs.startHub()
	rs.startWorkers()
	rs.startDispatcher()

	log.Info().Msgf("Relay server is running now. Address = [%s] workers = %d queue = %d",
		rs.ServerAddr, cfg.Workers, cfg.QueueCapacity)
	return rs, nil
}

func newRelayServer(cfg common.Config, l net.Listener, history messagehistory.History) *RelayServer {
	rs := &RelayServer{
		cfg:            cfg,
		listener:       l,
		conns:          utils.NewBlockingQueue[net.Conn](cfg.QueueCapacity),
		events:         utils.NewBlockingQueue[Event](cfg.EventCapacity),
		group:          &errgroup.Group{},
		dispatcherDone: make(chan struct{}),
	}
	if l != nil {
		rs.ServerAddr = common.ServerAddr(l.Addr().String())
	}
	rs.hub = newHub(rs.events, history)
	return rs
}

func (rs *RelayServer) startHub() {
	rs.group.Go(rs.hub.run)
}

func (rs *RelayServer) startWorkers() {
	for i := 0; i < rs.cfg.Workers; i++ {
		rs.workers.Add(1)
		id := i
		rs.group.Go(func() error {
			defer rs.workers.Done()
			return rs.work(id)
		})
	}
}

func (rs *RelayServer) startDispatcher() {
	rs.group.Go(rs.dispatch)
}

func (rs *RelayServer) Addr() net.Addr {
	return rs.listener.Addr()
}

// PendingConnections is the number of accepted connections no worker has picked up yet.
func (rs *RelayServer) PendingConnections() int {
	return rs.conns.Size()
}

func (rs *RelayServer) PeerCount() int {
	return rs.hub.peerCount()
}

// Dropped counts connections refused because the queue was full in non-blocking mode.
func (rs *RelayServer) Dropped() int64 {
	return rs.dropped.Load()
}

// Shutdown stops the dispatcher, retires the workers, then stops the hub,
// which disconnects every peer. It returns once all goroutines have exited.
func (rs *RelayServer) Shutdown() error {
	if !rs.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	err := rs.listener.Close()
	<-rs.dispatcherDone

	for i := 0; i < rs.cfg.Workers; i++ {
		rs.conns.Send(nil)
	}
	rs.workers.Wait()

	// every join is queued by now, so the hub sees them before the stop
	rs.events.Send(Event{Kind: EventStop})

	if werr := rs.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	log.Info().Msgf("Relay server [%s] stopped", rs.ServerAddr)
	return err
}
