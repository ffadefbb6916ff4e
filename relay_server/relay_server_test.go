package relay_server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caleberi/chatrelay/common"
	messagehistory "github.com/caleberi/chatrelay/message_history"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjarratt/babble"
)

func testConfig() common.Config {
	cfg := common.DefaultConfig()
	cfg.Mode = common.ModeRelay
	cfg.Address = "127.0.0.1:0"
	return cfg
}

func startServer(t *testing.T, cfg common.Config, history messagehistory.History) *RelayServer {
	rs, err := NewRelayServer(cfg, history)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Shutdown() })
	return rs
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWithin(conn net.Conn, d time.Duration) (string, error) {
	buf := make([]byte, common.ReadBufferSize)
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", err
	}
	n, err := conn.Read(buf)
	return string(buf[:n]), err
}

func waitForPeers(t *testing.T, rs *RelayServer, n int) {
	require.Eventually(t, func() bool { return rs.PeerCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestNewRelayServer_InvalidConfig(t *testing.T) {
	testcases := []struct {
		name   string
		mutate func(*common.Config)
	}{
		{name: "zero queue capacity", mutate: func(c *common.Config) { c.QueueCapacity = 0 }},
		{name: "zero event capacity", mutate: func(c *common.Config) { c.EventCapacity = 0 }},
		{name: "no workers", mutate: func(c *common.Config) { c.Workers = 0 }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := NewRelayServer(cfg, nil)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestRelayReachesEveryoneButSender(t *testing.T) {
	rs := startServer(t, testConfig(), nil)
	a, b, c := dial(t, rs.Addr()), dial(t, rs.Addr()), dial(t, rs.Addr())
	waitForPeers(t, rs, 3)

	babbler := babble.Babbler{
		Count:     5,
		Separator: "-",
		Words:     []string{"worker", "dispatcher", "hub", "sentinel", "capacity"},
	}
	message := babbler.Babble() + "\n"

	_, err := a.Write([]byte(message))
	require.NoError(t, err)

	for _, peer := range []net.Conn{b, c} {
		got, err := readWithin(peer, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, message, got)
	}

	_, err = readWithin(a, 100*time.Millisecond)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "sender must not receive its own message")
}

func TestPeerLeaves(t *testing.T) {
	rs := startServer(t, testConfig(), nil)
	a := dial(t, rs.Addr())
	b := dial(t, rs.Addr())
	waitForPeers(t, rs, 2)

	require.NoError(t, b.Close())
	waitForPeers(t, rs, 1)

	_, err := a.Write([]byte("still here\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, rs.PeerCount())
}

func TestManyPeersWithSeveralWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 3
	cfg.PollInterval = 5 * time.Millisecond
	rs := startServer(t, cfg, nil)

	const peers = 10
	conns := make([]net.Conn, peers)
	for i := range conns {
		conns[i] = dial(t, rs.Addr())
	}
	waitForPeers(t, rs, peers)
	assert.Equal(t, 0, rs.PendingConnections())

	_, err := conns[0].Write([]byte("fan out\n"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, conn := range conns[1:] {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			got, err := readWithin(conn, 2*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, "fan out\n", got)
		}(conn)
	}
	wg.Wait()
}

func TestHistoryReplayedToNewPeer(t *testing.T) {
	mr := miniredis.RunT(t)
	history, err := messagehistory.NewRedisHistory("relay-room", 10, time.Minute, &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer history.Close()

	rs := startServer(t, testConfig(), history)
	a := dial(t, rs.Addr())
	waitForPeers(t, rs, 1)

	_, err = a.Write([]byte("earlier\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		entries, err := history.Recent(context.Background())
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	late := dial(t, rs.Addr())
	got, err := readWithin(late, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "earlier\n", got)
}

func TestShutdownDisconnectsPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	rs, err := NewRelayServer(cfg, nil)
	require.NoError(t, err)

	a := dial(t, rs.Addr())
	b := dial(t, rs.Addr())
	waitForPeers(t, rs, 2)

	done := make(chan error, 1)
	go func() { done <- rs.Shutdown() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(common.ShutdownTimeout):
		t.Fatal("shutdown did not return")
	}

	for _, conn := range []net.Conn{a, b} {
		_, err := readWithin(conn, time.Second)
		assert.Error(t, err, "peer should be disconnected on shutdown")
	}
	assert.Equal(t, 0, rs.PeerCount())
	assert.NoError(t, rs.Shutdown(), "second shutdown is a no-op")
}

// The dispatcher alone, with nobody draining the connection queue.
func startDispatcherOnly(t *testing.T, cfg common.Config) *RelayServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rs := newRelayServer(cfg, l, nil)
	rs.startDispatcher()
	t.Cleanup(func() {
		rs.shuttingDown.Store(true)
		l.Close()
		// unblock a dispatcher parked in Send
		for rs.conns.Size() > 0 {
			if conn := rs.conns.Receive(); conn != nil {
				conn.Close()
			}
		}
		<-rs.dispatcherDone
	})
	return rs
}

func TestDispatcherBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	rs := startDispatcherOnly(t, cfg)

	dial(t, rs.Addr())
	dial(t, rs.Addr())
	dial(t, rs.Addr())

	require.Eventually(t, func() bool { return rs.PendingConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	// the second connection is held by the dispatcher until space frees up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rs.PendingConnections())
	assert.Zero(t, rs.Dropped())

	first := rs.conns.Receive()
	require.NotNil(t, first)
	first.Close()
	require.Eventually(t, func() bool { return rs.PendingConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherNonBlockingDrops(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.NonBlockingAccept = true
	rs := startDispatcherOnly(t, cfg)

	dial(t, rs.Addr())
	require.Eventually(t, func() bool { return rs.PendingConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	refused := dial(t, rs.Addr())
	require.Eventually(t, func() bool { return rs.Dropped() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rs.PendingConnections())

	_, err := readWithin(refused, 2*time.Second)
	assert.Error(t, err, "refused connection should be closed")
}

func TestWorkerTurnsConnectionIntoEvents(t *testing.T) {
	rs := newRelayServer(testConfig(), nil, nil)
	rs.startWorkers()

	server, client := net.Pipe()
	defer client.Close()
	rs.conns.Send(server)

	join := rs.events.Receive()
	require.Equal(t, EventJoin, join.Kind)
	assert.Equal(t, server, join.Peer.conn)
	assert.NotEmpty(t, join.Peer.id)

	go client.Write([]byte("ping"))
	msg := rs.events.Receive()
	require.Equal(t, EventMessage, msg.Kind)
	assert.Equal(t, "ping", string(msg.Data))
	assert.Equal(t, join.Peer.id, msg.Peer.id)

	require.NoError(t, client.Close())
	leave := rs.events.Receive()
	assert.Equal(t, EventLeave, leave.Kind)
	assert.Equal(t, join.Peer.id, leave.Peer.id)

	rs.conns.Send(nil)
	rs.workers.Wait()
	require.NoError(t, rs.group.Wait())
}

func TestEachWorkerTakesOneSentinel(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4
	rs := newRelayServer(cfg, nil, nil)
	rs.startWorkers()

	for i := 0; i < cfg.Workers; i++ {
		rs.conns.Send(nil)
	}

	done := make(chan struct{})
	go func() {
		rs.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit on the nil sentinel")
	}
	assert.Equal(t, 0, rs.PendingConnections())
}

func TestHubStopWaitsForLeaves(t *testing.T) {
	rs := newRelayServer(testConfig(), nil, nil)
	rs.startHub()

	server, client := net.Pipe()
	p := &peer{id: "p1", addr: "pipe", conn: server}
	rs.events.Send(Event{Kind: EventJoin, Peer: p})
	require.Eventually(t, func() bool { return rs.PeerCount() == 1 }, time.Second, 5*time.Millisecond)

	rs.events.Send(Event{Kind: EventStop})

	hubDone := make(chan error, 1)
	go func() { hubDone <- rs.group.Wait() }()

	select {
	case <-hubDone:
		t.Fatal("hub returned before the peer left")
	case <-time.After(50 * time.Millisecond):
	}

	// the hub closed our peer; the pipe reports it to the other end
	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err)

	rs.events.Send(Event{Kind: EventLeave, Peer: p})
	select {
	case err := <-hubDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not return after the last leave")
	}
	assert.Equal(t, 0, rs.PeerCount())
}
