package broadcast

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, cfg Config) (*Server, string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg.Port = addr
	s := New(cfg, nil)
	go func() {
		_ = s.Run()
	}()
	t.Cleanup(func() { _ = s.Close() })

	// give the listener a moment to bind
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return s, addr
}

func TestServer_BroadcastsProducedPayloadToConnectedClient(t *testing.T) {
	_, addr := startTestServer(t, Config{
		Interval: 20 * time.Millisecond,
		Produce:  func() []byte { return []byte("hello\n") },
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestServer_NoBroadcastWithoutConnectedClients(t *testing.T) {
	var produced int32
	startTestServer(t, Config{
		Interval: 10 * time.Millisecond,
		Produce: func() []byte {
			atomic.AddInt32(&produced, 1)
			return []byte("x")
		},
	})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&produced), "Produce must not run with zero connected clients")
}

func TestServer_OnConnectChangeNotifiesOnConnectAndDisconnect(t *testing.T) {
	counts := make(chan int, 8)
	_, addr := startTestServer(t, Config{
		Interval:        50 * time.Millisecond,
		Produce:         func() []byte { return nil },
		OnConnectChange: func(count int) { counts <- count },
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	select {
	case c := <-counts:
		assert.Equal(t, 1, c)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect notification")
	}

	require.NoError(t, conn.Close())

	select {
	case c := <-counts:
		assert.Equal(t, 0, c)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}
}

func TestServer_DiscardsClientInput(t *testing.T) {
	_, addr := startTestServer(t, Config{
		Interval: time.Hour,
		Produce:  func() []byte { return nil },
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("client chatter, ignored\n"))
	assert.NoError(t, err)
}
