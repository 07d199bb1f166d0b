// Package broadcast fans a periodically produced byte payload out to every
// connected TCP client: the NMEA 0183 and JSON outputs are each one
// instance of Server. No teacher file implements a TCP fan-out server (the
// teacher is a client-only library reading from a single transport), so
// this package is built fresh in the teacher's style of a small exported
// Config struct plus constructor, using goroutines and channels as the
// idiomatic Go analogue of a hand-rolled multiplexed accept/read/write
// event loop.
package broadcast

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// clientSendQueueDepth bounds how many produced payloads a slow client can
// fall behind by before it is dropped rather than blocking the broadcast
// loop.
const clientSendQueueDepth = 8

// Config configures one Server instance.
type Config struct {
	// Port to listen on, e.g. ":2000".
	Port string
	// Interval between Produce calls while at least one client is connected.
	Interval time.Duration
	// Produce returns the next payload to broadcast. Called on the
	// server's own goroutine; must not block for long.
	Produce func() []byte
	// OnConnectChange, if set, is notified with the new client count on
	// every connect or disconnect.
	OnConnectChange func(count int)
}

// Server accepts TCP clients on Config.Port and, once per Config.Interval,
// broadcasts the result of Config.Produce to all of them. Inbound bytes
// from clients are read and discarded; the protocol is publish-only.
type Server struct {
	cfg Config
	log *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	clients  map[*client]struct{}

	stop chan struct{}
}

type client struct {
	conn    net.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closeCh)
		_ = c.conn.Close()
	})
}

// New returns a Server for cfg. Call Run to start serving.
func New(cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		clients: make(map[*client]struct{}),
		stop:    make(chan struct{}),
	}
}

// Run binds the listening socket and blocks, accepting clients and driving
// the periodic broadcast, until Close is called.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("broadcast: failed to listen on %s: %w", s.cfg.Port, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.broadcastLoop()
	return nil
}

// Close stops accepting new clients, disconnects every current client, and
// signals the broadcast loop to stop. It does not wait for the loop to exit.
func (s *Server) Close() error {
	close(s.stop)
	s.mu.Lock()
	ln := s.listener
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Errorw("broadcast: accept failed", "err", err)
				return
			}
		}
		s.addClient(conn)
	}
}

func (s *Server) addClient(conn net.Conn) {
	c := &client{
		conn:    conn,
		sendCh:  make(chan []byte, clientSendQueueDepth),
		closeCh: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.notifyConnectChange(count)

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) removeClient(c *client) {
	c.close()
	s.mu.Lock()
	_, existed := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()
	if existed {
		s.notifyConnectChange(count)
	}
}

func (s *Server) notifyConnectChange(count int) {
	if s.cfg.OnConnectChange != nil {
		s.cfg.OnConnectChange(count)
	}
}

// readLoop drains and discards client input; its sole purpose is detecting
// disconnection via EOF or a socket error.
func (s *Server) readLoop(c *client) {
	buf := make([]byte, 512)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.closeCh:
			return
		case payload := <-c.sendCh:
			if _, err := c.conn.Write(payload); err != nil {
				s.removeClient(c)
				return
			}
		}
	}
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			n := len(s.clients)
			s.mu.Unlock()
			if n == 0 {
				continue
			}
			s.broadcastOnce()
		}
	}
}

func (s *Server) broadcastOnce() {
	payload := s.cfg.Produce()
	if len(payload) == 0 {
		return
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.sendCh <- payload:
		default:
			s.log.Warnw("broadcast: client send queue full, dropping slow client")
			s.removeClient(c)
		}
	}
}
