// Package camsim implements a simulated exposure-capable camera speaking the
// same newline-terminated wire protocol the real device does. It backs the
// cmd/camsim tool and the package tests that need a live device to talk to.
package camsim

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Camera models the device's exposure state.
type Camera struct {
	mu            sync.Mutex
	exposing      bool
	exposureStart time.Time
}

// StartExposure marks the camera exposing and records the start time.
func (c *Camera) StartExposure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposing = true
	c.exposureStart = time.Now()
}

// StopExposure returns the camera to idle.
func (c *Camera) StopExposure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposing = false
	c.exposureStart = time.Time{}
}

// ExposingTime reports elapsed seconds of the current exposure, 0 when idle.
func (c *Camera) ExposingTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exposing {
		return 0
	}
	return time.Since(c.exposureStart).Seconds()
}

// State reports the device-side state string: "exposing" or "idle".
func (c *Camera) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exposing {
		return "exposing"
	}
	return "idle"
}

// Server accepts line-protocol connections and answers each request line with
// exactly one response line. An unrecognized request is a protocol error on
// the server side: the connection is closed.
type Server struct {
	camera *Camera

	mu        sync.Mutex
	listener  net.Listener
	sessions  map[net.Conn]struct{}
	isRunning bool

	wg sync.WaitGroup
}

// NewServer returns a server with a fresh idle camera.
func NewServer() *Server {
	return &Server{
		camera:   &Camera{},
		sessions: make(map[net.Conn]struct{}),
	}
}

// Camera exposes the simulated device state, mainly for tests that assert on
// what the device observed.
func (s *Server) Camera() *Camera { return s.camera }

// Start begins listening on addr (host:port; port 0 picks an ephemeral port)
// and serves connections until Stop.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("camsim: server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("camsim: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.isRunning = true

	slog.Info("camsim server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Addr returns the bound listen address, useful with ephemeral ports.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	listener := s.listener
	s.mu.Unlock()

	if err := listener.Close(); err != nil {
		slog.Warn("camsim listener close failed", "error", err)
	}

	// Drop live sessions so their read loops unblock.
	s.mu.Lock()
	for conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("camsim server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("camsim: stop: %w", ctx.Err())
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed by Stop.
			return
		}

		s.mu.Lock()
		s.sessions[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves one client session. Sessions get a short id so
// interleaved logs from multiple clients stay readable.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
	}()

	session := uuid.NewString()[:8]
	slog.Debug("camsim session opened", "session", session, "peer", conn.RemoteAddr().String())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		request := strings.TrimSpace(scanner.Text())

		var response string
		switch request {
		case "start_exposure":
			s.camera.StartExposure()
			response = "ok"
		case "stop_exposure":
			s.camera.StopExposure()
			response = "ok"
		case "get_state":
			response = s.camera.State()
		case "get_exposing_time":
			response = strconv.FormatFloat(s.camera.ExposingTime(), 'f', -1, 64)
		default:
			slog.Warn("camsim unrecognized request, closing session",
				"session", session,
				"request", request,
			)
			return
		}

		if _, err := fmt.Fprintf(conn, "%s\n", response); err != nil {
			slog.Debug("camsim write failed", "session", session, "error", err)
			return
		}

		slog.Debug("camsim request served",
			"session", session,
			"request", request,
			"response", response,
		)
	}

	slog.Debug("camsim session closed", "session", session)
}
