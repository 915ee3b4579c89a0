// Package addon is the scene host's socket server. It accepts TCP clients,
// frames their commands and hands each one to the main loop.
package addon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/wire"
)

const (
	// PollInterval bounds each blocking accept and read so the server
	// notices shutdown.
	PollInterval = 1 * time.Second

	// MessageTimeout is how long a partially received message may stall
	// before the session is dropped.
	MessageTimeout = 10 * time.Second

	// WriteTimeout bounds writing one envelope back to a client.
	WriteTimeout = 10 * time.Second

	// JoinTimeout bounds how long Stop waits for sessions to exit.
	JoinTimeout = 1 * time.Second
)

// Dispatcher executes a command and replies exactly once, possibly later
// and from another goroutine. *executor.Executor implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd wire.Command, reply func(wire.Envelope))
}

// Submitter queues work on the scene-owning goroutine without blocking.
// *mainloop.Loop implements it.
type Submitter interface {
	Submit(task func()) error
}

// Server accepts socket clients for the scene host.
type Server struct {
	addr       string
	dispatcher Dispatcher
	loop       Submitter

	pollInterval   time.Duration
	messageTimeout time.Duration
	writeTimeout   time.Duration
	joinTimeout    time.Duration

	mu       sync.RWMutex // guards running, listener, sessions
	running  bool
	listener net.Listener
	sessions map[string]net.Conn

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // accept loop and sessions
	readyCh chan struct{}
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithPollInterval overrides PollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

// WithMessageTimeout overrides MessageTimeout.
func WithMessageTimeout(d time.Duration) Option {
	return func(s *Server) { s.messageTimeout = d }
}

// WithJoinTimeout overrides JoinTimeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(s *Server) { s.joinTimeout = d }
}

// NewServer creates a server for addr ("host:port"). Commands are queued on
// loop and executed by dispatcher.
func NewServer(addr string, dispatcher Dispatcher, loop Submitter, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		dispatcher:     dispatcher,
		loop:           loop,
		pollInterval:   PollInterval,
		messageTimeout: MessageTimeout,
		writeTimeout:   WriteTimeout,
		joinTimeout:    JoinTimeout,
		sessions:       make(map[string]net.Conn),
		readyCh:        make(chan struct{}),
		log:            logger.WithComponent("addon"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and launches the accept loop. ctx is the parent
// of every command's context.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	select {
	case <-s.readyCh:
		// Restarted after Stop.
		s.readyCh = make(chan struct{})
	default:
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln, s.readyCh)
	return nil
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitReady blocks until the accept loop is running.
func (s *Server) WaitReady() {
	s.mu.RLock()
	ready := s.readyCh
	s.mu.RUnlock()
	<-ready
}

// Stop closes the listener and every session, then waits up to the join
// timeout for them to exit. Sessions still running after that are
// abandoned. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.log.Info("stopping server", "sessions", len(conns))
	s.cancel()
	err := ln.Close()
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("server stopped")
	case <-time.After(s.joinTimeout):
		s.log.Warn("abandoning sessions that did not exit in time", "timeout", s.joinTimeout)
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

func (s *Server) acceptLoop(ln net.Listener, ready chan struct{}) {
	defer s.wg.Done()
	close(ready)

	for {
		if !s.Running() {
			s.log.Debug("server stopped, leaving accept loop")
			return
		}

		if dl, ok := ln.(deadlineListener); ok {
			dl.SetDeadline(time.Now().Add(s.pollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !s.Running() {
				s.log.Debug("listener closed, leaving accept loop")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		id := uuid.NewString()
		if !s.track(id, conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serveSession(id, conn)
	}
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.sessions[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// SessionCount reports the number of connected clients.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// session is one connected client. Replies may be written from the loop or
// from a detached command goroutine, so writes are serialized.
type session struct {
	conn    net.Conn
	writeMu sync.Mutex
	timeout time.Duration
	log     *slog.Logger
}

func (ss *session) write(env wire.Envelope) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	ss.conn.SetWriteDeadline(time.Now().Add(ss.timeout))
	if err := wire.Write(ss.conn, env); err != nil {
		ss.log.Warn("failed to send response", "error", err)
		ss.conn.Close()
	}
}

func (s *Server) serveSession(id string, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(id)
	defer conn.Close()

	ss := &session{
		conn:    conn,
		timeout: s.writeTimeout,
		log:     logger.WithSession(id).With("component", "addon", "remote", conn.RemoteAddr().String()),
	}
	ss.log.Info("client connected")

	dec := wire.NewDecoder(conn)
	var (
		buffered     int
		stalledSince time.Time
	)
	for {
		if !s.Running() {
			ss.log.Debug("server stopped, closing session")
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.pollInterval))
		cmd, err := dec.DecodeCommand()
		switch {
		case err == nil:
			buffered = 0
			s.handoff(ss, cmd)
			continue

		case wire.IsTimeout(err):
			n := dec.Buffered()
			if n == 0 {
				buffered = 0
				continue
			}
			if n != buffered {
				buffered, stalledSince = n, time.Now()
			}
			if time.Since(stalledSince) < s.messageTimeout && s.Running() {
				continue
			}
			var final wire.Command
			if err := dec.Finish(&final); err != nil {
				ss.log.Warn("dropping session", "error", err)
				return
			}
			buffered = 0
			s.handoff(ss, final)
			continue

		case errors.Is(err, io.EOF):
			ss.log.Info("client disconnected")
			return

		case errors.Is(err, wire.ErrMalformed):
			ss.log.Warn("malformed command", "error", err)
			ss.write(wire.Failuref("Invalid command: %v", err))
			continue

		case errors.Is(err, wire.ErrIncomplete):
			ss.log.Warn("dropping session", "error", err)
			return

		default:
			if s.Running() {
				ss.log.Warn("read error", "error", err)
			}
			return
		}
	}
}

// handoff queues cmd on the loop. The session keeps reading while it runs.
func (s *Server) handoff(ss *session, cmd wire.Command) {
	ss.log.Debug("received command", "type", cmd.Type)

	var once sync.Once
	reply := func(env wire.Envelope) {
		once.Do(func() { ss.write(env) })
	}

	err := s.loop.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				ss.log.Error("command panicked", "type", cmd.Type, "panic", fmt.Sprint(r))
				reply(wire.Failuref("Error executing %s: %v", cmd.Type, r))
			}
		}()
		s.dispatcher.Dispatch(s.ctx, cmd, reply)
	})
	if err != nil {
		reply(wire.Failuref("Server is shutting down: %v", err))
	}
}
