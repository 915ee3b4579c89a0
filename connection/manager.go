// Package connection manages the MCP server's single socket connection to
// the scene host.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/wire"
)

const (
	// DialTimeout bounds connecting. Reads have no deadline: remote
	// generation commands can run for minutes.
	DialTimeout = 5 * time.Second

	// WriteTimeout bounds sending one command.
	WriteTimeout = 10 * time.Second

	probeCommand = "get_csm_status"
)

// ErrNotConnected means the host could not be reached. Its text is the
// tool error MCP clients see.
var ErrNotConnected = errors.New("Could not connect to Blender. Make sure the Blender addon is running.")

// ConnectionLostError is a transport fault on an established connection.
// The handle is discarded; the next call redials.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("Connection to Blender lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Manager owns one connection handle and serializes commands on it. There
// is never more than one command in flight.
type Manager struct {
	addr        string
	dialTimeout time.Duration

	mu         sync.Mutex
	conn       net.Conn
	dec        *wire.Decoder
	csmEnabled bool

	log *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialTimeout overrides DialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// NewManager creates a manager for the host at addr. It does not dial.
func NewManager(addr string, opts ...Option) *Manager {
	m := &Manager{
		addr:        addr,
		dialTimeout: DialTimeout,
		log:         logger.WithComponent("connection").With("addr", addr),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetConnection makes sure a live connection exists. An existing handle is
// probed first; if the probe fails it is dropped and one fresh dial is
// made. The probe result updates CSMEnabled.
func (m *Manager) GetConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		err := m.probeLocked(ctx)
		if err == nil {
			return nil
		}
		m.log.Warn("existing connection is no longer valid", "error", err)
		m.disconnectLocked()
	}

	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	return m.probeLocked(ctx)
}

// SendCommand sends one command and waits for its envelope, dialing first
// if there is no handle. An error envelope is returned as *wire.RemoteError
// and keeps the handle; transport and framing faults discard it.
func (m *Manager) SendCommand(ctx context.Context, cmdType string, params map[string]any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		if err := m.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return m.sendLocked(ctx, wire.NewCommand(cmdType, params))
}

// CSMEnabled reports the integration flag seen by the last probe.
func (m *Manager) CSMEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csmEnabled
}

// Connected reports whether a handle is currently held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close drops the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn, m.dec = nil, nil
	m.log.Info("disconnected")
	return err
}

func (m *Manager) connectLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: m.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		m.log.Warn("failed to connect", "error", err)
		return fmt.Errorf("%w (%v)", ErrNotConnected, err)
	}
	m.conn = conn
	m.dec = wire.NewDecoder(conn)
	m.log.Info("connected")
	return nil
}

func (m *Manager) disconnectLocked() {
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn, m.dec = nil, nil
}

func (m *Manager) probeLocked(ctx context.Context) error {
	result, err := m.sendLocked(ctx, wire.NewCommand(probeCommand, nil))
	if err != nil {
		return err
	}
	status, _ := result.(map[string]any)
	enabled, _ := status["enabled"].(bool)
	m.csmEnabled = enabled
	return nil
}

func (m *Manager) sendLocked(ctx context.Context, cmd wire.Command) (any, error) {
	conn := m.conn
	log := m.log.With("command", cmd.Type)

	// Cancelling ctx unblocks the read by closing the socket.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := wire.Write(conn, cmd); err != nil {
		return nil, m.lost(ctx, log, err)
	}

	conn.SetReadDeadline(time.Time{})
	env, err := m.dec.DecodeEnvelope()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = wire.ErrNoData
		}
		return nil, m.lost(ctx, log, err)
	}

	if err := env.Err(); err != nil {
		log.Debug("command returned error", "error", err)
		return nil, err
	}
	log.Debug("command complete")
	return env.Result, nil
}

// lost discards the handle after a transport or framing fault.
func (m *Manager) lost(ctx context.Context, log *slog.Logger, err error) error {
	m.disconnectLocked()
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("command cancelled", "error", ctxErr)
		return ctxErr
	}
	log.Warn("connection lost", "error", err)
	return &ConnectionLostError{Err: err}
}
