// Package gateway is the client-facing edge of VoxGate: the WebSocket endpoint
// that carries browser audio in and pipeline events out, the connection
// manager that tracks live sockets, and the HTTP surface around them.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxkit/voxgate/internal/observe"
	"github.com/voxkit/voxgate/internal/session"
)

// sendTimeout bounds a single write to a client socket.
const sendTimeout = 10 * time.Second

// ConnManager tracks the live client sockets by session id and implements the
// orchestrator's event sink. Sending to a session with no live socket is a
// silent no-op; a failed write evicts the socket so later sends no-op too.
type ConnManager struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn

	metrics *observe.Metrics
	logger  *slog.Logger
}

var _ session.Sender = (*ConnManager)(nil)

// NewConnManager creates an empty connection manager.
func NewConnManager(metrics *observe.Metrics, logger *slog.Logger) *ConnManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		conns:   make(map[string]*websocket.Conn),
		metrics: metrics,
		logger:  logger,
	}
}

// Bind associates a socket with a session id, replacing any previous binding.
func (m *ConnManager) Bind(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	m.conns[sessionID] = conn
	m.mu.Unlock()
}

// Unbind removes the binding, but only if the session is still bound to this
// exact socket. A newer socket that took over the id is left alone.
func (m *ConnManager) Unbind(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	if m.conns[sessionID] == conn {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
}

// Send delivers an event to the session's socket as a JSON text frame.
// Returns nil when no socket is bound. A write failure evicts the socket and
// returns the error; the caller treats it as "client gone", never fatal.
func (m *ConnManager) Send(ctx context.Context, sessionID string, event session.Event) error {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s event: %w", event.Type(), err)
	}

	wctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		m.mu.Lock()
		if m.conns[sessionID] == conn {
			delete(m.conns, sessionID)
		}
		m.mu.Unlock()
		m.logger.Debug("evicting dead client socket", "session_id", sessionID, "error", err)
		return fmt.Errorf("gateway: write to %s: %w", sessionID, err)
	}
	return nil
}

// Count returns the number of live sockets.
func (m *ConnManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// SessionIDs returns the session ids with a live socket, sorted.
func (m *ConnManager) SessionIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}
