// Package session serves live bidirectional connections from room
// controllers and dashboards over WebSocket.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/broadcast"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleThreshold     = 90 * time.Second
	DefaultSendBuffer        = 32
	DefaultWriteTimeout      = 5 * time.Second
)

// Commander applies manual sensor commands.
type Commander interface {
	Command(ctx context.Context, id service.Identity, roomID, sensorID int64, verb, value string) (service.CommandOutcome, error)
}

// Reporter takes device-reported states for coalescing.
type Reporter interface {
	Submit(u debounce.Update)
}

type Config struct {
	HeartbeatInterval time.Duration
	IdleThreshold     time.Duration
	SendBuffer        int
	WriteTimeout      time.Duration
	// OriginPatterns is passed to websocket.Accept. Requests without an
	// Origin header (controllers) are always accepted.
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

type Deps struct {
	Rooms        store.RoomStore
	Router       *broadcast.Router
	Commands     Commander
	Reports      Reporter                  // optional; sensor_report is rejected without it
	Connectivity *service.ConnectivityCache // optional
	Identity     service.IdentityProvider  // optional; nil treats every session as an operator
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

// Manager upgrades requests to sessions and tracks the live ones.
type Manager struct {
	deps   Deps
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(d Deps, cfg Config) *Manager {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Manager{
		deps:     d,
		cfg:      cfg.withDefaults(),
		clock:    d.Clock,
		logger:   d.Logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request and runs the session until the peer goes
// away or the request context ends. Setup failures close the connection
// with a distinct code per cause.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: m.cfg.OriginPatterns})
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("aula_id"))
	if raw == "" {
		m.reject(conn, types.CloseMissingAula, "aula_id is required")
		return
	}
	roomID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || roomID <= 0 {
		m.reject(conn, types.CloseMissingAula, "aula_id must be a positive integer")
		return
	}

	ctx := r.Context()
	room, err := m.deps.Rooms.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		m.reject(conn, types.CloseUnknownAula, "unknown aula")
		return
	}
	if err != nil {
		m.logger.Error("session setup: get room", "aula_id", roomID, "err", err)
		m.reject(conn, types.CloseSetupFailed, "setup failed")
		return
	}

	id, err := m.identify(ctx, r)
	if err != nil {
		m.logger.Warn("session setup: identity", "aula_id", roomID, "err", err)
		m.reject(conn, types.CloseSetupFailed, "authentication failed")
		return
	}

	s := newSession(m, conn, room.ID, id)
	if !m.track(s) {
		m.reject(conn, int(websocket.StatusGoingAway), "server shutting down")
		return
	}
	defer m.untrack(s)

	if err := s.setup(ctx); err != nil {
		m.logger.Error("session setup failed", "aula_id", roomID, "err", err)
		m.reject(conn, types.CloseSetupFailed, "setup failed")
		return
	}
	s.run(ctx)
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session and waits for their teardown. Sessions
// arriving afterwards are refused.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) identify(ctx context.Context, r *http.Request) (service.Identity, error) {
	if m.deps.Identity == nil {
		return service.DefaultOperator, nil
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token, _ = strings.CutPrefix(h, "Bearer ")
	}
	if token == "" {
		return service.Identity{Subject: "anonymous", Role: service.RoleViewer}, nil
	}
	return m.deps.Identity.Resolve(ctx, strings.TrimSpace(token))
}

func (m *Manager) reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.Close(websocket.StatusCode(code), reason)
}

// track registers s before it touches any shared state, so Shutdown either
// sees it or refuses it.
func (m *Manager) track(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	return true
}

func (m *Manager) untrack(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	m.wg.Done()
}
