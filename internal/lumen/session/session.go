package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// Session is one live connection. It is bound to one current room at a
// time, but may be joined to other rooms' groups by subscription.
type Session struct {
	id       string
	m        *Manager
	conn     *websocket.Conn
	identity service.Identity
	logger   *slog.Logger
	send     chan any

	connectedAt time.Time

	mu       sync.Mutex
	room     int64
	lastSeen time.Time

	cancel context.CancelFunc
	ctxMu  sync.Mutex
	closed bool
}

func newSession(m *Manager, conn *websocket.Conn, room int64, id service.Identity) *Session {
	sid := uuid.NewString()
	now := m.clock.Now()
	return &Session{
		id:          sid,
		m:           m,
		conn:        conn,
		identity:    id,
		logger:      m.logger.With("session_id", sid, "subject", id.Subject),
		send:        make(chan any, m.cfg.SendBuffer),
		connectedAt: now,
		room:        room,
		lastSeen:    now,
	}
}

// Deliver queues msg for the writer. It never blocks: when the send
// buffer is full the message is dropped.
func (s *Session) Deliver(msg any) bool {
	select {
	case s.send <- msg:
		return true
	default:
		s.logger.Warn("send buffer full, dropping message")
		return false
	}
}

func (s *Session) currentRoom() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// setup records the signal and queues connection_established. Nothing is
// joined yet, so a failure here leaves no trace in the router.
func (s *Session) setup(ctx context.Context) error {
	if err := s.m.deps.Rooms.TouchRoom(ctx, s.room, s.connectedAt.UTC()); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	if c := s.m.deps.Connectivity; c != nil {
		c.MarkOnline(s.room)
	}
	s.Deliver(types.ConnectionEstablished{
		Type:      types.MsgConnectionEstablished,
		AulaID:    s.room,
		SessionID: s.id,
		Timestamp: types.Timestamp(s.connectedAt),
	})
	return nil
}

func (s *Session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.ctxMu.Lock()
	s.cancel = cancel
	closed := s.closed
	s.ctxMu.Unlock()
	defer cancel()
	if closed {
		_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	s.m.deps.Router.Join(s.room, s)
	s.logger.Info("session connected", "aula_id", s.room, "remote_role", s.identity.Role)

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, writerDone)

	hbCtx, hbCancel := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go s.heartbeatLoop(hbCtx, hbDone)

	err := s.readLoop(ctx)

	// The heartbeat loop must be gone before the group is left and the
	// connection closed, so it never broadcasts on behalf of a dead session.
	hbCancel()
	<-hbDone
	s.m.deps.Router.LeaveAll(s)
	cancel()
	<-writerDone
	_ = s.conn.Close(websocket.StatusNormalClosure, "")

	s.logger.Info("session disconnected", "aula_id", s.currentRoom(),
		"uptime", s.m.clock.Since(s.connectedAt).Round(time.Second), "reason", closeReason(err))
}

// stop ends the session from the server side.
func (s *Session) stop() {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, s.m.cfg.WriteTimeout)
			err := wsjson.Write(wctx, s.conn, msg)
			cancel()
			if err != nil {
				s.logger.Debug("write failed", "err", err)
				s.stop()
				return
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := s.m.clock.NewTicker(s.m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.beat(ctx)
		}
	}
}

func (s *Session) beat(ctx context.Context) {
	now := s.m.clock.Now()
	room := s.currentRoom()

	estado := store.Unknown
	if r, err := s.m.deps.Rooms.GetRoom(ctx, room); err == nil {
		estado = r.ConnectivityAt(now)
	}
	if ctx.Err() != nil {
		return
	}
	s.m.deps.Router.Broadcast(room, types.AulaHeartbeat{
		Type:      types.MsgAulaHeartbeat,
		AulaID:    room,
		Timestamp: types.Timestamp(now),
		Estado:    string(estado),
		Uptime:    int64(now.Sub(s.connectedAt) / time.Second),
	})

	s.mu.Lock()
	idle := now.Sub(s.lastSeen)
	s.mu.Unlock()
	if idle > s.m.cfg.IdleThreshold {
		// Observe only; the peer may still be listening.
		s.logger.Warn("peer has not answered heartbeats", "aula_id", room, "idle", idle.Round(time.Second))
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var in types.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.fail("invalid message format")
			continue
		}
		s.handle(ctx, in)
	}
}

// handle processes one inbound message. Every failure becomes an error
// event; none of them end the session.
func (s *Session) handle(ctx context.Context, in types.Inbound) {
	switch in.Type {
	case types.MsgHeartbeat:
		now := s.m.clock.Now()
		s.mu.Lock()
		s.lastSeen = now
		room := s.room
		s.mu.Unlock()
		if c := s.m.deps.Connectivity; c != nil {
			c.MarkOnline(room)
		}
		s.Deliver(types.HeartbeatResponse{Type: types.MsgHeartbeatResponse, Timestamp: types.Timestamp(now)})

	case types.MsgSubscribeAula:
		if in.AulaID <= 0 {
			s.fail("aula_id is required")
			return
		}
		if _, err := s.m.deps.Rooms.GetRoom(ctx, in.AulaID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.fail(fmt.Sprintf("unknown aula %d", in.AulaID))
				return
			}
			s.logger.Error("subscribe: get room", "aula_id", in.AulaID, "err", err)
			s.fail("internal error")
			return
		}
		s.mu.Lock()
		from := s.room
		s.room = in.AulaID
		s.mu.Unlock()
		s.m.deps.Router.Move(s, from, in.AulaID)
		s.logger.Debug("subscribed", "from", from, "to", in.AulaID)

	case types.MsgUnsubscribeAula:
		if in.AulaID <= 0 {
			s.fail("aula_id is required")
			return
		}
		s.m.deps.Router.Leave(in.AulaID, s)

	case types.MsgSensorCommand:
		out, err := s.m.deps.Commands.Command(ctx, s.identity, s.currentRoom(), in.SensorID, in.Action, in.Value.String())
		if err != nil {
			s.fail(err.Error())
			return
		}
		s.Deliver(types.CommandExecuted{
			Type:           types.MsgCommandExecuted,
			SensorID:       out.Entry.SensorID,
			Action:         out.Update.Action,
			Value:          out.Update.Value,
			EstadoAnterior: out.Entry.Previous,
			EstadoNuevo:    out.Entry.Next,
			Timestamp:      out.Update.Timestamp,
		})

	case types.MsgSensorReport:
		if s.m.deps.Reports == nil {
			s.fail("sensor reports are not accepted")
			return
		}
		if in.SensorID <= 0 || in.Estado == "" {
			s.fail("sensor_id and estado are required")
			return
		}
		s.m.deps.Reports.Submit(debounce.Update{
			SensorID: in.SensorID,
			RoomID:   s.currentRoom(),
			State:    in.Estado.String(),
			Source:   "session:" + s.id,
			At:       s.m.clock.Now(),
		})

	default:
		s.fail(fmt.Sprintf("unknown message type %q", in.Type))
	}
}

func (s *Session) fail(msg string) {
	s.Deliver(types.NewErrorMessage(msg))
}

func closeReason(err error) string {
	if err == nil {
		return "server"
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return code.String()
	}
	return err.Error()
}
