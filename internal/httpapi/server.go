// Package httpapi serves the controller ingest endpoints, the read-only
// room queries, the live session upgrade and the metrics scrape.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// maxHistoryLimit caps the history query regardless of ?limit=.
const maxHistoryLimit = 500

type Dependencies struct {
	Logger       *slog.Logger
	Addr         string
	Ingest       *service.IngestService
	Rooms        store.RoomStore
	Sensors      store.SensorStore
	History      store.HistoryStore
	Connectivity *service.ConnectivityCache // optional
	Sessions     http.Handler               // optional, mounted at /ws
	Metrics      http.Handler               // optional, mounted at /metrics
	Clock        clockwork.Clock
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	ingest     *service.IngestService
	rooms      store.RoomStore
	sensors    store.SensorStore
	history    store.HistoryStore
	conn       *service.ConnectivityCache
	clock      clockwork.Clock
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	mux := http.NewServeMux()
	logger := d.Logger.With("component", "http")

	s := &Server{
		logger:  logger,
		mux:     mux,
		ingest:  d.Ingest,
		rooms:   d.Rooms,
		sensors: d.Sensors,
		history: d.History,
		conn:    d.Connectivity,
		clock:   d.Clock,
	}

	mux.HandleFunc("POST /v1/esp32/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/esp32/sensor", s.handleSensorReport)
	mux.HandleFunc("GET /v1/rooms/{id}", s.handleRoom)
	mux.HandleFunc("GET /v1/rooms/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Sessions != nil {
		mux.Handle("GET /ws", d.Sessions)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	handler := loggingMiddleware(logger, recoveryMiddleware(logger, mux))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Ingest ───────────────────────────────────────────────────────────────────

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	c := negotiate(r)
	var req types.HeartbeatRequest
	if err := decodeBody(r, c, &req); err != nil {
		s.badBody(w, c, err)
		return
	}

	resp, err := s.ingest.Heartbeat(r.Context(), req)
	if err != nil {
		s.fail(w, r, c, "heartbeat", err)
		return
	}
	writeData(w, c, http.StatusOK, resp)
}

func (s *Server) handleSensorReport(w http.ResponseWriter, r *http.Request) {
	c := negotiate(r)
	var req types.SensorReportRequest
	if err := decodeBody(r, c, &req); err != nil {
		s.badBody(w, c, err)
		return
	}

	resp, err := s.ingest.ReportSensor(r.Context(), req)
	if err != nil {
		s.fail(w, r, c, "sensor report", err)
		return
	}
	writeData(w, c, http.StatusOK, resp)
}

func (s *Server) badBody(w http.ResponseWriter, c codec, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, c, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}
	s.logger.Debug("undecodable body", "err", err)
	writeError(w, c, http.StatusBadRequest, "bad_body", "invalid request body")
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	c := negotiate(r)
	id, ok := roomID(w, r, c)
	if !ok {
		return
	}

	room, err := s.rooms.GetRoom(r.Context(), id)
	if err != nil {
		s.fail(w, r, c, "get room", err)
		return
	}
	sensors, err := s.sensors.ListSensors(r.Context(), id)
	if err != nil {
		s.fail(w, r, c, "list sensors", err)
		return
	}
	writeData(w, c, http.StatusOK, roomView(room, s.connectivity(room), sensors))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c := negotiate(r)
	id, ok := roomID(w, r, c)
	if !ok {
		return
	}

	limit := store.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, c, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if _, err := s.rooms.GetRoom(r.Context(), id); err != nil {
		s.fail(w, r, c, "get room", err)
		return
	}
	entries, err := s.history.ListHistory(r.Context(), store.HistoryFilter{RoomID: id, Limit: limit})
	if err != nil {
		s.fail(w, r, c, "list history", err)
		return
	}
	writeData(w, c, http.StatusOK, historyViews(entries))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, codecJSON, http.StatusOK, map[string]string{"status": "ok"})
}

// connectivity prefers a fresh cached status over the one derived from the
// stored last signal.
func (s *Server) connectivity(room store.Room) store.Connectivity {
	if s.conn != nil {
		if st, ok := s.conn.Status(room.ID); ok {
			return st
		}
	}
	return room.ConnectivityAt(s.clock.Now())
}

func roomID(w http.ResponseWriter, r *http.Request, c codec) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, c, http.StatusBadRequest, "validation_error", "room id must be a positive integer")
		return 0, false
	}
	return id, true
}
