package mqttbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store/memory"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeIngest struct {
	got []types.HeartbeatRequest
	res types.HeartbeatResult
	err error
}

func (f *fakeIngest) Heartbeat(_ context.Context, req types.HeartbeatRequest) (types.HeartbeatResult, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

type fakeReports struct {
	mu  sync.Mutex
	got []debounce.Update
}

func (f *fakeReports) Submit(u debounce.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, u)
}

type published struct {
	topic   string
	payload []byte
}

type harness struct {
	bridge  *Bridge
	ingest  *fakeIngest
	reports *fakeReports
	store   *memory.Store
	out     []published
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ms := memory.New()
	ms.PutRoom(store.Room{ID: 1, Name: "Aula 101", Address: "10.0.0.1", InactivityTimeoutMin: 30})

	h := &harness{ingest: &fakeIngest{}, reports: &fakeReports{}, store: ms}
	h.bridge = newBridge(Config{Broker: "tcp://localhost:1883", Prefix: "lumen/"}, Deps{
		Ingest:  h.ingest,
		Reports: h.reports,
		Rooms:   ms,
		Clock:   clockwork.NewFakeClockAt(t0),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, func(topic string, payload []byte) error {
		h.out = append(h.out, published{topic: topic, payload: payload})
		return nil
	})
	return h
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)

	_, err = New(Config{Broker: "tcp://localhost:1883"}, Deps{})
	assert.Error(t, err)
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func TestHeartbeat_PublishesCommands(t *testing.T) {
	h := newHarness(t)
	h.ingest.res = types.HeartbeatResult{
		AulaID:   1,
		Commands: []types.Command{{SensorID: 7, Action: types.ActionToggle, Value: true, Origin: types.OriginRule}},
	}

	h.bridge.handle(context.Background(), "lumen/heartbeat", []byte(`{"ip":"10.0.0.1","sensores":[{"id":9,"estado":1}]}`))

	require.Len(t, h.ingest.got, 1)
	assert.Equal(t, "10.0.0.1", h.ingest.got[0].IP)
	assert.Equal(t, "1", h.ingest.got[0].Sensores[0].Estado.String())

	require.Len(t, h.out, 1)
	assert.Equal(t, "lumen/aulas/1/commands", h.out[0].topic)
	var res types.HeartbeatResult
	require.NoError(t, json.Unmarshal(h.out[0].payload, &res))
	assert.Len(t, res.Commands, 1)
}

func TestHeartbeat_NoCommandsNothingPublished(t *testing.T) {
	h := newHarness(t)
	h.ingest.res = types.HeartbeatResult{AulaID: 1, Commands: []types.Command{}}

	h.bridge.handle(context.Background(), "lumen/heartbeat", []byte(`{"ip":"10.0.0.1","sensores":[]}`))

	assert.Len(t, h.ingest.got, 1)
	assert.Empty(t, h.out)
}

func TestHeartbeat_MalformedPayloadIgnored(t *testing.T) {
	h := newHarness(t)

	h.bridge.handle(context.Background(), "lumen/heartbeat", []byte(`not json`))

	assert.Empty(t, h.ingest.got)
	assert.Empty(t, h.out)
}

// ── Sensor reports ───────────────────────────────────────────────────────────

func TestSensor_SubmitsToDebouncer(t *testing.T) {
	h := newHarness(t)

	h.bridge.handle(context.Background(), "lumen/sensor", []byte(`{"ip":"10.0.0.1","sensor_id":7,"nuevo_estado":"on"}`))

	require.Len(t, h.reports.got, 1)
	u := h.reports.got[0]
	assert.Equal(t, int64(7), u.SensorID)
	assert.Equal(t, int64(1), u.RoomID)
	assert.Equal(t, "on", u.State)
	assert.Equal(t, "10.0.0.1", u.Source)
	assert.True(t, u.At.Equal(t0))

	room, err := h.store.GetRoom(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, room.LastSignal)
	assert.True(t, room.LastSignal.Equal(t0))
}

func TestSensor_Rejected(t *testing.T) {
	for name, payload := range map[string]string{
		"unknown address": `{"ip":"10.9.9.9","sensor_id":7,"nuevo_estado":"on"}`,
		"missing sensor":  `{"ip":"10.0.0.1","nuevo_estado":"on"}`,
		"missing state":   `{"ip":"10.0.0.1","sensor_id":7}`,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.bridge.handle(context.Background(), "lumen/sensor", []byte(payload))
			assert.Empty(t, h.reports.got)
		})
	}
}

func TestCommandTopic(t *testing.T) {
	cfg := Config{Prefix: "campus"}
	assert.Equal(t, "campus/aulas/12/commands", cfg.CommandTopic(12))
}
