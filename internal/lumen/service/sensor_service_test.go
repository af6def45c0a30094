package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

var operator = service.Identity{Subject: "ana", Role: service.RoleOperator}

// ── Command ──────────────────────────────────────────────────────────────

func TestCommand_ToggleLightOffToOn(t *testing.T) {
	f := newFixture(t)
	svc := f.sensors()

	out, err := svc.Command(context.Background(), operator, 1, 7, "toggle", "")
	require.NoError(t, err)

	assert.Equal(t, store.StateOn, f.sensor(t, 7).State)

	h := f.history(t, store.HistoryFilter{SensorID: 7})
	require.Len(t, h, 1)
	assert.Equal(t, store.StateOff, h[0].Previous)
	assert.Equal(t, store.StateOn, h[0].Next)
	assert.Equal(t, store.ChangeManual, h[0].Kind)
	assert.Equal(t, "ana", h[0].Source)
	assert.Equal(t, out.Entry, h[0])

	ups := f.out.updates(1)
	require.Len(t, ups, 1)
	assert.Equal(t, types.MsgSensorUpdate, ups[0].Type)
	assert.Equal(t, int64(7), ups[0].SensorID)
	assert.Equal(t, "toggle", ups[0].Action)
	assert.Equal(t, "false", ups[0].EstadoAnterior)
	assert.Equal(t, "true", ups[0].EstadoNuevo)
	assert.Empty(t, f.out.updates(2))
}

func TestCommand_QueuesDeviceCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.sensors().Command(context.Background(), operator, 1, 8, "toggle", "")
	require.NoError(t, err)

	cmds := f.queue.Drain(1)
	require.Len(t, cmds, 1)
	assert.Equal(t, int64(8), cmds[0].SensorID)
	assert.Equal(t, false, cmds[0].Value)
	assert.Equal(t, types.OriginManual, cmds[0].Origin)
}

func TestCommand_SetAssignsLiteral(t *testing.T) {
	f := newFixture(t)
	_, err := f.sensors().Command(context.Background(), operator, 1, 11, "set", "open")
	require.NoError(t, err)

	assert.Equal(t, "open", f.sensor(t, 11).State)
	assert.Equal(t, 0, f.queue.Len(1), "windows are not switchable")
}

func TestCommand_ToggleNonSwitchableUsesValue(t *testing.T) {
	f := newFixture(t)
	svc := f.sensors()

	_, err := svc.Command(context.Background(), operator, 1, 11, "toggle", "open")
	require.NoError(t, err)
	assert.Equal(t, "open", f.sensor(t, 11).State)

	_, err = svc.Command(context.Background(), operator, 1, 9, "toggle", "")
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestCommand_CrossRoomRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.sensors().Command(context.Background(), operator, 1, 20, "toggle", "")

	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Equal(t, store.StateOn, f.sensor(t, 20).State)
	assert.Empty(t, f.history(t, store.HistoryFilter{}))
	assert.Empty(t, f.out.updates(1))
	assert.Empty(t, f.out.updates(2))
}

func TestCommand_Errors(t *testing.T) {
	f := newFixture(t)
	svc := f.sensors()
	ctx := context.Background()

	_, err := svc.Command(ctx, operator, 1, 999, "toggle", "")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = svc.Command(ctx, operator, 1, 7, "explode", "")
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.Command(ctx, operator, 1, 7, "set", "  ")
	assert.ErrorIs(t, err, service.ErrValidation)

	viewer := service.Identity{Subject: "guest", Role: service.RoleViewer}
	_, err = svc.Command(ctx, viewer, 1, 7, "toggle", "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	assert.Empty(t, f.history(t, store.HistoryFilter{}))
	assert.Equal(t, store.StateOff, f.sensor(t, 7).State)
}

// ── ApplyReported ────────────────────────────────────────────────────────

func TestApplyReported_PersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	at := t0.Add(time.Second)

	err := f.sensors().ApplyReported(context.Background(), debounce.Update{
		SensorID: 7, RoomID: 1, State: "true", Source: "session", At: at,
	})
	require.NoError(t, err)

	sn := f.sensor(t, 7)
	assert.Equal(t, "true", sn.State)
	assert.True(t, sn.UpdatedAt.Equal(at))

	h := f.history(t, store.HistoryFilter{SensorID: 7})
	require.Len(t, h, 1)
	assert.Equal(t, store.ChangeDeviceReported, h[0].Kind)

	ups := f.out.updates(1)
	require.Len(t, ups, 1)
	assert.Equal(t, string(store.ChangeDeviceReported), ups[0].TipoCambio)
}

func TestApplyReported_UnchangedIsNoop(t *testing.T) {
	f := newFixture(t)
	err := f.sensors().ApplyReported(context.Background(), debounce.Update{SensorID: 8, RoomID: 1, State: store.StateOn})
	require.NoError(t, err)

	assert.Empty(t, f.history(t, store.HistoryFilter{}))
	assert.Empty(t, f.out.updates(1))
}

func TestApplyReported_WrongRoom(t *testing.T) {
	f := newFixture(t)
	err := f.sensors().ApplyReported(context.Background(), debounce.Update{SensorID: 20, RoomID: 1, State: "false"})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

// ── Auth ─────────────────────────────────────────────────────────────────

func TestParseStaticTokens(t *testing.T) {
	tokens, err := service.ParseStaticTokens([]string{"abc=ana:admin", " xyz=bo:viewer ", ""})
	require.NoError(t, err)

	id, err := tokens.Resolve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, service.Identity{Subject: "ana", Role: service.RoleAdmin}, id)

	_, err = tokens.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = service.ParseStaticTokens([]string{"abc=ana:root"})
	assert.Error(t, err)
	_, err = service.ParseStaticTokens([]string{"abc"})
	assert.Error(t, err)
}

// ── CommandQueue ─────────────────────────────────────────────────────────

func TestCommandQueue_FIFOAndDepth(t *testing.T) {
	q := service.NewCommandQueue(2)
	q.Enqueue(1, types.Command{SensorID: 1})
	q.Enqueue(1, types.Command{SensorID: 2})
	q.Enqueue(1, types.Command{SensorID: 3})
	q.Enqueue(2, types.Command{SensorID: 9})

	got := q.Drain(1)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].SensorID)
	assert.Equal(t, int64(3), got[1].SensorID)
	assert.Empty(t, q.Drain(1))
	assert.Equal(t, 1, q.Len(2))
}
