package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// ── Rooms ────────────────────────────────────────────────────────────────────

func roomView(r store.Room, status store.Connectivity, sensors []store.Sensor) types.RoomView {
	v := types.RoomView{
		ID:                 r.ID,
		Name:               r.Name,
		Address:            r.Address,
		EstadoConexion:     string(status),
		TimeoutInactividad: r.InactivityTimeoutMin,
		AutoShutdown:       r.AutoShutdown,
		Sensores:           make([]types.SensorView, 0, len(sensors)),
	}
	if r.LastSignal != nil {
		v.UltimaSenal = types.Timestamp(*r.LastSignal)
	}
	for _, sn := range sensors {
		v.Sensores = append(v.Sensores, sensorView(sn))
	}
	return v
}

func sensorView(sn store.Sensor) types.SensorView {
	v := types.SensorView{
		ID:          sn.ID,
		Tipo:        string(sn.Type),
		Descripcion: sn.Description,
		Estado:      sn.State,
	}
	if !sn.UpdatedAt.IsZero() {
		v.UpdatedAt = sn.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// ── History ──────────────────────────────────────────────────────────────────

func historyViews(entries []store.HistoryEntry) []types.HistoryView {
	out := make([]types.HistoryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.HistoryView{
			ID:             e.ID,
			SensorID:       e.SensorID,
			AulaID:         e.RoomID,
			EstadoAnterior: e.Previous,
			EstadoNuevo:    e.Next,
			TipoCambio:     string(e.Kind),
			Origen:         e.Source,
			Nota:           e.Note,
			Timestamp:      types.Timestamp(e.CreatedAt),
		})
	}
	return out
}
