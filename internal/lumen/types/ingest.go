package types

// Command verbs.
const (
	ActionSet    = "set"
	ActionToggle = "toggle"
)

type SensorReading struct {
	ID     int64      `json:"id"`
	Estado StateValue `json:"estado"`
}

type HeartbeatRequest struct {
	IP       string          `json:"ip"`
	Sensores []SensorReading `json:"sensores"`
}

// Command is an instruction for the room controller, either derived from a
// rule or queued by a manual change.
type Command struct {
	SensorID int64  `json:"sensor_id"`
	Action   string `json:"action"`
	Value    any    `json:"value"`
	Origin   string `json:"origin,omitempty"`
	QueuedAt string `json:"queued_at,omitempty"`
}

// Command origins.
const (
	OriginRule   = "rule"
	OriginManual = "manual"
)

type HeartbeatResult struct {
	AulaID             int64     `json:"aula_id"`
	Commands           []Command `json:"commands"`
	HeartbeatInterval  int       `json:"heartbeat_interval"`
	TimeoutInactividad int       `json:"timeout_inactividad"`
}

type SensorReportRequest struct {
	IP          string     `json:"ip"`
	SensorID    int64      `json:"sensor_id"`
	NuevoEstado StateValue `json:"nuevo_estado"`
}

type SensorReportResult struct {
	SensorID     int64  `json:"sensor_id"`
	EstadoActual string `json:"estado_actual"`
}

// RoomView is the read-only room snapshot served by the query endpoint.
type RoomView struct {
	ID                 int64        `json:"id"`
	Name               string       `json:"nombre"`
	Address            string       `json:"ip"`
	EstadoConexion     string       `json:"estado_conexion"`
	UltimaSenal        string       `json:"ultima_senal,omitempty"`
	TimeoutInactividad int          `json:"timeout_inactividad"`
	AutoShutdown       bool         `json:"apagado_automatico"`
	Sensores           []SensorView `json:"sensores"`
}

type SensorView struct {
	ID          int64  `json:"id"`
	Tipo        string `json:"tipo"`
	Descripcion string `json:"descripcion,omitempty"`
	Estado      string `json:"estado"`
	UpdatedAt   string `json:"updated_at"`
}

type HistoryView struct {
	ID             int64  `json:"id"`
	SensorID       int64  `json:"sensor_id"`
	AulaID         int64  `json:"aula_id"`
	EstadoAnterior string `json:"estado_anterior"`
	EstadoNuevo    string `json:"estado_nuevo"`
	TipoCambio     string `json:"tipo_cambio"`
	Origen         string `json:"origen,omitempty"`
	Nota           string `json:"nota,omitempty"`
	Timestamp      string `json:"timestamp"`
}
