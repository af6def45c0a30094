package types

import "time"

// Inbound message types on a live session.
const (
	MsgHeartbeat       = "heartbeat"
	MsgSubscribeAula   = "subscribe_aula"
	MsgUnsubscribeAula = "unsubscribe_aula"
	MsgSensorCommand   = "sensor_command"
	MsgSensorReport    = "sensor_report"
)

// Outbound message types.
const (
	MsgConnectionEstablished = "connection_established"
	MsgHeartbeatResponse     = "heartbeat_response"
	MsgAulaHeartbeat         = "aula_heartbeat"
	MsgSensorUpdate          = "sensor_update"
	MsgCommandExecuted       = "command_executed"
	MsgError                 = "error"
)

// Close codes sent when a session cannot be established.
const (
	CloseSetupFailed = 4000
	CloseMissingAula = 4001
	CloseUnknownAula = 4002
)

// Inbound is the union of every client message; Type selects which fields
// are meaningful.
type Inbound struct {
	Type     string     `json:"type"`
	AulaID   int64      `json:"aula_id,omitempty"`
	SensorID int64      `json:"sensor_id,omitempty"`
	Action   string     `json:"action,omitempty"`
	Value    StateValue `json:"value,omitempty"`
	Estado   StateValue `json:"estado,omitempty"`
}

type ConnectionEstablished struct {
	Type      string `json:"type"`
	AulaID    int64  `json:"aula_id"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type HeartbeatResponse struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type AulaHeartbeat struct {
	Type      string `json:"type"`
	AulaID    int64  `json:"aula_id"`
	Timestamp string `json:"timestamp"`
	Estado    string `json:"estado"`
	Uptime    int64  `json:"uptime"`
}

type SensorUpdate struct {
	Type           string `json:"type"`
	AulaID         int64  `json:"aula_id"`
	SensorID       int64  `json:"sensor_id"`
	Action         string `json:"action"`
	Value          any    `json:"value"`
	EstadoAnterior string `json:"estado_anterior"`
	EstadoNuevo    string `json:"estado_nuevo"`
	TipoCambio     string `json:"tipo_cambio,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type CommandExecuted struct {
	Type           string `json:"type"`
	SensorID       int64  `json:"sensor_id"`
	Action         string `json:"action"`
	Value          any    `json:"value"`
	EstadoAnterior string `json:"estado_anterior"`
	EstadoNuevo    string `json:"estado_nuevo"`
	Timestamp      string `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: msg}
}

// Timestamp formats t the way every outbound message carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
