// Package mqttbridge lets room controllers report over MQTT instead of
// HTTP. Heartbeats go through the ingest service and any resulting
// commands are published back to the room's command topic; single sensor
// reports are coalesced by the debouncer.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

const (
	DefaultPrefix         = "lumen"
	DefaultConnectTimeout = 10 * time.Second
	disconnectQuiesceMs   = 250
)

type Config struct {
	Broker   string // tcp://host:1883
	ClientID string // generated when empty
	Prefix   string // topic prefix, DefaultPrefix when empty
	QoS      byte
}

func (c Config) heartbeatTopic() string { return c.Prefix + "/heartbeat" }
func (c Config) sensorTopic() string    { return c.Prefix + "/sensor" }

// CommandTopic is where commands for a room are published.
func (c Config) CommandTopic(roomID int64) string {
	return fmt.Sprintf("%s/aulas/%d/commands", c.Prefix, roomID)
}

// Heartbeater handles a batched controller report.
type Heartbeater interface {
	Heartbeat(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResult, error)
}

// Reporter takes device-reported states for coalescing.
type Reporter interface {
	Submit(u debounce.Update)
}

type Deps struct {
	Ingest  Heartbeater
	Reports Reporter
	Rooms   store.RoomStore
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type publishFunc func(topic string, payload []byte) error

type Bridge struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	publish publishFunc
}

func New(cfg Config, d Deps) (*Bridge, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if d.Ingest == nil || d.Reports == nil || d.Rooms == nil {
		return nil, errors.New("mqtt bridge needs ingest, reports and rooms")
	}
	return newBridge(cfg, d, nil), nil
}

func newBridge(cfg Config, d Deps, publish publishFunc) *Bridge {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "lumen-server-" + uuid.NewString()[:8]
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		deps:    d,
		logger:  d.Logger.With("component", "mqtt", "broker", cfg.Broker),
		publish: publish,
	}
}

// Run connects, subscribes and serves messages until ctx is done. The
// client reconnects on its own; subscriptions are renewed on every connect.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.subscribe(ctx, c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	b.publish = func(topic string, payload []byte) error {
		tok := client.Publish(topic, b.cfg.QoS, false, payload)
		if !tok.WaitTimeout(DefaultConnectTimeout) {
			return fmt.Errorf("publish %s: timed out", topic)
		}
		return tok.Error()
	}

	tok := client.Connect()
	if !tok.WaitTimeout(DefaultConnectTimeout) {
		b.logger.Warn("broker not reachable yet, retrying in background")
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesceMs)
	b.logger.Info("mqtt bridge stopped")
	return nil
}

func (b *Bridge) subscribe(ctx context.Context, c mqtt.Client) {
	topics := map[string]byte{
		b.cfg.heartbeatTopic(): b.cfg.QoS,
		b.cfg.sensorTopic():    b.cfg.QoS,
	}
	tok := c.SubscribeMultiple(topics, func(_ mqtt.Client, m mqtt.Message) {
		b.handle(ctx, m.Topic(), m.Payload())
	})
	if tok.WaitTimeout(DefaultConnectTimeout) && tok.Error() != nil {
		b.logger.Error("subscribe failed", "err", tok.Error())
		return
	}
	b.logger.Info("subscribed", "prefix", b.cfg.Prefix)
}

// handle dispatches one message by topic. Errors are logged; a bad message
// never stops the bridge.
func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) {
	var err error
	switch topic {
	case b.cfg.heartbeatTopic():
		err = b.handleHeartbeat(ctx, payload)
	case b.cfg.sensorTopic():
		err = b.handleSensor(ctx, payload)
	default:
		err = errors.New("unexpected topic")
	}
	if err != nil {
		b.logger.Warn("message rejected", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleHeartbeat(ctx context.Context, payload []byte) error {
	var req types.HeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	res, err := b.deps.Ingest.Heartbeat(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Commands) == 0 || b.publish == nil {
		return nil
	}
	out, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}
	return b.publish(b.cfg.CommandTopic(res.AulaID), out)
}

func (b *Bridge) handleSensor(ctx context.Context, payload []byte) error {
	var req types.SensorReportRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode sensor report: %w", err)
	}
	ip := strings.TrimSpace(req.IP)
	if ip == "" || req.SensorID <= 0 || req.NuevoEstado == "" {
		return errors.New("ip, sensor_id and nuevo_estado are required")
	}
	room, err := b.deps.Rooms.GetRoomByAddress(ctx, ip)
	if err != nil {
		return fmt.Errorf("room for %s: %w", ip, err)
	}
	now := b.deps.Clock.Now()
	if err := b.deps.Rooms.TouchRoom(ctx, room.ID, now.UTC()); err != nil {
		return fmt.Errorf("touch room %d: %w", room.ID, err)
	}
	b.deps.Reports.Submit(debounce.Update{
		SensorID: req.SensorID,
		RoomID:   room.ID,
		State:    req.NuevoEstado.String(),
		Source:   ip,
		At:       now,
	})
	return nil
}
