// Package eventsink publishes sensor history entries to Kafka so that
// downstream consumers see every state change without polling the store.
package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

const (
	DefaultQueueSize    = 256
	DefaultBatchSize    = 50
	DefaultWriteTimeout = 5 * time.Second
)

type Config struct {
	Brokers      []string
	Topic        string
	QueueSize    int
	BatchSize    int
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a service.HistorySink. Publish only queues; a single Run
// loop writes batches to the topic. Entries are dropped, with a warning,
// when the queue is full.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	writer messageWriter
	queue  chan store.HistoryEntry

	mu      sync.Mutex
	dropped int64
}

// New builds a Publisher writing to cfg.Topic on cfg.Brokers. Messages are
// keyed by room so one room's changes stay ordered within a partition.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newWithWriter(cfg, logger, w), nil
}

func newWithWriter(cfg Config, logger *slog.Logger, w messageWriter) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "eventsink", "topic", cfg.Topic),
		writer: w,
		queue:  make(chan store.HistoryEntry, cfg.QueueSize),
	}
}

// Publish queues entries for the writer loop. It never blocks.
func (p *Publisher) Publish(_ context.Context, entries ...store.HistoryEntry) {
	for _, e := range entries {
		select {
		case p.queue <- e:
		default:
			p.mu.Lock()
			p.dropped++
			n := p.dropped
			p.mu.Unlock()
			p.logger.Warn("history queue full, dropping entry", "history_id", e.ID, "dropped_total", n)
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run writes queued entries until ctx is done, then drains what is left
// and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("history publisher started")
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("closing kafka writer", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case e := <-p.queue:
			batch := p.collect(e)
			p.write(ctx, batch)
		}
	}
}

// collect gathers whatever else is already queued, up to the batch size.
func (p *Publisher) collect(first store.HistoryEntry) []store.HistoryEntry {
	batch := []store.HistoryEntry{first}
	for len(batch) < p.cfg.BatchSize {
		select {
		case e := <-p.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()
	for {
		select {
		case e := <-p.queue:
			p.write(ctx, p.collect(e))
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, batch []store.HistoryEntry) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, e := range batch {
		m, err := message(e)
		if err != nil {
			p.logger.Error("encode history entry", "history_id", e.ID, "err", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return
	}

	// A batch already taken off the queue is written even during shutdown.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(wctx, msgs...); err != nil {
		p.logger.Error("publish history batch", "entries", len(msgs), "err", err)
		return
	}
	p.logger.Debug("published history batch", "entries", len(msgs))
}

func message(e store.HistoryEntry) (kafka.Message, error) {
	value, err := json.Marshal(types.HistoryView{
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
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(e.RoomID, 10)),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}
