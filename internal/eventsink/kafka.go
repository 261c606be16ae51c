// Package eventsink forwards coordinator events to Kafka for downstream
// consumers (device history, alerting). Export is best effort: the relay
// never waits on Kafka.
package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"camlink/internal/coordinator"
	"camlink/internal/metrics"
)

// Config holds Kafka sink configuration.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	QueueSize    int
	FlushEvery   time.Duration
	BatchTimeout time.Duration // how long the writer holds a partial batch
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink batches events and writes them keyed by device ID, so every event
// of one camera lands on the same partition in order.
type Sink struct {
	cfg    Config
	writer messageWriter
	logger *slog.Logger

	in     chan kafka.Message
	stopCh chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	unsub func()
}

// New builds a sink writing to cfg.Topic on cfg.Brokers.
func New(cfg Config, logger *slog.Logger) *Sink {
	cfg.setDefaults()
	return newSink(cfg, newWriter(cfg), logger)
}

// newWriter builds the Kafka writer. The sink already batches, so the
// writer's own batch timeout is kept short; left at the library default of
// one second every flush would stall that long.
func newWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

func newSink(cfg Config, w messageWriter, logger *slog.Logger) *Sink {
	cfg.setDefaults()
	return &Sink{
		cfg:    cfg,
		writer: w,
		logger: logger.With("component", "eventsink"),
		in:     make(chan kafka.Message, cfg.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Attach subscribes the sink to every event on bus and starts the writer
// loop.
func (s *Sink) Attach(bus *coordinator.EventBus) {
	s.mu.Lock()
	s.unsub = bus.OnAll(s.Enqueue)
	s.mu.Unlock()
	go s.loop()
	s.logger.Info("kafka event sink started", "topic", s.cfg.Topic, "brokers", s.cfg.Brokers)
}

// Enqueue queues one event. Events are dropped when the queue is full so a
// slow broker never stalls message dispatch.
func (s *Sink) Enqueue(event coordinator.Event) {
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("encode event", "type", event.Type, "err", err)
		metrics.EventsExported("dropped", 1)
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.DeviceID),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	select {
	case s.in <- msg:
	default:
		metrics.EventsExported("dropped", 1)
		s.logger.Debug("event queue full, dropping", "type", event.Type, "device", event.DeviceID)
	}
}

func (s *Sink) loop() {
	defer close(s.done)

	batch := make([]kafka.Message, 0, s.cfg.BatchSize)
	t := time.NewTicker(s.cfg.FlushEvery)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err := s.writer.WriteMessages(ctx, batch...)
		cancel()
		if err != nil {
			s.logger.Warn("kafka write", "events", len(batch), "err", err)
			metrics.EventsExported("failed", len(batch))
		} else {
			metrics.EventsExported("written", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case m := <-s.in:
			batch = append(batch, m)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-t.C:
			flush()
		case <-s.stopCh:
			// Take what is already queued, then stop.
			for {
				select {
				case m := <-s.in:
					batch = append(batch, m)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop unsubscribes, flushes queued events and closes the writer.
func (s *Sink) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	close(s.stopCh)
	<-s.done
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("close kafka writer", "err", err)
	}
	s.logger.Info("kafka event sink stopped")
}
