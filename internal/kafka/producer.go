package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/segmentio/kafka-go"
)

var (
	ErrBufferFull = errors.New("kafka producer buffer is full")
	ErrClosed     = errors.New("kafka producer is closed")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer складывает сообщения в буфер и пишет их в Kafka из одной горутины.
// Publish никогда не ждет брокер.
type Producer struct {
	log    *slog.Logger
	w      messageWriter
	source string
	inbox  chan kafka.Message
	done   chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewProducer(log *slog.Logger, brokers []string, topic, source string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newProducer(log, w, source, buf)
}

func newProducer(log *slog.Logger, w messageWriter, source string, buf int) *Producer {
	if buf < 1 {
		buf = 1
	}
	return &Producer{
		log:    log,
		w:      w,
		source: source,
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
	}
}

func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	go func() {
		defer close(p.done)
		for m := range p.inbox {
			// контекст запроса к этому моменту уже завершен, пишем со своим таймаутом
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("failed to write event to kafka",
					slog.String("op", "kafka.Producer.loop"),
					slog.String("key", string(m.Key)),
					slog.Any("error", err),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("failed to close kafka writer", slog.Any("error", err))
		}
	}()
}

// Publish заворачивает событие в конверт и ставит в буфер.
func (p *Producer) Publish(ctx context.Context, ev *models.Event) error {
	const op = "kafka.Producer.Publish"

	env, err := NewOrderEnvelope(p.source, ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s: encode envelope: %w", op, err)
	}
	msg := kafka.Message{
		Key:   PartitionKey(ev.Order.ID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return fmt.Errorf("%s: %w", op, ErrBufferFull)
	}
}

// Close дописывает остаток буфера и закрывает writer.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	started := p.started
	p.mu.Unlock()

	if !started {
		_ = p.w.Close()
		return
	}
	<-p.done
}
