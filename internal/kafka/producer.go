// Package kafka wraps segmentio/kafka-go with a buffered producer and a
// manually committing consumer.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Publish after the producer stopped.
	ErrClosed = errors.New("producer closed")
	// ErrBufferFull is returned by Publish when the writer is behind.
	ErrBufferFull = errors.New("producer buffer full")
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages and writes them from a single goroutine, so
// callers never wait on the broker.
type Producer struct {
	w     messageWriter
	inbox chan kafka.Message
	done  chan struct{}
	lg    *zap.Logger
}

// NewProducer creates a producer for topic. Messages with the same key land
// on the same partition.
func NewProducer(brokers []string, topic string, buf int, lg *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, buf, lg)
}

func newProducer(w messageWriter, buf int, lg *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		lg:    lg,
	}
}

// Run writes buffered messages until ctx is cancelled, then flushes what is
// left and closes the writer.
func (p *Producer) Run(ctx context.Context) error {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return p.w.Close()
		case m := <-p.inbox:
			p.write(m)
		}
	}
}

func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.lg.Error("Kafka write failed",
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Publish enqueues a message without waiting. A full buffer yields
// ErrBufferFull.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}
