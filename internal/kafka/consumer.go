package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil only when the message was fully processed and its
// offset may be committed. Errors are treated as transient: the message is
// retried until it succeeds, so handlers must acknowledge poison messages
// themselves.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// laneBuffer lets other partitions keep flowing while one lane retries.
const laneBuffer = 16

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// Workers is the number of partition lanes. Messages of one partition
	// always go to the same lane.
	Workers    int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Consumer reads a topic within a consumer group and commits offsets only
// after the handler succeeds. Within a partition, messages are handled and
// committed in offset order.
type Consumer struct {
	r          messageReader
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
	lg         *zap.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(cfg ConsumerConfig, lg *zap.Logger) *Consumer {
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	}), cfg, lg)
}

func newConsumer(r messageReader, cfg ConsumerConfig, lg *zap.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(30*time.Second, cfg.Backoff)
	}
	return &Consumer{
		r:          r,
		workers:    cfg.Workers,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		lg:         lg,
	}
}

// Run dispatches messages to h until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	defer func() { _ = c.r.Close() }()

	lanes := make([]chan kafka.Message, c.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := range lanes {
		lane := make(chan kafka.Message, laneBuffer)
		lanes[i] = lane
		g.Go(func() error {
			for m := range lane {
				if !c.handle(ctx, h, m) {
					return nil
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			m, err := c.r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "fetch message")
			}
			select {
			case lanes[m.Partition%len(lanes)] <- m:
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// handle retries m until h succeeds and then commits it. It reports false
// when ctx ended first; the offset is left uncommitted for redelivery.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	lg := c.lg.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		delay := min(c.backoff*time.Duration(attempt), c.maxBackoff)
		lg.Warn("Message handler failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		lg.Error("Commit failed", zap.Error(err))
	}
	return true
}
