package notify

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer from internal/kafka.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// KafkaSink publishes events keyed by order ID, so events of one order keep
// their relative order.
type KafkaSink struct {
	p Publisher
}

// NewKafkaSink creates a KafkaSink.
func NewKafkaSink(p Publisher) *KafkaSink {
	return &KafkaSink{p: p}
}

// Send implements Sink.
func (s *KafkaSink) Send(ctx context.Context, e Event, key, payload []byte) error {
	return s.p.Publish(ctx, key, payload, kafka.Header{Key: "type", Value: []byte(e.Kind)})
}
