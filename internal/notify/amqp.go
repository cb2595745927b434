package notify

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by AMQPSink.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a durable RabbitMQ queue.
type AMQPSink struct {
	mu    sync.Mutex
	ch    Channel
	queue string
}

// NewAMQPSink declares queue and returns a sink publishing to it.
func NewAMQPSink(ch Channel, queue string) (*AMQPSink, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %q", queue)
	}
	return &AMQPSink{ch: ch, queue: queue}, nil
}

// Send implements Sink. amqp channels are not safe for concurrent publishing.
func (s *AMQPSink) Send(ctx context.Context, e Event, key, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Type:          string(e.Kind),
		CorrelationId: string(key),
		Timestamp:     e.At,
		Body:          payload,
	})
}
