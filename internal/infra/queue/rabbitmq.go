package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

// RabbitDigestQueue is a digest job queue on a durable RabbitMQ queue.
type RabbitDigestQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pub   *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

var _ domain.DigestQueue = (*RabbitDigestQueue)(nil)

// NewRabbitDigestQueue dials url and declares queue.
func NewRabbitDigestQueue(url, queue string) (*RabbitDigestQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitDigestQueue{conn: conn, queue: queue, pub: pub}, nil
}

// Enqueue publishes a persistent message.
func (q *RabbitDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive waits for the next delivery. Acknowledging a failure requeues it.
func (q *RabbitDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	q.consumeOnce.Do(q.startConsumer)
	if q.consumeErr != nil {
		return domain.DigestJob{}, nil, q.consumeErr
	}
	var (
		d  amqp.Delivery
		ok bool
	)
	select {
	case <-ctx.Done():
		return domain.DigestJob{}, nil, ctx.Err()
	case d, ok = <-q.deliveries:
	}
	if !ok {
		return domain.DigestJob{}, nil, errors.New("rabbitmq: delivery channel closed")
	}
	var job domain.DigestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		_ = d.Nack(false, false)
		return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	ack := func(success bool) error {
		if success {
			return d.Ack(false)
		}
		return d.Nack(false, true)
	}
	return job, ack, nil
}

func (q *RabbitDigestQueue) startConsumer() {
	ch, err := q.conn.Channel()
	if err != nil {
		q.consumeErr = fmt.Errorf("open consumer channel: %w", err)
		return
	}
	if err := ch.Qos(1, 0, false); err != nil {
		q.consumeErr = fmt.Errorf("set qos: %w", err)
		return
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		q.consumeErr = fmt.Errorf("consume %s: %w", q.queue, err)
		return
	}
	q.deliveries = deliveries
}

// Close closes the connection and every channel on it.
func (q *RabbitDigestQueue) Close() error {
	return q.conn.Close()
}
