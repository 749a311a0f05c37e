package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

// RabbitDetectionQueue реализует очередь задач через AMQP.
type RabbitDetectionQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.DetectionQueue = (*RabbitDetectionQueue)(nil)

// NewRabbitDetectionQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitDetectionQueue(amqpURL, queue string) (*RabbitDetectionQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare: %w", err)
	}
	// Проходы выполняются строго по одному.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &RabbitDetectionQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDetectionQueue) Enqueue(ctx context.Context, job domain.DetectionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
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

// Receive ждёт следующую задачу.
func (q *RabbitDetectionQueue) Receive(ctx context.Context) (domain.DetectionJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.DetectionJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.DetectionJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.DetectionJob{}, nil, errors.New("amqp: канал доставки закрыт")
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				return domain.DetectionJob{}, nil, err
			}
			return job, func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}, nil
		}
	}
}

func (q *RabbitDetectionQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает соединение с брокером.
func (q *RabbitDetectionQueue) Close() error {
	return q.conn.Close()
}

func decodeJob(body []byte) (domain.DetectionJob, error) {
	var job domain.DetectionJob
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.DetectionJob{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Cause == "" {
		return domain.DetectionJob{}, errors.New("decode job: не указана причина")
	}
	return job, nil
}
