package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Broker is the subset of pkg/rabbitmq.Client the offload transport needs.
type Broker interface {
	CreateQueue(queueName string) error
	CreateReplyQueue() (string, error)
	Publish(ctx context.Context, queueName string, msg amqp.Publishing) error
	Consume(queueName string, autoAck bool) (<-chan amqp.Delivery, error)
}

// AMQPExecutor sends requests to a work queue and matches replies by
// correlation id on a private reply queue.
type AMQPExecutor struct {
	broker     Broker
	queue      string
	replyQueue string
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan []byte
	alive   atomic.Bool
}

func NewAMQPExecutor(broker Broker, queue string, logger *zap.Logger) (*AMQPExecutor, error) {
	const operation = "dispatch.NewAMQPExecutor"

	if err := broker.CreateQueue(queue); err != nil {
		return nil, fmt.Errorf("%s: declare %s: %w", operation, queue, err)
	}
	replyQueue, err := broker.CreateReplyQueue()
	if err != nil {
		return nil, fmt.Errorf("%s: declare reply queue: %w", operation, err)
	}
	replies, err := broker.Consume(replyQueue, true)
	if err != nil {
		return nil, fmt.Errorf("%s: consume %s: %w", operation, replyQueue, err)
	}

	e := &AMQPExecutor{
		broker:     broker,
		queue:      queue,
		replyQueue: replyQueue,
		logger:     logger,
		pending:    make(map[string]chan []byte),
	}
	e.alive.Store(true)
	go e.listen(replies)
	return e, nil
}

func (e *AMQPExecutor) listen(replies <-chan amqp.Delivery) {
	for d := range replies {
		e.mu.Lock()
		ch, ok := e.pending[d.CorrelationId]
		delete(e.pending, d.CorrelationId)
		e.mu.Unlock()

		if !ok {
			e.logger.Debug("Dropping late offload reply", zap.String("correlation_id", d.CorrelationId))
			continue
		}
		ch <- d.Body
	}
	e.alive.Store(false)
	e.logger.Warn("Offload reply queue closed", zap.String("queue", e.replyQueue))
}

func (e *AMQPExecutor) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	if !e.Available() {
		return nil, ErrOffloadUnavailable
	}

	id := uuid.NewString()
	ch := make(chan []byte, 1)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: id,
		ReplyTo:       e.replyQueue,
		Body:          payload,
	}
	if deadline, ok := ctx.Deadline(); ok {
		msg.Expiration = expiration(deadline)
	}
	if err := e.broker.Publish(ctx, e.queue, msg); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", e.queue, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case body := <-ch:
		return body, nil
	}
}

func (e *AMQPExecutor) Available() bool {
	return e.alive.Load()
}

// expiration converts a context deadline into a per-message TTL in milliseconds.
func expiration(deadline time.Time) string {
	ms := time.Until(deadline).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// Worker consumes the offload queue and answers each request on its reply queue.
type Worker struct {
	broker  Broker
	queue   string
	handler HandlerFunc
	logger  *zap.Logger
}

func NewWorker(broker Broker, queue string, handler HandlerFunc, logger *zap.Logger) *Worker {
	return &Worker{
		broker:  broker,
		queue:   queue,
		handler: handler,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the delivery channel closes.
func (w *Worker) Run(ctx context.Context) error {
	const operation = "dispatch.Worker.Run"

	if err := w.broker.CreateQueue(w.queue); err != nil {
		return fmt.Errorf("%s: declare %s: %w", operation, w.queue, err)
	}
	msgs, err := w.broker.Consume(w.queue, false)
	if err != nil {
		return fmt.Errorf("%s: consume %s: %w", operation, w.queue, err)
	}

	w.logger.Info("Offload worker started", zap.String("queue", w.queue))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Offload worker stopping", zap.String("queue", w.queue))
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", operation)
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	logger := w.logger.With(zap.String("correlation_id", d.CorrelationId))

	body, err := w.handler(ctx, d.Body)
	if err != nil {
		logger.Error("Failed to serve offload request", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Warn("Failed to nack delivery", zap.Error(nackErr))
		}
		return
	}

	if d.ReplyTo != "" {
		err = w.broker.Publish(ctx, d.ReplyTo, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		})
		if err != nil {
			logger.Error("Failed to publish offload reply", zap.Error(err))
		}
	}
	if err := d.Ack(false); err != nil {
		logger.Warn("Failed to ack delivery", zap.Error(err))
	}
}
