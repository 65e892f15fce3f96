// Package consumer is the shared queue-consumer runtime: one dispatcher
// goroutine feeding a pool of worker goroutines, with acknowledgement
// decided by the handler's error classification. Acknowledgement only
// ever happens after the handler's durable effect is confirmed.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/shared/rabbitmq"
)

// Handler processes one message body. The returned error drives the
// ack/nack decision; a nil return acknowledges (deletes) the message.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// Config holds consumer runtime configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Queue         string
	Handler       Handler
	Concurrency   int
	PrefetchCount int
}

// Consumer runs the poll loop for one queue
type Consumer struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	queue         string
	handler       Handler
	concurrency   int
	prefetchCount int
	workerID      string
	wg            sync.WaitGroup
	stopChan      chan struct{}
	jobsChan      chan amqp.Delivery
}

// New creates a new consumer instance
func New(cfg *Config) *Consumer {
	return &Consumer{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		queue:         cfg.Queue,
		handler:       cfg.Handler,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      fmt.Sprintf("%s-%s", cfg.Queue, uuid.New().String()[:8]),
		stopChan:      make(chan struct{}),
		jobsChan:      make(chan amqp.Delivery),
	}
}

// Start begins consuming until the context is canceled
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.setupConsumer()
	if err != nil {
		return err
	}

	c.spawnWorkerPool(ctx)
	go c.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	c.logger.Info("Consumer context canceled, stopping...",
		slog.String("queue", c.queue),
	)

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...",
		slog.String("queue", c.queue),
	)
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Consumer stopped",
		slog.String("queue", c.queue),
	)
}

// setupConsumer sets QoS and returns the delivery channel
func (c *Consumer) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := c.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// prefetch_count bounds unacknowledged messages per consumer; this
	// is the consumer loop's visibility window.
	err := channel.Qos(
		c.prefetchCount, // prefetch count
		0,               // prefetch size
		false,           // global
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.rabbitClient.Consume(c.queue, c.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Consumer started",
		slog.String("queue", c.queue),
		slog.String("worker_id", c.workerID),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher feeds deliveries to the worker pool
func (c *Consumer) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.logger.Info("Message dispatcher started",
		slog.String("worker_id", c.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed",
					slog.String("queue", c.queue),
				)
				return
			}

			select {
			case c.jobsChan <- delivery:
			case <-ctx.Done():
				c.logger.Info("Message dispatcher stopped while dispatching")
				// NACK so the message can be reprocessed elsewhere.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (c *Consumer) spawnWorkerPool(ctx context.Context) {
	c.logger.Info("Spawning worker pool",
		slog.Int("concurrency", c.concurrency),
		slog.String("worker_id", c.workerID),
	)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (c *Consumer) workerLoop(ctx context.Context, workerNum int) {
	defer c.wg.Done()

	workerName := fmt.Sprintf("%s-%d", c.workerID, workerNum)
	c.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-c.stopChan:
			c.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			c.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case delivery, ok := <-c.jobsChan:
			if !ok {
				return
			}

			err := c.handler.Handle(ctx, delivery.Body)
			c.settle(workerName, delivery, err)
		}
	}
}

// settle acks or nacks the delivery based on the handler's error
func (c *Consumer) settle(workerName string, delivery amqp.Delivery, err error) {
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	// Lost duplicate-delivery race: the winner already owns this job.
	// The message is deliberately left unacknowledged so duplicate work
	// remains visible and the broker redelivers or expires it.
	if errors.Is(err, ErrHoldMessage) {
		c.logger.Warn("Message held, not acknowledged",
			slog.String("worker_name", workerName),
			slog.String("error", err.Error()),
		)
		return
	}

	requeue := c.shouldRequeue(err)

	c.logger.Error("Message processing failed",
		slog.String("worker_name", workerName),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeue determines if a message should be requeued based on the error type
func (c *Consumer) shouldRequeue(err error) bool {
	// Malformed messages go to the dead-letter path, never back on the queue
	if errors.Is(err, ErrMalformedMessage) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
