// Package scheduler delivers time-delayed signals through the broker.
// Signals are parked in a Redis sorted set scored by their fire time; a
// mover loop republishes matured entries to their routing key. Receivers
// re-evaluate conditions at fire time, never at schedule time.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher is the broker-facing half the mover needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte) error
}

// signal is the sorted-set member format.
type signal struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
}

func encodeSignal(routingKey string, payload []byte) (string, error) {
	member, err := json.Marshal(signal{
		ID:         uuid.New().String(),
		RoutingKey: routingKey,
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode signal: %w", err)
	}
	return string(member), nil
}

func decodeSignal(member string) (*signal, error) {
	var sig signal
	if err := json.Unmarshal([]byte(member), &sig); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}
	if sig.RoutingKey == "" {
		return nil, fmt.Errorf("signal missing routing key")
	}
	return &sig, nil
}

// Config holds scheduler configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	ScheduleKey  string
	PollInterval time.Duration
}

// Scheduler parks signals and, when running, moves matured ones onto the
// broker. Delivery is at-least-once: a crash between publish and removal
// causes a duplicate signal, which every consumer tolerates.
type Scheduler struct {
	redis        *redis.Client
	publisher    Publisher
	scheduleKey  string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a scheduler backed by Redis
func New(ctx context.Context, config *Config, publisher Publisher, logger *slog.Logger) (*Scheduler, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	logger.Info("Scheduler initialized",
		slog.String("addr", config.Addr),
		slog.String("schedule_key", config.ScheduleKey),
		slog.Duration("poll_interval", pollInterval),
	)

	return &Scheduler{
		redis:        client,
		publisher:    publisher,
		scheduleKey:  config.ScheduleKey,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Schedule parks a signal that becomes visible after delay.
func (s *Scheduler) Schedule(ctx context.Context, routingKey string, payload []byte, delay time.Duration) error {
	member, err := encodeSignal(routingKey, payload)
	if err != nil {
		return err
	}

	fireAt := time.Now().Add(delay)
	err = s.redis.ZAdd(ctx, s.scheduleKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule signal: %w", err)
	}

	s.logger.Info("Signal scheduled",
		slog.String("routing_key", routingKey),
		slog.Duration("delay", delay),
		slog.Time("fire_at", fireAt),
	)

	return nil
}

// Run is the mover loop. It polls for matured signals and republishes
// them to the broker until the context is canceled. A signal is removed
// from the set only after a successful publish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Signal mover started",
		slog.Duration("poll_interval", s.pollInterval),
	)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Signal mover stopped - context canceled")
			return ctx.Err()

		case <-ticker.C:
			if err := s.moveDue(ctx); err != nil {
				// Transient failure, retried on the next tick.
				s.logger.Error("Failed to move due signals",
					slog.Any("error", err),
				)
			}
		}
	}
}

// moveDue publishes every signal whose fire time has passed.
func (s *Scheduler) moveDue(ctx context.Context) error {
	now := time.Now().Unix()

	members, err := s.redis.ZRangeByScore(ctx, s.scheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read due signals: %w", err)
	}

	for _, member := range members {
		sig, err := decodeSignal(member)
		if err != nil {
			s.logger.Error("Dropping undecodable signal",
				slog.Any("error", err),
			)
			s.redis.ZRem(ctx, s.scheduleKey, member)
			continue
		}

		if err := s.publisher.PublishWithRetry(ctx, sig.RoutingKey, sig.Payload); err != nil {
			// Leave the member in place; the next tick retries.
			s.logger.Error("Failed to publish matured signal",
				slog.String("routing_key", sig.RoutingKey),
				slog.Any("error", err),
			)
			continue
		}

		if err := s.redis.ZRem(ctx, s.scheduleKey, member).Err(); err != nil {
			s.logger.Warn("Failed to remove published signal, duplicate delivery possible",
				slog.String("routing_key", sig.RoutingKey),
				slog.Any("error", err),
			)
			continue
		}

		s.logger.Info("Matured signal delivered",
			slog.String("routing_key", sig.RoutingKey),
			slog.String("signal_id", sig.ID),
		)
	}

	return nil
}

// Close releases the Redis connection
func (s *Scheduler) Close() error {
	return s.redis.Close()
}
