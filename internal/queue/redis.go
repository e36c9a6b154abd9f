package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saaslytics/ingest-svc/internal/config"
	"github.com/saaslytics/ingest-svc/internal/models"
)

// Redis list keys backing the three queues
const (
	pendingKey    = "events:queue"
	inFlightKey   = "events:processing"
	deadLetterKey = "events:failed"
)

// RedisQueue is the production Queue implementation on Redis lists.
// Entries are pushed to the head and claimed from the tail, so list order is
// FIFO. Claiming uses LMOVE, a single atomic pop-and-push per entry; a crash
// between claim and ack leaves the entry visible in the in-flight list.
type RedisQueue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisQueue{client: client, logger: logger}, nil
}

// Client exposes the underlying connection so the idempotency store can share it
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close releases the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Push(ctx context.Context, event *models.Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to push event %s: %w", event.EventID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, max int) ([]Delivery, error) {
	cmds := make([]*redis.StringCmd, 0, max)
	_, pipeErr := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < max; i++ {
			cmds = append(cmds, pipe.LMove(ctx, pendingKey, inFlightKey, "RIGHT", "LEFT"))
		}
		return nil
	})

	batch := q.collectClaimed(ctx, cmds)

	// A pipeline error can still leave replies behind for commands that ran.
	// Anything collected was already moved to the in-flight list and must be
	// handed to the caller; surface the error only when nothing was claimed.
	if pipeErr != nil && !errors.Is(pipeErr, redis.Nil) && len(batch) == 0 {
		return nil, fmt.Errorf("failed to claim batch: %w", pipeErr)
	}
	return batch, nil
}

// collectClaimed reads every pipelined LMOVE reply in order. Producers push
// concurrently, so an empty reply can be followed by a non-empty one within
// the same pipeline; each non-empty reply is an entry already moved to the
// in-flight list and must yield a Delivery, or it would sit there unacked
// with no consumer ever seeing it.
func (q *RedisQueue) collectClaimed(ctx context.Context, cmds []*redis.StringCmd) []Delivery {
	batch := make([]Delivery, 0, len(cmds))
	for _, cmd := range cmds {
		payload, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			q.logger.Error("Failed to read claimed entry", zap.Error(err))
			continue
		}

		event, err := decodeEvent(payload)
		if err != nil {
			// Undecodable entries cannot be processed; park them in the
			// dead-letter queue rather than leaking them in the in-flight
			// list or dropping them.
			q.logger.Error("Invalid JSON in queue, dead-lettering raw entry",
				zap.Error(err),
			)
			if dlErr := q.moveRaw(ctx, payload, deadLetterKey); dlErr != nil {
				q.logger.Error("Failed to dead-letter malformed entry", zap.Error(dlErr))
			}
			continue
		}

		batch = append(batch, Delivery{Event: event, Payload: payload})
	}
	return batch
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	if err := q.client.LRem(ctx, inFlightKey, 1, d.Payload).Err(); err != nil {
		return fmt.Errorf("failed to ack event %s: %w", d.Event.EventID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d Delivery) error {
	payload, err := encodeEvent(d.Event)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter event: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, deadLetterKey, payload)
		pipe.LRem(ctx, inFlightKey, 1, d.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter event %s: %w", d.Event.EventID, err)
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, d Delivery) error {
	payload, err := encodeEvent(d.Event)
	if err != nil {
		return fmt.Errorf("failed to encode requeued event: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, pendingKey, payload)
		pipe.LRem(ctx, inFlightKey, 1, d.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue event %s: %w", d.Event.EventID, err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}

func (q *RedisQueue) AllDepths(ctx context.Context) (Depths, error) {
	var pending, inFlight, deadLetter *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, pendingKey)
		inFlight = pipe.LLen(ctx, inFlightKey)
		deadLetter = pipe.LLen(ctx, deadLetterKey)
		return nil
	})
	if err != nil {
		return Depths{}, fmt.Errorf("failed to read queue depths: %w", err)
	}

	return Depths{
		Pending:    pending.Val(),
		InFlight:   inFlight.Val(),
		DeadLetter: deadLetter.Val(),
	}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// moveRaw pushes a raw payload to the target list and removes it from the
// in-flight list as one transaction
func (q *RedisQueue) moveRaw(ctx context.Context, payload []byte, target string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, target, payload)
		pipe.LRem(ctx, inFlightKey, 1, payload)
		return nil
	})
	return err
}
