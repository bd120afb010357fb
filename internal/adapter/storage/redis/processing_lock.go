package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ProcessingLock implements ports.ProcessLock using Redis SET NX. The TTL
// bounds how long a crashed worker can hold a transaction hostage.
type ProcessingLock struct {
	client *goredis.Client
	prefix string
}

// NewProcessingLock creates a new Redis-backed processing lock.
func NewProcessingLock(client *goredis.Client) *ProcessingLock {
	return &ProcessingLock{
		client: client,
		prefix: "processing:",
	}
}

// Acquire atomically claims a transaction for processing. Returns false when
// another worker already holds the claim.
func (l *ProcessingLock) Acquire(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+transactionID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return ok, nil
}

// Release frees the claim so a later attempt can proceed.
func (l *ProcessingLock) Release(ctx context.Context, transactionID string) error {
	if err := l.client.Del(ctx, l.prefix+transactionID).Err(); err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}
