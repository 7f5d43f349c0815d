// Package userlock provides the per-user exclusive section that serializes
// workflows, ledger mutations, and reconciliation for a single user.
package userlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/questline/questline-bot/internal/errors"
)

const (
	userLockKeyPattern = "user:lock:%d"

	// DefaultTTL bounds how long a crashed holder can block a user.
	DefaultTTL = 10 * time.Second
	// DefaultMaxWait bounds how long an acquirer spins before giving up
	// with a ConflictError.
	DefaultMaxWait       = 3 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// Locker acquires per-user exclusive sections backed by Redis SetNX.
// Locks are scoped to one user; holding locks for several users at once is
// the caller's responsibility to avoid.
type Locker struct {
	client        *redis.Client
	log           *slog.Logger
	ttl           time.Duration
	maxWait       time.Duration
	retryInterval time.Duration
}

// New builds a Locker with the default TTL and wait bounds.
func New(client *redis.Client, log *slog.Logger) *Locker {
	if log == nil {
		log = slog.Default()
	}

	return &Locker{
		client:        client,
		log:           log,
		ttl:           DefaultTTL,
		maxWait:       DefaultMaxWait,
		retryInterval: defaultRetryInterval,
	}
}

// WithBounds overrides the TTL and wait bounds, for tests and for the
// reconciliation sweep which tolerates longer waits.
func (l *Locker) WithBounds(ttl, maxWait time.Duration) *Locker {
	clone := *l
	if ttl > 0 {
		clone.ttl = ttl
	}
	if maxWait > 0 {
		clone.maxWait = maxWait
	}

	return &clone
}

// Acquire blocks until the user's exclusive section is held or the wait
// bound expires, returning a release function on success. Expiry yields a
// ConflictError: the caller retries the whole workflow.
func (l *Locker) Acquire(ctx context.Context, userID int64) (func(), error) {
	key := fmt.Sprintf(userLockKeyPattern, userID)
	deadline := time.Now().Add(l.maxWait)

	for {
		acquired, err := l.client.SetNX(ctx, key, 1, l.ttl).Result()
		if err != nil {
			l.log.Error("failed to acquire user lock", slog.Int64("user_id", userID), slog.Any("error", err))
			return nil, errors.NewSubsystemError("lock store", err)
		}

		if acquired {
			return func() { l.release(userID, key) }, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.NewConflictError(fmt.Sprintf("user %d is busy with another workflow", userID))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

func (l *Locker) release(userID int64, key string) {
	// Release outlives the request context so a cancelled workflow still
	// frees the section.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.client.Del(ctx, key).Err(); err != nil {
		l.log.Error("failed to release user lock", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
