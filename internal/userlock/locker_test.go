package userlock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/questline/questline-bot/internal/errors"
)

func testLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, log), mr
}

func TestAcquireAndRelease(t *testing.T) {
	locker, mr := testLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 42)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !mr.Exists("user:lock:42") {
		t.Fatalf("lock key missing after acquire")
	}

	release()
	if mr.Exists("user:lock:42") {
		t.Fatalf("lock key still present after release")
	}
}

func TestAcquireConflictOnHeldLock(t *testing.T) {
	locker, _ := testLocker(t)
	locker = locker.WithBounds(10*time.Second, 150*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, 42)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer release()

	_, err = locker.Acquire(ctx, 42)
	if errors.CodeOf(err) != errors.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestAcquireIndependentUsers(t *testing.T) {
	locker, _ := testLocker(t)
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire user 1: %v", err)
	}
	defer releaseA()

	releaseB, err := locker.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("Acquire user 2: %v", err)
	}
	defer releaseB()
}

func TestAcquireAfterTTLExpiry(t *testing.T) {
	locker, mr := testLocker(t)
	locker = locker.WithBounds(time.Second, 200*time.Millisecond)
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, 42); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// A crashed holder never releases; the TTL frees the section.
	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(ctx, 42)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	release()
}

func TestAcquireRespectsContextCancel(t *testing.T) {
	locker, _ := testLocker(t)
	locker = locker.WithBounds(10*time.Second, 5*time.Second)

	release, err := locker.Acquire(context.Background(), 42)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, 42)
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if errors.CodeOf(err) == errors.CodeConflict {
		t.Fatalf("expected context error before the wait bound, got conflict")
	}
}
