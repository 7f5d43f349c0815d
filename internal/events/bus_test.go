package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/questline/questline-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(userID int64, eventType domain.EventType) domain.Event {
	return domain.Event{
		Type:          eventType,
		UserID:        userID,
		CorrelationID: "corr-1",
		Source:        "test",
		OccurredAt:    time.Now().UTC(),
	}
}

func drain(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	var mu sync.Mutex
	var got []int64
	bus.Subscribe(domain.EventCurrencyChanged, "collector", func(_ context.Context, e domain.Event) error {
		mu.Lock()
		got = append(got, e.UserID)
		mu.Unlock()
		return nil
	})

	bus.Publish(context.Background(), testEvent(7, domain.EventCurrencyChanged))
	drain(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected delivery for user 7, got %v", got)
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	var mu sync.Mutex
	var seen []string
	bus.Subscribe(domain.EventNarrativeAdvanced, "ordered", func(_ context.Context, e domain.Event) error {
		mu.Lock()
		seen = append(seen, e.Payload["step"].(string))
		mu.Unlock()
		return nil
	})

	batch := make([]domain.Event, 0, 5)
	for i := 0; i < 5; i++ {
		e := testEvent(1, domain.EventNarrativeAdvanced)
		e.Payload = map[string]any{"step": fmt.Sprintf("s%d", i)}
		batch = append(batch, e)
	}
	bus.Publish(context.Background(), batch...)
	drain(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(seen))
	}
	for i, s := range seen {
		if want := fmt.Sprintf("s%d", i); s != want {
			t.Fatalf("out of order at %d: got %s, want %s", i, s, want)
		}
	}
}

func TestSharedNameRoutesPerEventType(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	// One subscriber name with a distinct handler per event type, the way
	// the achievements subscriber registers itself.
	var mu sync.Mutex
	seen := make(map[domain.EventType][]domain.EventType)
	record := func(own domain.EventType) Handler {
		return func(_ context.Context, e domain.Event) error {
			mu.Lock()
			seen[own] = append(seen[own], e.Type)
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe(domain.EventNarrativeAdvanced, "achievements", record(domain.EventNarrativeAdvanced))
	bus.Subscribe(domain.EventCurrencyChanged, "achievements", record(domain.EventCurrencyChanged))

	bus.Publish(context.Background(),
		testEvent(1, domain.EventNarrativeAdvanced),
		testEvent(1, domain.EventCurrencyChanged),
	)
	drain(t, bus)

	mu.Lock()
	defer mu.Unlock()
	for _, own := range []domain.EventType{domain.EventNarrativeAdvanced, domain.EventCurrencyChanged} {
		got := seen[own]
		if len(got) != 1 || got[0] != own {
			t.Fatalf("handler for %s received %v", own, got)
		}
	}
}

func TestSubscriberFailureIsolated(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(domain.EventAchievementUnlocked, "broken", func(context.Context, domain.Event) error {
		return fmt.Errorf("handler exploded")
	})
	bus.Subscribe(domain.EventAchievementUnlocked, "healthy", func(context.Context, domain.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	bus.Publish(context.Background(), testEvent(1, domain.EventAchievementUnlocked))
	drain(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("healthy subscriber got %d deliveries, want 1", delivered)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	bus.Subscribe(domain.EventAccessChanged, "panicking", func(context.Context, domain.Event) error {
		panic("boom")
	})

	bus.Publish(context.Background(), testEvent(1, domain.EventAccessChanged))
	drain(t, bus)
}

func TestSlowHandlerAbandoned(t *testing.T) {
	bus := NewBus(16, 50*time.Millisecond, testLogger())

	release := make(chan struct{})
	bus.Subscribe(domain.EventCurrencyChanged, "slow", func(ctx context.Context, _ domain.Event) error {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return nil
	})

	start := time.Now()
	bus.Publish(context.Background(), testEvent(1, domain.EventCurrencyChanged))
	drain(t, bus)
	close(release)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("drain waited for the full handler: %v", elapsed)
	}
}

func TestHistoryRetainsRecentEvents(t *testing.T) {
	bus := NewBus(3, time.Second, testLogger())

	for i := int64(1); i <= 5; i++ {
		bus.Publish(context.Background(), testEvent(i, domain.EventCurrencyChanged))
	}
	drain(t, bus)

	window := bus.History(0)
	if len(window) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(window))
	}
	for i, e := range window {
		if want := int64(3 + i); e.UserID != want {
			t.Fatalf("history[%d] user %d, want %d", i, e.UserID, want)
		}
	}

	limited := bus.History(2)
	if len(limited) != 2 {
		t.Fatalf("expected 2 events with limit, got %d", len(limited))
	}
	if limited[1].UserID != 5 {
		t.Fatalf("expected newest event last, got user %d", limited[1].UserID)
	}
}

func TestPublishWithoutSubscribersKeepsHistory(t *testing.T) {
	bus := NewBus(16, time.Second, testLogger())

	bus.Publish(context.Background(), testEvent(1, domain.EventNarrativeAdvanced))
	drain(t, bus)

	if got := bus.History(0); len(got) != 1 {
		t.Fatalf("expected 1 event in history, got %d", len(got))
	}
}
