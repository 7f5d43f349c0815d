package achievements

import (
	"context"
	"testing"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/repository"
)

type fakeUOW struct{}

func (fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	return fn(ctx, nil)
}

func (fakeUOW) DB() database.Querier { return nil }

type fakeUserReader struct {
	users map[int64]*domain.User
}

func (r *fakeUserReader) FindByTelegramID(_ context.Context, _ database.Querier, telegramID int64) (*domain.User, error) {
	u, ok := r.users[telegramID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

type capturePublisher struct {
	published []domain.Event
}

func (p *capturePublisher) Publish(_ context.Context, evts ...domain.Event) {
	p.published = append(p.published, evts...)
}

func newTestSubscriber(t *testing.T, users map[int64]*domain.User) (*Subscriber, *memStore, *capturePublisher) {
	t.Helper()
	registry, err := NewRegistry(testDefinitions())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := newMemStore()
	pub := &capturePublisher{}
	sub := NewSubscriber(
		NewService(registry, store, testLogger()),
		&fakeUserReader{users: users},
		fakeUOW{},
		pub,
		testLogger(),
	)
	return sub, store, pub
}

// Currency events carry only amount/balance/source; threshold criteria
// must be evaluated against the user projection, not the payload.
func TestSubscriberCurrencyChangedUsesProjection(t *testing.T) {
	sub, store, pub := newTestSubscriber(t, map[int64]*domain.User{
		1: {TelegramID: 1, Balance: 120, LifetimeEarned: 500},
	})

	event := domain.Event{
		Type:   domain.EventCurrencyChanged,
		UserID: 1,
		Payload: map[string]any{
			"amount":  int64(40),
			"balance": int64(120),
			"source":  "daily_bonus",
		},
		CorrelationID: "corr-1",
		Source:        "workflow",
		OccurredAt:    time.Now().UTC(),
	}

	if err := sub.onCurrencyChanged(context.Background(), event); err != nil {
		t.Fatalf("onCurrencyChanged: %v", err)
	}

	if !store.unlocks[1]["veteran"] {
		t.Fatal("lifetime threshold not evaluated against the projection")
	}
	if store.unlocks[1]["saver"] {
		t.Fatal("balance threshold unlocked below its threshold")
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 unlock event, got %d", len(pub.published))
	}
	got := pub.published[0]
	if got.Type != domain.EventAchievementUnlocked || got.CorrelationID != "corr-1" {
		t.Fatalf("unexpected unlock event %+v", got)
	}
	if got.Payload["achievement_id"] != "veteran" {
		t.Fatalf("unexpected unlock payload %+v", got.Payload)
	}
}

func TestSubscriberCurrencyChangedUnknownUser(t *testing.T) {
	sub, store, pub := newTestSubscriber(t, nil)

	event := domain.Event{
		Type:    domain.EventCurrencyChanged,
		UserID:  42,
		Payload: map[string]any{"amount": int64(10), "balance": int64(10), "source": "narrative"},
	}

	if err := sub.onCurrencyChanged(context.Background(), event); err != nil {
		t.Fatalf("onCurrencyChanged: %v", err)
	}
	if len(store.unlocks) != 0 || len(pub.published) != 0 {
		t.Fatal("unknown user produced unlocks")
	}
}

func TestSubscriberNarrativeAdvancedCompletedIDs(t *testing.T) {
	sub, store, _ := newTestSubscriber(t, nil)

	event := domain.Event{
		Type:   domain.EventNarrativeAdvanced,
		UserID: 1,
		Payload: map[string]any{
			"fragment_id":   "bell_tower",
			"first_visit":   true,
			"completed_ids": []string{"crossroads", "bell_tower"},
			"terminal":      true,
		},
	}

	if err := sub.onNarrativeAdvanced(context.Background(), event); err != nil {
		t.Fatalf("onNarrativeAdvanced: %v", err)
	}
	if !store.unlocks[1]["tower_topper"] {
		t.Fatal("fragment completion criterion not evaluated")
	}
}

func TestSubscriberNarrativeAdvancedWithoutCompletions(t *testing.T) {
	sub, store, _ := newTestSubscriber(t, nil)

	event := domain.Event{
		Type:    domain.EventNarrativeAdvanced,
		UserID:  1,
		Payload: map[string]any{"fragment_id": "crossroads", "first_visit": true},
	}

	if err := sub.onNarrativeAdvanced(context.Background(), event); err != nil {
		t.Fatalf("onNarrativeAdvanced: %v", err)
	}
	if len(store.unlocks) != 0 {
		t.Fatal("unlock recorded without any completed fragment")
	}
}
