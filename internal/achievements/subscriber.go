package achievements

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/events"
	"github.com/questline/questline-bot/internal/repository"
)

// Publisher is the slice of the event bus the subscriber needs.
type Publisher interface {
	Publish(ctx context.Context, evts ...domain.Event)
}

// UserReader loads the cached user projection for threshold criteria.
type UserReader interface {
	FindByTelegramID(ctx context.Context, q database.Querier, telegramID int64) (*domain.User, error)
}

// Subscriber evaluates unlock criteria against committed workflow events.
// It runs outside the originating transaction; the store's idempotent
// insert makes redelivery harmless.
type Subscriber struct {
	service *Service
	users   UserReader
	uow     database.UnitOfWork
	bus     Publisher
	log     *slog.Logger
}

func NewSubscriber(service *Service, users UserReader, uow database.UnitOfWork, bus Publisher, log *slog.Logger) *Subscriber {
	return &Subscriber{service: service, users: users, uow: uow, bus: bus, log: log}
}

// Register attaches the subscriber to the bus.
func (s *Subscriber) Register(bus *events.Bus) {
	bus.Subscribe(domain.EventCurrencyChanged, "achievements", s.onCurrencyChanged)
	bus.Subscribe(domain.EventNarrativeAdvanced, "achievements", s.onNarrativeAdvanced)
}

// onCurrencyChanged reads balance and lifetime earned from the user
// projection rather than the event payload; the projection was updated in
// the same transaction that produced the event, so it is at least as fresh.
func (s *Subscriber) onCurrencyChanged(ctx context.Context, event domain.Event) error {
	return s.evaluate(ctx, event, func(ctx context.Context, q database.Querier) (Facts, bool, error) {
		user, err := s.users.FindByTelegramID(ctx, q, event.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return Facts{}, false, nil
			}
			return Facts{}, false, err
		}

		return Facts{Balance: user.Balance, LifetimeEarned: user.LifetimeEarned}, true, nil
	})
}

func (s *Subscriber) onNarrativeAdvanced(ctx context.Context, event domain.Event) error {
	completed := payloadStrings(event.Payload, "completed_ids")
	if len(completed) == 0 {
		return nil
	}

	for _, fragmentID := range completed {
		facts := Facts{CompletedFragmentID: fragmentID}
		if err := s.evaluate(ctx, event, func(context.Context, database.Querier) (Facts, bool, error) {
			return facts, true, nil
		}); err != nil {
			return err
		}
	}

	return nil
}

// evaluate runs one criterion pass in its own transaction. The facts
// loader runs inside that transaction so threshold criteria read the
// projection the unlock will be recorded against.
func (s *Subscriber) evaluate(ctx context.Context, event domain.Event, load func(ctx context.Context, q database.Querier) (Facts, bool, error)) error {
	var unlocked []domain.Achievement

	err := s.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		facts, ok, err := load(ctx, q)
		if err != nil || !ok {
			return err
		}

		unlocked, err = s.service.Evaluate(ctx, q, event.UserID, facts)
		return err
	})
	if err != nil {
		return err
	}

	for _, a := range unlocked {
		s.bus.Publish(ctx, domain.Event{
			Type:   domain.EventAchievementUnlocked,
			UserID: event.UserID,
			Payload: map[string]any{
				"achievement_id": a.ID,
				"title":          a.Title,
				"access_days":    a.AccessDays,
			},
			CorrelationID: event.CorrelationID,
			Source:        "achievements",
			OccurredAt:    time.Now().UTC(),
		})
	}

	return nil
}

func payloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
