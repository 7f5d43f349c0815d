// Package access issues and checks premium access windows earned through
// achievements or redeemed with currency.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/events"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/user"
	"github.com/questline/questline-bot/internal/userlock"
)

// Publisher is the slice of the event bus the issuer needs.
type Publisher interface {
	Publish(ctx context.Context, evts ...domain.Event)
}

// Granter is the slice of the ledger service that manages access windows.
type Granter interface {
	EnsureAccess(ctx context.Context, q database.Querier, userID int64, source string, duration time.Duration, idemKey string) (*domain.AccessGrant, error)
}

// Issuer converts achievement unlocks that carry an access payload into
// grant rows and role upgrades. It runs as an event subscriber, in its own
// transaction, under the same per-user lock workflows use.
type Issuer struct {
	granter Granter
	users   *user.Service
	uow     database.UnitOfWork
	locker  *userlock.Locker
	bus     Publisher
	log     *slog.Logger
}

func NewIssuer(
	granter Granter,
	users *user.Service,
	uow database.UnitOfWork,
	locker *userlock.Locker,
	bus Publisher,
	log *slog.Logger,
) *Issuer {
	return &Issuer{
		granter: granter,
		users:   users,
		uow:     uow,
		locker:  locker,
		bus:     bus,
		log:     log,
	}
}

// Register attaches the issuer to the bus.
func (i *Issuer) Register(bus *events.Bus) {
	bus.Subscribe(domain.EventAchievementUnlocked, "access-issuer", i.onAchievementUnlocked)
}

func (i *Issuer) onAchievementUnlocked(ctx context.Context, event domain.Event) error {
	days := payloadInt(event.Payload, "access_days")
	if days <= 0 {
		return nil
	}
	achievementID, _ := event.Payload["achievement_id"].(string)
	if achievementID == "" {
		return fmt.Errorf("achievement.unlocked event without achievement_id")
	}

	release, err := i.locker.Acquire(ctx, event.UserID)
	if err != nil {
		return err
	}
	defer release()

	// The unlock record keys the grant, so a redelivered event replays the
	// same grant instead of extending twice.
	idemKey := idempotency.GenerateKey(event.UserID, "achievement-access", achievementID)
	duration := time.Duration(days) * 24 * time.Hour

	var grant *domain.AccessGrant
	err = i.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		grant, err = i.granter.EnsureAccess(ctx, q, event.UserID, "achievement:"+achievementID, duration, idemKey)
		if err != nil {
			return err
		}

		_, err = i.users.UpgradeRole(ctx, q, event.UserID, domain.RolePremium)
		return err
	})
	if err != nil {
		return err
	}

	i.log.Info("access issued for achievement",
		slog.Int64("user_id", event.UserID),
		slog.String("achievement_id", achievementID),
		slog.Int("days", days),
		slog.Time("expires_at", grant.ExpiresAt),
	)

	i.bus.Publish(ctx, domain.Event{
		Type:   domain.EventAccessChanged,
		UserID: event.UserID,
		Payload: map[string]any{
			"action":     string(grant.Action),
			"source":     grant.Source,
			"expires_at": grant.ExpiresAt.Format(time.RFC3339),
		},
		CorrelationID: event.CorrelationID,
		Source:        "access-issuer",
		OccurredAt:    time.Now().UTC(),
	})

	return nil
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
