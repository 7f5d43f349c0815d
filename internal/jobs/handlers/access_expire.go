package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/repository"
	"github.com/questline/questline-bot/internal/user"
)

// Publisher is the slice of the event bus the expiry handler needs.
type Publisher interface {
	Publish(ctx context.Context, evts ...domain.Event)
}

// AccessExpireHandler deactivates premium windows whose expiry has passed
// and downgrades users left without an active window.
type AccessExpireHandler struct {
	uow    database.UnitOfWork
	ledger *ledger.Service
	repo   repository.UserRepository
	users  *user.Service
	bus    Publisher
	log    *slog.Logger
}

func NewAccessExpireHandler(
	uow database.UnitOfWork,
	ledgerSvc *ledger.Service,
	repo repository.UserRepository,
	users *user.Service,
	bus Publisher,
	log *slog.Logger,
) *AccessExpireHandler {
	return &AccessExpireHandler{
		uow:    uow,
		ledger: ledgerSvc,
		repo:   repo,
		users:  users,
		bus:    bus,
		log:    log,
	}
}

func (h *AccessExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	now := time.Now().UTC()

	var expired []*domain.AccessGrant
	err := h.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		grants, err := h.ledger.ExpireDueGrants(ctx, q, now)
		if err != nil {
			return err
		}

		for _, grant := range grants {
			if err := h.downgradeIfUnbacked(ctx, q, grant.UserID); err != nil {
				return err
			}
		}

		expired = grants
		return nil
	})
	if err != nil {
		return err
	}

	if len(expired) == 0 {
		return nil
	}

	correlationID := uuid.NewString()
	events := make([]domain.Event, 0, len(expired))
	for _, grant := range expired {
		h.users.Invalidate(ctx, grant.UserID)
		events = append(events, domain.Event{
			Type:   domain.EventAccessChanged,
			UserID: grant.UserID,
			Payload: map[string]any{
				"action":     "expire",
				"source":     grant.Source,
				"expires_at": grant.ExpiresAt.Format(time.RFC3339),
			},
			CorrelationID: correlationID,
			Source:        "access-expiry",
			OccurredAt:    now,
		})
	}
	h.bus.Publish(ctx, events...)

	if h.log != nil {
		h.log.InfoContext(ctx, "expired access windows", slog.Int("count", len(expired)))
	}

	return nil
}

// downgradeIfUnbacked lowers a premium role back to standard when no active
// window remains. Administrator roles are never touched.
func (h *AccessExpireHandler) downgradeIfUnbacked(ctx context.Context, q database.Querier, userID int64) error {
	u, err := h.repo.FindByTelegramID(ctx, q, userID)
	if err != nil {
		return err
	}
	if u.Role != domain.RolePremium {
		return nil
	}

	active, err := h.ledger.ActiveGrant(ctx, q, userID)
	if err != nil {
		return err
	}
	if active != nil && active.ExpiresAt.After(time.Now().UTC()) {
		return nil
	}

	return h.users.SetRole(ctx, q, userID, domain.RoleStandard)
}
