// Package user provides profile operations over users.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/repository"
	"github.com/questline/questline-bot/internal/usercache"
)

const cacheTTL = 5 * time.Minute

// Service provides business operations over users.
type Service struct {
	repo               repository.UserRepository
	uow                database.UnitOfWork
	ledger             *ledger.Service
	cache              *usercache.Cache
	initialGrantAmount int64
	log                *slog.Logger
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(
	repo repository.UserRepository,
	uow database.UnitOfWork,
	ledgerSvc *ledger.Service,
	cache *usercache.Cache,
	initialGrantAmount int64,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:               repo,
		uow:                uow,
		ledger:             ledgerSvc,
		cache:              cache,
		initialGrantAmount: initialGrantAmount,
		log:                log,
	}
}

// GetOrCreate fetches a user by telegram ID or creates a new profile when
// missing. New users receive the configured signup grant as a ledger entry
// in the same transaction as the profile row.
func (s *Service) GetOrCreate(ctx context.Context, telegramUser *telebot.User) (*domain.User, error) {
	if telegramUser == nil {
		return nil, errors.New("telegram user is nil")
	}

	if cached, err := s.cache.Get(ctx, telegramUser.ID); err == nil && cached != nil {
		return cached, nil
	}

	user, err := s.repo.FindByTelegramID(ctx, s.uow.DB(), telegramUser.ID)
	if err == nil {
		_ = s.cache.Set(ctx, user.TelegramID, user, cacheTTL)
		return user, nil
	}

	if !errors.Is(err, repository.ErrUserNotFound) {
		s.logError("get_or_create.find", telegramUser.ID, err)
		return nil, fmt.Errorf("get user: %w", err)
	}

	newUser := &domain.User{
		TelegramID: telegramUser.ID,
		FirstName:  telegramUser.FirstName,
		LastName:   telegramUser.LastName,
		Username:   telegramUser.Username,
		Role:       domain.RoleStandard,
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		if err := s.repo.Create(ctx, q, newUser); err != nil {
			return err
		}

		if s.initialGrantAmount > 0 {
			idemKey := idempotency.GenerateKey(telegramUser.ID, domain.SourceSignup, "initial-grant")
			entry, err := s.ledger.RecordDelta(ctx, q, telegramUser.ID, s.initialGrantAmount, domain.SourceSignup, "welcome grant", idemKey)
			if err != nil {
				return err
			}
			newUser.Balance = entry.Balance
			newUser.LifetimeEarned = s.initialGrantAmount
			newUser.Level = domain.LevelForEarned(newUser.LifetimeEarned)
		}

		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// Lost a creation race; the winner's row is authoritative.
			return s.repo.FindByTelegramID(ctx, s.uow.DB(), telegramUser.ID)
		}
		s.logError("get_or_create.create", telegramUser.ID, err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user created",
		slog.Int64("telegram_id", newUser.TelegramID),
		slog.Int64("initial_grant", s.initialGrantAmount),
	)

	_ = s.cache.Set(ctx, newUser.TelegramID, newUser, cacheTTL)
	return newUser, nil
}

// Get fetches a user profile, bypassing the cache.
func (s *Service) Get(ctx context.Context, telegramID int64) (*domain.User, error) {
	return s.repo.FindByTelegramID(ctx, s.uow.DB(), telegramID)
}

// UpgradeRole raises the user's role and invalidates the cached profile.
func (s *Service) UpgradeRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) (bool, error) {
	upgraded, err := s.repo.UpgradeRole(ctx, q, telegramID, role)
	if err != nil {
		return false, err
	}

	if upgraded {
		_ = s.cache.Invalidate(ctx, telegramID)
	}

	return upgraded, nil
}

// SetRole assigns a role unconditionally, for explicit revokes.
func (s *Service) SetRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) error {
	if err := s.repo.SetRole(ctx, q, telegramID, role); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, telegramID)
	return nil
}

// UpdateLastActive refreshes the last_active_at field for the user.
func (s *Service) UpdateLastActive(ctx context.Context, telegramID int64) error {
	if err := s.repo.TouchLastActive(ctx, s.uow.DB(), telegramID); err != nil {
		s.logError("update_last_active", telegramID, err)
		return err
	}

	return nil
}

// Invalidate drops the cached profile, forcing the next read to hit SQL.
func (s *Service) Invalidate(ctx context.Context, telegramID int64) {
	_ = s.cache.Invalidate(ctx, telegramID)
}

func (s *Service) logError(operation string, telegramID int64, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.Int64("telegram_id", telegramID),
		slog.Any("error", err),
	)
}
