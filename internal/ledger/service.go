package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/pkg/metrics"
)

// Service exposes the ledger contract. Mutations follow append-then-project:
// the immutable row and the cached balance move in the same unit-of-work,
// and every mutation given an idempotency key is safe to retry.
type Service struct {
	store  Store
	access AccessStore
	log    *slog.Logger
}

func NewService(store Store, access AccessStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:  store,
		access: access,
		log:    log,
	}
}

// RecordDelta appends one entry and updates the user's cached balance.
// A repeated idempotency key replays the original entry without a second
// append.
func (s *Service) RecordDelta(ctx context.Context, q database.Querier, userID, amount int64, source, reason, idemKey string) (*domain.LedgerEntry, error) {
	if amount == 0 {
		return nil, errors.NewValidationError("ledger delta must be non-zero")
	}

	if idemKey != "" {
		existing, err := s.store.FindEntryByKey(ctx, q, idemKey)
		if err != nil {
			return nil, database.Classify("ledger lookup", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	newBalance, ok, err := s.store.AdjustBalance(ctx, q, userID, amount)
	if err != nil {
		return nil, database.Classify("ledger projection", err)
	}
	if !ok {
		if amount < 0 {
			balance, balErr := s.store.Balance(ctx, q, userID)
			if balErr != nil {
				return nil, database.Classify("ledger balance", balErr)
			}
			return nil, errors.NewInsufficientFundsError(balance, -amount)
		}
		return nil, errors.NewValidationError(fmt.Sprintf("unknown user %d", userID))
	}

	entry := &domain.LedgerEntry{
		UserID:         userID,
		Amount:         amount,
		Balance:        newBalance,
		Source:         source,
		Reason:         reason,
		IdempotencyKey: idemKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.AppendEntry(ctx, q, entry); err != nil {
		if database.IsUniqueViolation(err) && idemKey != "" {
			// A concurrent retry with the same key won the append.
			existing, findErr := s.store.FindEntryByKey(ctx, q, idemKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, database.Classify("ledger append", err)
	}

	metrics.RecordLedgerEntry(source, amount)
	s.log.Info("ledger entry appended",
		slog.Int64("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", newBalance),
		slog.String("source", source),
	)

	return entry, nil
}

// Deduct removes amount from the balance, failing with InsufficientFunds if
// the result would be negative. It never clamps or truncates.
func (s *Service) Deduct(ctx context.Context, q database.Querier, userID, amount int64, source, reason, idemKey string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.NewValidationError("deduct amount must be positive")
	}

	return s.RecordDelta(ctx, q, userID, -amount, source, reason, idemKey)
}

// GetBalance returns the cached balance projection.
func (s *Service) GetBalance(ctx context.Context, q database.Querier, userID int64) (int64, error) {
	balance, err := s.store.Balance(ctx, q, userID)
	if err != nil {
		return 0, database.Classify("ledger balance", err)
	}

	return balance, nil
}

// RecomputeBalance independently sums all entries. Used only by the
// reconciliation engine to detect drift against the cached projection.
func (s *Service) RecomputeBalance(ctx context.Context, q database.Querier, userID int64) (int64, error) {
	sum, err := s.store.SumEntries(ctx, q, userID)
	if err != nil {
		return 0, database.Classify("ledger recompute", err)
	}

	return sum, nil
}

// Entries returns the user's full transaction history in append order.
func (s *Service) Entries(ctx context.Context, q database.Querier, userID int64) ([]*domain.LedgerEntry, error) {
	entries, err := s.store.Entries(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("ledger entries", err)
	}

	return entries, nil
}

// LastEntryBySource returns the newest entry with the given source tag, or
// nil. The daily-bonus workflow uses it to enforce once-per-day claims.
func (s *Service) LastEntryBySource(ctx context.Context, q database.Querier, userID int64, source string) (*domain.LedgerEntry, error) {
	entry, err := s.store.LastEntryBySource(ctx, q, userID, source)
	if err != nil {
		return nil, database.Classify("ledger last entry", err)
	}

	return entry, nil
}
