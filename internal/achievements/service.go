package achievements

import (
	"context"
	"log/slog"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
)

// Facts is the snapshot a criterion is evaluated against. Zero values mean
// the fact is unknown and its criteria are skipped.
type Facts struct {
	Balance             int64
	LifetimeEarned      int64
	CompletedFragmentID string
}

// Service unlocks achievements. All methods take a Querier so unlocks can
// join the caller's transaction.
type Service struct {
	registry *Registry
	store    Store
	log      *slog.Logger
}

func NewService(registry *Registry, store Store, log *slog.Logger) *Service {
	return &Service{registry: registry, store: store, log: log}
}

// Registry exposes the loaded definitions.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Unlock records an explicit unlock requested by a fragment trigger.
// Repeats are absorbed; the returned flag reports whether this call created
// the record.
func (s *Service) Unlock(ctx context.Context, q database.Querier, userID int64, achievementID string) (domain.Achievement, bool, error) {
	achievement, ok := s.registry.ByID(achievementID)
	if !ok {
		return domain.Achievement{}, false, errors.NewValidationError("unknown achievement " + achievementID)
	}

	created, err := s.store.Unlock(ctx, q, userID, achievementID)
	if err != nil {
		return domain.Achievement{}, false, err
	}

	if created {
		s.log.Info("achievement unlocked",
			"user_id", userID,
			"achievement_id", achievementID,
		)
	}

	return achievement, created, nil
}

// Evaluate checks every criterion-bearing definition against the facts and
// unlocks the ones newly satisfied. Already-held unlocks are skipped via
// the store's idempotent insert, so concurrent evaluation is safe.
func (s *Service) Evaluate(ctx context.Context, q database.Querier, userID int64, facts Facts) ([]domain.Achievement, error) {
	var unlocked []domain.Achievement

	for _, a := range s.registry.All() {
		if !criterionMet(a.Criterion, facts) {
			continue
		}

		created, err := s.store.Unlock(ctx, q, userID, a.ID)
		if err != nil {
			return unlocked, err
		}
		if created {
			s.log.Info("achievement unlocked",
				"user_id", userID,
				"achievement_id", a.ID,
				"criterion", string(a.Criterion.Kind),
			)
			unlocked = append(unlocked, a)
		}
	}

	return unlocked, nil
}

// Unlocks lists the user's unlock records.
func (s *Service) Unlocks(ctx context.Context, q database.Querier, userID int64) ([]domain.AchievementUnlock, error) {
	return s.store.Unlocks(ctx, q, userID)
}

func criterionMet(c domain.Criterion, facts Facts) bool {
	switch c.Kind {
	case domain.CriterionFragmentCompleted:
		return facts.CompletedFragmentID != "" && facts.CompletedFragmentID == c.FragmentID
	case domain.CriterionBalanceAtLeast:
		return facts.Balance >= c.Threshold
	case domain.CriterionLifetimeEarned:
		return facts.LifetimeEarned >= c.Threshold
	default:
		return false
	}
}
