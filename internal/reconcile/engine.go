package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/narrative"
	"github.com/questline/questline-bot/internal/repository"
	"github.com/questline/questline-bot/internal/userlock"
	"github.com/questline/questline-bot/pkg/metrics"
)

// Engine cross-checks the append-only ledgers against cached projections
// and repairs what it safely can. The ledgers are authoritative: a repair
// rewrites projections, never history. No compensating ledger entries are
// appended.
type Engine struct {
	uow      database.UnitOfWork
	entries  ledger.Store
	grants   ledger.AccessStore
	users    repository.UserRepository
	states   narrative.StateRepository
	content  narrative.ContentRepository
	unlocks  achievements.Store
	registry *achievements.Registry
	locker   *userlock.Locker
	log      *slog.Logger
}

func NewEngine(
	uow database.UnitOfWork,
	entries ledger.Store,
	grants ledger.AccessStore,
	users repository.UserRepository,
	states narrative.StateRepository,
	content narrative.ContentRepository,
	unlocks achievements.Store,
	registry *achievements.Registry,
	locker *userlock.Locker,
	log *slog.Logger,
) *Engine {
	return &Engine{
		uow:      uow,
		entries:  entries,
		grants:   grants,
		users:    users,
		states:   states,
		content:  content,
		unlocks:  unlocks,
		registry: registry,
		locker:   locker,
		log:      log,
	}
}

// CheckUser runs every consistency check read-only, without locking.
// Results may be stale for a user with in-flight workflows; RepairUser is
// the authoritative path.
func (e *Engine) CheckUser(ctx context.Context, userID int64) (*Report, error) {
	report := &Report{UserID: userID, CheckedAt: time.Now().UTC()}
	if err := e.check(ctx, e.uow.DB(), userID, report); err != nil {
		return nil, err
	}

	for i := range report.Findings {
		report.Findings[i].Resolution = ResolutionDetected
		metrics.RecordReconcileFinding(string(report.Findings[i].Kind), string(ResolutionDetected))
	}

	return report, nil
}

// RepairUser checks the user under the workflow lock and auto-corrects the
// correctable findings in one transaction. Findings the engine must not
// touch are marked for review.
func (e *Engine) RepairUser(ctx context.Context, userID int64) (*Report, error) {
	release, err := e.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &Report{UserID: userID, CheckedAt: time.Now().UTC()}

	err = e.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		if err := e.check(ctx, q, userID, report); err != nil {
			return err
		}
		return e.correct(ctx, q, userID, report)
	})
	if err != nil {
		return nil, err
	}

	for _, f := range report.Findings {
		metrics.RecordReconcileFinding(string(f.Kind), string(f.Resolution))
		if f.Resolution == ResolutionNeedsReview {
			e.log.Warn("reconciliation finding needs review",
				slog.Int64("user_id", userID),
				slog.String("kind", string(f.Kind)),
				slog.String("detail", f.Detail),
			)
		}
	}

	return report, nil
}

func (e *Engine) check(ctx context.Context, q database.Querier, userID int64, report *Report) error {
	user, err := e.users.FindByTelegramID(ctx, q, userID)
	if err != nil {
		return err
	}

	if err := e.checkProjections(ctx, q, user, report); err != nil {
		return err
	}
	if err := e.checkGrants(ctx, q, userID, report); err != nil {
		return err
	}
	if err := e.checkNarrative(ctx, q, userID, report); err != nil {
		return err
	}
	return e.checkUnlocks(ctx, q, userID, report)
}

func (e *Engine) checkProjections(ctx context.Context, q database.Querier, user *domain.User, report *Report) error {
	entries, err := e.entries.Entries(ctx, q, user.TelegramID)
	if err != nil {
		return err
	}

	var replayBalance, replayLifetime int64
	for _, entry := range entries {
		replayBalance += entry.Amount
		if entry.Amount > 0 {
			replayLifetime += entry.Amount
		}
		if entry.Balance != replayBalance {
			report.Findings = append(report.Findings, Finding{
				Kind:     FindingBrokenEntryChain,
				Detail:   fmt.Sprintf("entry %d recorded balance %d, replay says %d", entry.ID, entry.Balance, replayBalance),
				Expected: replayBalance,
				Actual:   entry.Balance,
			})
		}
	}

	if user.Balance != replayBalance {
		report.Findings = append(report.Findings, Finding{
			Kind:     FindingBalanceDrift,
			Detail:   "cached balance does not match ledger replay",
			Expected: replayBalance,
			Actual:   user.Balance,
		})
	}
	if user.LifetimeEarned != replayLifetime {
		report.Findings = append(report.Findings, Finding{
			Kind:     FindingLifetimeDrift,
			Detail:   "cached lifetime earned does not match ledger replay",
			Expected: replayLifetime,
			Actual:   user.LifetimeEarned,
		})
	}
	if expected := domain.LevelForEarned(replayLifetime); user.Level != expected {
		report.Findings = append(report.Findings, Finding{
			Kind:     FindingLevelDrift,
			Detail:   "cached level does not match level curve",
			Expected: int64(expected),
			Actual:   int64(user.Level),
		})
	}

	return nil
}

func (e *Engine) checkGrants(ctx context.Context, q database.Querier, userID int64, report *Report) error {
	active, err := e.grants.ActiveGrants(ctx, q, userID)
	if err != nil {
		return err
	}

	if len(active) > 1 {
		report.Findings = append(report.Findings, Finding{
			Kind:     FindingMultipleActiveGrants,
			Detail:   fmt.Sprintf("%d access rows flagged active", len(active)),
			Expected: 1,
			Actual:   int64(len(active)),
		})
	}

	now := time.Now().UTC()
	for _, grant := range active {
		if grant.Expired(now) {
			report.Findings = append(report.Findings, Finding{
				Kind:   FindingExpiredActiveGrant,
				Detail: fmt.Sprintf("grant %d expired at %s but is still active", grant.ID, grant.ExpiresAt.Format(time.RFC3339)),
			})
		}
	}

	return nil
}

func (e *Engine) checkNarrative(ctx context.Context, q database.Querier, userID int64, report *Report) error {
	state, err := e.states.State(ctx, q, userID)
	if err != nil {
		if errors.Is(err, narrative.ErrStateNotFound) {
			return nil
		}
		return err
	}

	fragment, err := e.content.Fragment(ctx, state.CurrentID)
	if err != nil {
		if errors.Is(err, narrative.ErrFragmentNotFound) {
			report.Findings = append(report.Findings, Finding{
				Kind:   FindingOrphanNarrativeState,
				Detail: fmt.Sprintf("cursor points at missing fragment %q", state.CurrentID),
			})
			return nil
		}
		return err
	}

	// Archived content stays loadable for parked users; only flag when the
	// user cannot move at all.
	if fragment.Archived && fragment.Terminal() {
		report.Findings = append(report.Findings, Finding{
			Kind:   FindingOrphanNarrativeState,
			Detail: fmt.Sprintf("cursor parked on archived terminal fragment %q", state.CurrentID),
		})
	}

	return nil
}

func (e *Engine) checkUnlocks(ctx context.Context, q database.Querier, userID int64, report *Report) error {
	unlocks, err := e.unlocks.Unlocks(ctx, q, userID)
	if err != nil {
		return err
	}

	for _, u := range unlocks {
		if _, ok := e.registry.ByID(u.AchievementID); !ok {
			report.Findings = append(report.Findings, Finding{
				Kind:   FindingUnknownAchievement,
				Detail: fmt.Sprintf("unlock references unknown achievement %q", u.AchievementID),
			})
		}
	}

	return nil
}

// correct repairs auto-correctable findings in the surrounding transaction
// and stamps every finding's resolution.
func (e *Engine) correct(ctx context.Context, q database.Querier, userID int64, report *Report) error {
	var projectionsDirty bool

	for i := range report.Findings {
		f := &report.Findings[i]
		if !f.AutoCorrectable() {
			f.Resolution = ResolutionNeedsReview
			report.NeedsReview++
			continue
		}

		switch f.Kind {
		case FindingBalanceDrift, FindingLifetimeDrift, FindingLevelDrift:
			projectionsDirty = true
		case FindingMultipleActiveGrants:
			if err := e.collapseActiveGrants(ctx, q, userID); err != nil {
				return err
			}
		case FindingExpiredActiveGrant:
			if _, err := e.grants.ExpireDue(ctx, q, time.Now().UTC()); err != nil {
				return err
			}
		}

		f.Resolution = ResolutionAutoCorrected
		report.AutoCorrected++
	}

	if projectionsDirty {
		if err := e.rewriteProjections(ctx, q, userID); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) rewriteProjections(ctx context.Context, q database.Querier, userID int64) error {
	entries, err := e.entries.Entries(ctx, q, userID)
	if err != nil {
		return err
	}

	var balance, lifetime int64
	for _, entry := range entries {
		balance += entry.Amount
		if entry.Amount > 0 {
			lifetime += entry.Amount
		}
	}

	if err := e.users.SetProjections(ctx, q, userID, balance, lifetime, domain.LevelForEarned(lifetime)); err != nil {
		return err
	}

	e.log.Info("projections rewritten from ledger",
		slog.Int64("user_id", userID),
		slog.Int64("balance", balance),
		slog.Int64("lifetime_earned", lifetime),
	)

	return nil
}

// collapseActiveGrants keeps the row with the latest expiry and deactivates
// the rest. History rows are never deleted.
func (e *Engine) collapseActiveGrants(ctx context.Context, q database.Querier, userID int64) error {
	active, err := e.grants.ActiveGrants(ctx, q, userID)
	if err != nil {
		return err
	}
	if len(active) <= 1 {
		return nil
	}

	keep := active[0]
	for _, grant := range active[1:] {
		if grant.ExpiresAt.After(keep.ExpiresAt) {
			keep = grant
		}
	}

	for _, grant := range active {
		if grant.ID == keep.ID {
			continue
		}
		if err := e.grants.DeactivateGrant(ctx, q, grant.ID); err != nil {
			return err
		}
	}

	return nil
}
