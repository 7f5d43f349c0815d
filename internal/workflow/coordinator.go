// Package workflow implements the cross-module transactional coordinator.
// One Execute call is one unit of work: either every sub-effect of a user
// action commits, or none do.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/narrative"
	"github.com/questline/questline-bot/internal/userlock"
	"github.com/questline/questline-bot/pkg/metrics"
)

const resultTTL = 24 * time.Hour

// SubEffect is one executed side effect, reported back to the transport
// layer for rendering.
type SubEffect struct {
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount,omitempty"`
	Key           string `json:"key,omitempty"`
	AchievementID string `json:"achievement_id,omitempty"`
}

// Result is the committed outcome of one workflow execution.
type Result struct {
	Success   bool             `json:"success"`
	Fragment  *domain.Fragment `json:"fragment,omitempty"`
	Balance   int64            `json:"balance"`
	Effects   []SubEffect      `json:"effects,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	// Uncertain is set when the commit outcome is unknown. The action may
	// or may not have been applied; reconciliation settles it.
	Uncertain bool `json:"uncertain,omitempty"`
	Replayed  bool `json:"-"`
}

// Coordinator serializes, executes, and publishes user action workflows.
type Coordinator struct {
	uow     database.UnitOfWork
	machine *narrative.Machine
	ledger  *ledger.Service
	unlocks *achievements.Service
	locker  *userlock.Locker
	idem    idempotency.Manager
	bus     Publisher
	breaker *errors.CircuitBreaker
	rewards Rewards
	log     *slog.Logger
}

// Publisher is the slice of the event bus the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, evts ...domain.Event)
}

// Rewards holds the tunables workflows consult.
type Rewards struct {
	DailyBonusAmount  int64
	AccessPricePerDay int64
	MaxRedeemableDays int
}

func NewCoordinator(
	uow database.UnitOfWork,
	machine *narrative.Machine,
	ledgerSvc *ledger.Service,
	unlocks *achievements.Service,
	locker *userlock.Locker,
	idem idempotency.Manager,
	bus Publisher,
	rewards Rewards,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		uow:     uow,
		machine: machine,
		ledger:  ledgerSvc,
		unlocks: unlocks,
		locker:  locker,
		idem:    idem,
		bus:     bus,
		breaker: errors.NewCircuitBreaker("storage"),
		rewards: rewards,
		log:     log,
	}
}

// Execute runs one user action end to end: per-user serialization,
// idempotent replay, a single transaction over every touched subsystem,
// and post-commit event publication. Effects execute in fixed order; a
// state transition always precedes the rewards it triggers.
func (c *Coordinator) Execute(ctx context.Context, action domain.UserAction) (*Result, error) {
	if err := validate(action); err != nil {
		return nil, err
	}

	started := time.Now()
	release, err := c.locker.Acquire(ctx, action.UserID)
	if err != nil {
		metrics.RecordWorkflow(string(action.Kind), "conflict", time.Since(started))
		return nil, err
	}
	defer release()

	key := action.IdempotencyKey
	if key == "" {
		// No client key means no dedupe window; every call is unique.
		key = idempotency.GenerateKey(action.UserID, string(action.Kind), uuid.NewString())
	}

	correlationID := uuid.NewString()
	var pending []domain.Event

	idemResult, err := c.idem.Execute(ctx, key, resultTTL, func(ctx context.Context) (interface{}, error) {
		return c.run(ctx, action, correlationID, &pending)
	})
	if err != nil {
		status := "failed"
		switch {
		case errors.IsBusinessRejection(err):
			status = "rejected"
		case database.CommitUncertain(err):
			status = "uncertain"
		}
		metrics.RecordWorkflow(string(action.Kind), status, time.Since(started))

		if database.CommitUncertain(err) {
			return &Result{Uncertain: true}, err
		}
		return nil, err
	}

	result, err := decodeResult(idemResult)
	if err != nil {
		return nil, err
	}

	if idemResult.FromCache {
		// Replayed response: the original execution already published.
		result.Replayed = true
		metrics.RecordWorkflow(string(action.Kind), "replayed", time.Since(started))
		return result, nil
	}

	// Events go out only after the transaction committed, all sharing one
	// correlation id.
	c.bus.Publish(ctx, pending...)

	metrics.RecordWorkflow(string(action.Kind), "ok", time.Since(started))
	c.log.Info("workflow executed",
		slog.Int64("user_id", action.UserID),
		slog.String("kind", string(action.Kind)),
		slog.String("correlation_id", correlationID),
		slog.Int("effects", len(result.Effects)),
		slog.Duration("duration", time.Since(started)),
	)

	return result, nil
}

// run executes the action inside one transaction, guarded by the storage
// breaker and retried only for retryable classifications. The transaction
// rolled back fully before any retry, so re-running is safe.
func (c *Coordinator) run(ctx context.Context, action domain.UserAction, correlationID string, pending *[]domain.Event) (*Result, error) {
	var result *Result

	err := errors.WithRetry(ctx, func() error {
		return c.breaker.Call(func() error {
			*pending = (*pending)[:0]
			var txErr error
			result, txErr = c.runOnce(ctx, action, correlationID, pending)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Coordinator) runOnce(ctx context.Context, action domain.UserAction, correlationID string, pending *[]domain.Event) (*Result, error) {
	result := &Result{Success: true}

	err := c.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		switch action.Kind {
		case domain.ActionNarrativeStart, domain.ActionNarrativeChoice, domain.ActionNarrativeContinue:
			return c.runNarrative(ctx, q, action, correlationID, result, pending)
		case domain.ActionDailyBonus:
			return c.runDailyBonus(ctx, q, action, correlationID, result, pending)
		case domain.ActionRedeemAccess:
			return c.runRedeemAccess(ctx, q, action, correlationID, result, pending)
		default:
			return errors.NewValidationError(fmt.Sprintf("unknown action kind %q", action.Kind))
		}
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Coordinator) runNarrative(ctx context.Context, q database.Querier, action domain.UserAction, correlationID string, result *Result, pending *[]domain.Event) error {
	var (
		adv *narrative.Advance
		err error
	)

	// The transition happens first; its triggers execute afterwards in
	// declaration order, all in this same transaction.
	switch action.Kind {
	case domain.ActionNarrativeStart:
		adv, err = c.machine.Start(ctx, q, action.UserID)
	case domain.ActionNarrativeChoice:
		adv, err = c.machine.Advance(ctx, q, action.UserID, action.ChoiceIndex)
	default:
		adv, err = c.machine.Continue(ctx, q, action.UserID)
	}
	if err != nil {
		return err
	}

	result.Fragment = adv.Fragment
	*pending = append(*pending, domain.Event{
		Type:   domain.EventNarrativeAdvanced,
		UserID: action.UserID,
		Payload: map[string]any{
			"fragment_id":   adv.Fragment.ID,
			"first_visit":   adv.FirstVisit,
			"completed_ids": adv.CompletedIDs,
			"terminal":      adv.Completed,
		},
		CorrelationID: correlationID,
		Source:        "workflow",
		OccurredAt:    time.Now().UTC(),
	})

	parentKey := action.IdempotencyKey
	if parentKey == "" {
		parentKey = correlationID
	}

	for i, effect := range adv.Effects {
		if err := c.applyEffect(ctx, q, action.UserID, effect, idempotency.DeriveKey(parentKey, "effect", i), correlationID, result, pending); err != nil {
			return err
		}
	}

	balance, err := c.ledger.GetBalance(ctx, q, action.UserID)
	if err != nil {
		// The transition itself succeeded; a missing balance only degrades
		// the rendered reply.
		c.log.Warn("failed to read balance for workflow result",
			slog.Int64("user_id", action.UserID),
			slog.Any("error", err),
		)
		return nil
	}
	result.Balance = balance

	return nil
}

func (c *Coordinator) applyEffect(ctx context.Context, q database.Querier, userID int64, effect domain.Effect, idemKey, correlationID string, result *Result, pending *[]domain.Event) error {
	switch effect.Kind {
	case domain.EffectCurrencyGrant:
		entry, err := c.ledger.RecordDelta(ctx, q, userID, effect.Amount, domain.SourceNarrative, "fragment trigger", idemKey)
		if err != nil {
			return err
		}
		result.Effects = append(result.Effects, SubEffect{Kind: string(effect.Kind), Amount: effect.Amount})
		*pending = append(*pending, currencyChangedEvent(userID, entry, correlationID))

	case domain.EffectKeyUnlock:
		if err := c.machine.UnlockKey(ctx, q, userID, effect.Key); err != nil {
			return err
		}
		result.Effects = append(result.Effects, SubEffect{Kind: string(effect.Kind), Key: effect.Key})

	case domain.EffectAchievementUnlock:
		achievement, created, err := c.unlocks.Unlock(ctx, q, userID, effect.AchievementID)
		if err != nil {
			return err
		}
		if created {
			result.Effects = append(result.Effects, SubEffect{Kind: string(effect.Kind), AchievementID: achievement.ID})
			*pending = append(*pending, domain.Event{
				Type:   domain.EventAchievementUnlocked,
				UserID: userID,
				Payload: map[string]any{
					"achievement_id": achievement.ID,
					"title":          achievement.Title,
					"access_days":    achievement.AccessDays,
				},
				CorrelationID: correlationID,
				Source:        "workflow",
				OccurredAt:    time.Now().UTC(),
			})
		}

	default:
		return errors.NewValidationError(fmt.Sprintf("unknown effect kind %q", effect.Kind))
	}

	return nil
}

func (c *Coordinator) runDailyBonus(ctx context.Context, q database.Querier, action domain.UserAction, correlationID string, result *Result, pending *[]domain.Event) error {
	last, err := c.ledger.LastEntryBySource(ctx, q, action.UserID, domain.SourceDailyBonus)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if last != nil && sameUTCDay(last.CreatedAt, now) {
		return errors.NewValidationError("daily bonus already claimed today")
	}

	idemKey := action.IdempotencyKey
	if idemKey == "" {
		idemKey = idempotency.GenerateKey(action.UserID, domain.SourceDailyBonus, now.Format("2006-01-02"))
	}

	entry, err := c.ledger.RecordDelta(ctx, q, action.UserID, c.rewards.DailyBonusAmount, domain.SourceDailyBonus, "daily bonus", idemKey)
	if err != nil {
		return err
	}

	result.Balance = entry.Balance
	result.Effects = append(result.Effects, SubEffect{Kind: string(domain.EffectCurrencyGrant), Amount: c.rewards.DailyBonusAmount})
	*pending = append(*pending, currencyChangedEvent(action.UserID, entry, correlationID))

	return nil
}

func (c *Coordinator) runRedeemAccess(ctx context.Context, q database.Querier, action domain.UserAction, correlationID string, result *Result, pending *[]domain.Event) error {
	if c.rewards.MaxRedeemableDays > 0 && action.Days > c.rewards.MaxRedeemableDays {
		return errors.NewValidationError(fmt.Sprintf("at most %d days can be redeemed at once", c.rewards.MaxRedeemableDays))
	}

	cost := int64(action.Days) * c.rewards.AccessPricePerDay

	parentKey := action.IdempotencyKey
	if parentKey == "" {
		parentKey = correlationID
	}

	// Deduction comes first: a failed grant rolls the deduction back with
	// the rest of the transaction.
	entry, err := c.ledger.Deduct(ctx, q, action.UserID, cost, domain.SourceAccessRedeem, fmt.Sprintf("premium access, %d days", action.Days), idempotency.DeriveKey(parentKey, "deduct"))
	if err != nil {
		return err
	}

	duration := time.Duration(action.Days) * 24 * time.Hour
	grant, err := c.ledger.EnsureAccess(ctx, q, action.UserID, domain.SourceAccessRedeem, duration, idempotency.DeriveKey(parentKey, "grant"))
	if err != nil {
		return err
	}

	result.Balance = entry.Balance
	result.ExpiresAt = &grant.ExpiresAt
	result.Effects = append(result.Effects,
		SubEffect{Kind: "currency_deduct", Amount: cost},
		SubEffect{Kind: "access_grant", Amount: int64(action.Days)},
	)

	*pending = append(*pending,
		currencyChangedEvent(action.UserID, entry, correlationID),
		domain.Event{
			Type:   domain.EventAccessChanged,
			UserID: action.UserID,
			Payload: map[string]any{
				"action":     string(grant.Action),
				"source":     grant.Source,
				"expires_at": grant.ExpiresAt.Format(time.RFC3339),
			},
			CorrelationID: correlationID,
			Source:        "workflow",
			OccurredAt:    time.Now().UTC(),
		},
	)

	return nil
}

func currencyChangedEvent(userID int64, entry *domain.LedgerEntry, correlationID string) domain.Event {
	return domain.Event{
		Type:   domain.EventCurrencyChanged,
		UserID: userID,
		Payload: map[string]any{
			"amount":  entry.Amount,
			"balance": entry.Balance,
			"source":  entry.Source,
		},
		CorrelationID: correlationID,
		Source:        "workflow",
		OccurredAt:    time.Now().UTC(),
	}
}

func validate(action domain.UserAction) error {
	if action.UserID == 0 {
		return errors.NewValidationError("user id is required")
	}

	switch action.Kind {
	case domain.ActionNarrativeStart, domain.ActionNarrativeContinue, domain.ActionDailyBonus:
	case domain.ActionNarrativeChoice:
		if action.ChoiceIndex < 0 {
			return errors.NewInvalidChoiceError(action.ChoiceIndex, 0)
		}
	case domain.ActionRedeemAccess:
		if action.Days <= 0 {
			return errors.NewValidationError("days must be positive")
		}
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown action kind %q", action.Kind))
	}

	return nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// decodeResult normalizes the manager's response, which is a *Result on
// first execution and a decoded JSON map on replay.
func decodeResult(r *idempotency.Result) (*Result, error) {
	if typed, ok := r.Response.(*Result); ok {
		return typed, nil
	}

	raw, err := json.Marshal(r.Response)
	if err != nil {
		return nil, fmt.Errorf("re-encode cached workflow result: %w", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode cached workflow result: %w", err)
	}

	return &result, nil
}
