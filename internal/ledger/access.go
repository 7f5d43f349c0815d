package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/pkg/metrics"
)

// GrantAccess opens a new access window. It refuses to open a second
// concurrent window; callers holding an active grant must extend instead.
func (s *Service) GrantAccess(ctx context.Context, q database.Querier, userID int64, source string, duration time.Duration, idemKey string) (*domain.AccessGrant, error) {
	if duration <= 0 {
		return nil, errors.NewValidationError("access duration must be positive")
	}

	if replay, err := s.replayGrant(ctx, q, idemKey); replay != nil || err != nil {
		return replay, err
	}

	active, err := s.access.ActiveGrant(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}
	if active != nil {
		return nil, errors.NewValidationError("an active access window already exists; extend it instead")
	}

	now := time.Now().UTC()
	grant := &domain.AccessGrant{
		UserID:         userID,
		Action:         domain.AccessActionGrant,
		Source:         source,
		Duration:       duration,
		ExpiresAt:      now.Add(duration),
		Active:         true,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
	}

	return s.appendGrant(ctx, q, grant, idemKey)
}

// ExtendAccess lengthens the existing window by duration. The old row is
// retired and a new active row records the extend; the history keeps both.
func (s *Service) ExtendAccess(ctx context.Context, q database.Querier, userID int64, source string, duration time.Duration, idemKey string) (*domain.AccessGrant, error) {
	if duration <= 0 {
		return nil, errors.NewValidationError("access duration must be positive")
	}

	if replay, err := s.replayGrant(ctx, q, idemKey); replay != nil || err != nil {
		return replay, err
	}

	active, err := s.access.ActiveGrant(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}
	if active == nil {
		return nil, errors.NewValidationError("no active access window to extend")
	}

	if err := s.access.DeactivateGrant(ctx, q, active.ID); err != nil {
		return nil, database.Classify("access retire", err)
	}

	grant := &domain.AccessGrant{
		UserID:         userID,
		Action:         domain.AccessActionExtend,
		Source:         source,
		Duration:       duration,
		ExpiresAt:      active.ExpiresAt.Add(duration),
		Active:         true,
		IdempotencyKey: idemKey,
		CreatedAt:      time.Now().UTC(),
	}

	return s.appendGrant(ctx, q, grant, idemKey)
}

// EnsureAccess grants a new window or extends the active one, whichever
// applies. Subscribers issuing achievement rewards use this form.
func (s *Service) EnsureAccess(ctx context.Context, q database.Querier, userID int64, source string, duration time.Duration, idemKey string) (*domain.AccessGrant, error) {
	if replay, err := s.replayGrant(ctx, q, idemKey); replay != nil || err != nil {
		return replay, err
	}

	active, err := s.access.ActiveGrant(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}

	if active == nil {
		return s.GrantAccess(ctx, q, userID, source, duration, idemKey)
	}

	return s.ExtendAccess(ctx, q, userID, source, duration, idemKey)
}

// RevokeAccess closes the active window, recording the revocation as its
// own immutable row.
func (s *Service) RevokeAccess(ctx context.Context, q database.Querier, userID int64, source string, idemKey string) (*domain.AccessGrant, error) {
	if replay, err := s.replayGrant(ctx, q, idemKey); replay != nil || err != nil {
		return replay, err
	}

	active, err := s.access.ActiveGrant(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}
	if active == nil {
		return nil, errors.NewValidationError("no active access window to revoke")
	}

	if err := s.access.DeactivateGrant(ctx, q, active.ID); err != nil {
		return nil, database.Classify("access retire", err)
	}

	now := time.Now().UTC()
	grant := &domain.AccessGrant{
		UserID:         userID,
		Action:         domain.AccessActionRevoke,
		Source:         source,
		ExpiresAt:      now,
		Active:         false,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
	}

	return s.appendGrant(ctx, q, grant, idemKey)
}

// ActiveGrant returns the user's single active window, or nil.
func (s *Service) ActiveGrant(ctx context.Context, q database.Querier, userID int64) (*domain.AccessGrant, error) {
	grant, err := s.access.ActiveGrant(ctx, q, userID)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}

	return grant, nil
}

// ExpireDueGrants deactivates every window that has passed and returns them
// so the caller can emit access.changed events.
func (s *Service) ExpireDueGrants(ctx context.Context, q database.Querier, now time.Time) ([]*domain.AccessGrant, error) {
	grants, err := s.access.ExpireDue(ctx, q, now)
	if err != nil {
		return nil, database.Classify("access expiry", err)
	}

	return grants, nil
}

func (s *Service) replayGrant(ctx context.Context, q database.Querier, idemKey string) (*domain.AccessGrant, error) {
	if idemKey == "" {
		return nil, nil
	}

	existing, err := s.access.FindGrantByKey(ctx, q, idemKey)
	if err != nil {
		return nil, database.Classify("access lookup", err)
	}

	return existing, nil
}

func (s *Service) appendGrant(ctx context.Context, q database.Querier, grant *domain.AccessGrant, idemKey string) (*domain.AccessGrant, error) {
	if err := s.access.AppendGrant(ctx, q, grant); err != nil {
		if database.IsUniqueViolation(err) && idemKey != "" {
			existing, findErr := s.access.FindGrantByKey(ctx, q, idemKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, database.Classify("access append", err)
	}

	metrics.RecordAccessGrant(string(grant.Action))
	s.log.Info("access grant appended",
		slog.Int64("user_id", grant.UserID),
		slog.String("action", string(grant.Action)),
		slog.Time("expires_at", grant.ExpiresAt),
		slog.String("source", grant.Source),
	)

	return grant, nil
}
