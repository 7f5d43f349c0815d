package achievements

import (
	"context"
	"fmt"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// Store persists per-user unlock records. Unlock must be idempotent: the
// (user, achievement) pair is recorded at most once.
type Store interface {
	Unlock(ctx context.Context, q database.Querier, userID int64, achievementID string) (bool, error)
	Unlocks(ctx context.Context, q database.Querier, userID int64) ([]domain.AchievementUnlock, error)
	HasUnlock(ctx context.Context, q database.Querier, userID int64, achievementID string) (bool, error)
}

type SQLStore struct{}

var _ Store = (*SQLStore)(nil)

func NewSQLStore() *SQLStore {
	return &SQLStore{}
}

// Unlock inserts the unlock record, reporting whether this call created it.
// A concurrent or repeated unlock is absorbed by the primary key.
func (s *SQLStore) Unlock(ctx context.Context, q database.Querier, userID int64, achievementID string) (bool, error) {
	const query = `
		INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`

	res, err := q.ExecContext(ctx, query, userID, achievementID)
	if err != nil {
		return false, fmt.Errorf("insert achievement unlock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (s *SQLStore) Unlocks(ctx context.Context, q database.Querier, userID int64) ([]domain.AchievementUnlock, error) {
	const query = `
		SELECT user_id, achievement_id, unlocked_at
		FROM achievement_unlocks
		WHERE user_id = $1
		ORDER BY unlocked_at
	`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select achievement unlocks: %w", err)
	}
	defer rows.Close()

	var unlocks []domain.AchievementUnlock
	for rows.Next() {
		var u domain.AchievementUnlock
		if err := rows.Scan(&u.UserID, &u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement unlock: %w", err)
		}
		unlocks = append(unlocks, u)
	}

	return unlocks, rows.Err()
}

func (s *SQLStore) HasUnlock(ctx context.Context, q database.Querier, userID int64, achievementID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM achievement_unlocks
			WHERE user_id = $1 AND achievement_id = $2
		)
	`

	var exists bool
	if err := q.QueryRowContext(ctx, query, userID, achievementID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check achievement unlock: %w", err)
	}

	return exists, nil
}
