// Package repository provides SQL persistence for users.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// ErrUserNotFound indicates that no user row matches the telegram id.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines persistence operations for users. Methods accept
// a Querier so callers can compose them into a larger transaction.
type UserRepository interface {
	FindByTelegramID(ctx context.Context, q database.Querier, telegramID int64) (*domain.User, error)
	Create(ctx context.Context, q database.Querier, user *domain.User) error
	UpgradeRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) (bool, error)
	SetRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) error
	TouchLastActive(ctx context.Context, q database.Querier, telegramID int64) error
	SetProjections(ctx context.Context, q database.Querier, telegramID int64, balance, lifetimeEarned int64, level int) error
	IDs(ctx context.Context, q database.Querier, afterID int64, limit int) ([]int64, error)
}

type userRepository struct {
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(log *slog.Logger) UserRepository {
	return &userRepository{log: log}
}

const userColumns = `id, telegram_id, first_name, last_name, username, role, balance, level, lifetime_earned, last_active_at, created_at`

// FindByTelegramID retrieves a user by their chat-platform identifier.
func (r *userRepository) FindByTelegramID(ctx context.Context, q database.Querier, telegramID int64) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE telegram_id = $1`, userColumns)

	row := q.QueryRowContext(ctx, query, telegramID)

	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&role,
		&user.Balance,
		&user.Level,
		&user.LifetimeEarned,
		&user.LastActiveAt,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user by telegram id: %w", err)
	}

	user.Role = domain.Role(role)
	return &user, nil
}

// Create persists a new user record.
func (r *userRepository) Create(ctx context.Context, q database.Querier, user *domain.User) error {
	const query = `
		INSERT INTO users (telegram_id, first_name, last_name, username, role, balance, level, lifetime_earned, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if user.Role == "" {
		user.Role = domain.RoleStandard
	}
	if user.Level == 0 {
		user.Level = domain.LevelForEarned(user.LifetimeEarned)
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastActiveAt.IsZero() {
		user.LastActiveAt = now
	}

	if _, err := q.ExecContext(
		ctx,
		query,
		user.TelegramID,
		user.FirstName,
		user.LastName,
		user.Username,
		string(user.Role),
		user.Balance,
		user.Level,
		user.LifetimeEarned,
		user.LastActiveAt,
		user.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// UpgradeRole raises the user's role, never lowers it. The rank check runs
// in SQL so concurrent upgrades cannot downgrade each other.
func (r *userRepository) UpgradeRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) (bool, error) {
	const query = `
		UPDATE users SET role = $2
		WHERE telegram_id = $1
		  AND array_position(ARRAY['standard', 'premium', 'administrator'], role) <
		      array_position(ARRAY['standard', 'premium', 'administrator'], $2)
	`

	res, err := q.ExecContext(ctx, query, telegramID, string(role))
	if err != nil {
		return false, fmt.Errorf("upgrade user role: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if affected > 0 && r.log != nil {
		r.log.Info("user role upgraded", slog.Int64("telegram_id", telegramID), slog.String("role", string(role)))
	}

	return affected > 0, nil
}

// SetRole assigns the role unconditionally. Used by explicit revoke flows.
func (r *userRepository) SetRole(ctx context.Context, q database.Querier, telegramID int64, role domain.Role) error {
	const query = `UPDATE users SET role = $2 WHERE telegram_id = $1`

	if _, err := q.ExecContext(ctx, query, telegramID, string(role)); err != nil {
		return fmt.Errorf("set user role: %w", err)
	}

	return nil
}

// TouchLastActive bumps the activity timestamp.
func (r *userRepository) TouchLastActive(ctx context.Context, q database.Querier, telegramID int64) error {
	const query = `UPDATE users SET last_active_at = NOW() WHERE telegram_id = $1`

	if _, err := q.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("touch last active: %w", err)
	}

	return nil
}

// SetProjections overwrites the cached ledger projections. Only the
// reconciliation engine calls this.
func (r *userRepository) SetProjections(ctx context.Context, q database.Querier, telegramID int64, balance, lifetimeEarned int64, level int) error {
	const query = `
		UPDATE users SET balance = $2, lifetime_earned = $3, level = $4
		WHERE telegram_id = $1
	`

	if _, err := q.ExecContext(ctx, query, telegramID, balance, lifetimeEarned, level); err != nil {
		return fmt.Errorf("set user projections: %w", err)
	}

	return nil
}

// IDs pages telegram ids in ascending order for sweep jobs.
func (r *userRepository) IDs(ctx context.Context, q database.Querier, afterID int64, limit int) ([]int64, error) {
	const query = `
		SELECT telegram_id FROM users
		WHERE telegram_id > $1
		ORDER BY telegram_id
		LIMIT $2
	`

	rows, err := q.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
