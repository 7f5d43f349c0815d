package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// SQLStore implements Store and AccessStore over PostgreSQL.
type SQLStore struct{}

var (
	_ Store       = (*SQLStore)(nil)
	_ AccessStore = (*SQLStore)(nil)
)

func NewSQLStore() *SQLStore {
	return &SQLStore{}
}

func (s *SQLStore) FindEntryByKey(ctx context.Context, q database.Querier, key string) (*domain.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, amount, balance_after, source, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE idempotency_key = $1
	`

	entry, err := scanEntry(q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select ledger entry by key: %w", err)
	}

	return entry, nil
}

func (s *SQLStore) AppendEntry(ctx context.Context, q database.Querier, entry *domain.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (user_id, amount, balance_after, source, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id
	`

	if err := q.QueryRowContext(
		ctx,
		query,
		entry.UserID,
		entry.Amount,
		entry.Balance,
		entry.Source,
		entry.Reason,
		entry.IdempotencyKey,
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return nil
}

func (s *SQLStore) AdjustBalance(ctx context.Context, q database.Querier, userID, delta int64) (int64, bool, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2,
		    lifetime_earned = lifetime_earned + GREATEST($2, 0),
		    level = ((lifetime_earned + GREATEST($2, 0)) / 100) + 1
		WHERE telegram_id = $1 AND balance + $2 >= 0
		RETURNING balance
	`

	var newBalance int64
	if err := q.QueryRowContext(ctx, query, userID, delta).Scan(&newBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("adjust balance: %w", err)
	}

	return newBalance, true, nil
}

func (s *SQLStore) Balance(ctx context.Context, q database.Querier, userID int64) (int64, error) {
	const query = `SELECT balance FROM users WHERE telegram_id = $1`

	var balance int64
	if err := q.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}

	return balance, nil
}

func (s *SQLStore) SumEntries(ctx context.Context, q database.Querier, userID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`

	var sum int64
	if err := q.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}

	return sum, nil
}

func (s *SQLStore) Entries(ctx context.Context, q database.Querier, userID int64) ([]*domain.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, amount, balance_after, source, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id
	`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *SQLStore) LastEntryBySource(ctx context.Context, q database.Querier, userID int64, source string) (*domain.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, amount, balance_after, source, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND source = $2
		ORDER BY id DESC
		LIMIT 1
	`

	entry, err := scanEntry(q.QueryRowContext(ctx, query, userID, source))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select last entry by source: %w", err)
	}

	return entry, nil
}

func (s *SQLStore) FindGrantByKey(ctx context.Context, q database.Querier, key string) (*domain.AccessGrant, error) {
	const query = `
		SELECT id, user_id, action, source, duration_seconds, expires_at, active, idempotency_key, created_at
		FROM access_grants
		WHERE idempotency_key = $1
	`

	grant, err := scanGrant(q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select access grant by key: %w", err)
	}

	return grant, nil
}

func (s *SQLStore) ActiveGrant(ctx context.Context, q database.Querier, userID int64) (*domain.AccessGrant, error) {
	const query = `
		SELECT id, user_id, action, source, duration_seconds, expires_at, active, idempotency_key, created_at
		FROM access_grants
		WHERE user_id = $1 AND active
		ORDER BY id DESC
		LIMIT 1
	`

	grant, err := scanGrant(q.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select active access grant: %w", err)
	}

	return grant, nil
}

func (s *SQLStore) ActiveGrants(ctx context.Context, q database.Querier, userID int64) ([]*domain.AccessGrant, error) {
	const query = `
		SELECT id, user_id, action, source, duration_seconds, expires_at, active, idempotency_key, created_at
		FROM access_grants
		WHERE user_id = $1 AND active
		ORDER BY id
	`

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select active access grants: %w", err)
	}
	defer rows.Close()

	var grants []*domain.AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

func (s *SQLStore) AppendGrant(ctx context.Context, q database.Querier, grant *domain.AccessGrant) error {
	const query = `
		INSERT INTO access_grants (user_id, action, source, duration_seconds, expires_at, active, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING id
	`

	if err := q.QueryRowContext(
		ctx,
		query,
		grant.UserID,
		string(grant.Action),
		grant.Source,
		int64(grant.Duration/time.Second),
		grant.ExpiresAt,
		grant.Active,
		grant.IdempotencyKey,
		grant.CreatedAt,
	).Scan(&grant.ID); err != nil {
		return fmt.Errorf("insert access grant: %w", err)
	}

	return nil
}

func (s *SQLStore) DeactivateGrant(ctx context.Context, q database.Querier, grantID int64) error {
	const query = `UPDATE access_grants SET active = FALSE WHERE id = $1`

	if _, err := q.ExecContext(ctx, query, grantID); err != nil {
		return fmt.Errorf("deactivate access grant: %w", err)
	}

	return nil
}

func (s *SQLStore) ExpireDue(ctx context.Context, q database.Querier, now time.Time) ([]*domain.AccessGrant, error) {
	const query = `
		UPDATE access_grants
		SET active = FALSE
		WHERE active AND expires_at <= $1
		RETURNING id, user_id, action, source, duration_seconds, expires_at, active, idempotency_key, created_at
	`

	rows, err := q.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire due access grants: %w", err)
	}
	defer rows.Close()

	var grants []*domain.AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired grant: %w", err)
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var (
		entry domain.LedgerEntry
		key   sql.NullString
	)

	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Amount,
		&entry.Balance,
		&entry.Source,
		&entry.Reason,
		&key,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}

	entry.IdempotencyKey = key.String
	return &entry, nil
}

func scanGrant(row rowScanner) (*domain.AccessGrant, error) {
	var (
		grant           domain.AccessGrant
		action          string
		durationSeconds int64
		key             sql.NullString
	)

	if err := row.Scan(
		&grant.ID,
		&grant.UserID,
		&action,
		&grant.Source,
		&durationSeconds,
		&grant.ExpiresAt,
		&grant.Active,
		&key,
		&grant.CreatedAt,
	); err != nil {
		return nil, err
	}

	grant.Action = domain.AccessAction(action)
	grant.Duration = time.Duration(durationSeconds) * time.Second
	grant.IdempotencyKey = key.String
	return &grant, nil
}
