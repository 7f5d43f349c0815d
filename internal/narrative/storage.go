package narrative

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// ErrStateNotFound indicates that a user has not started the narrative yet.
var ErrStateNotFound = errors.New("narrative state not found")

// StateRepository persists per-user narrative progression. Methods accept
// a Querier so state changes commit in the same transaction as the ledger
// effects they trigger.
type StateRepository interface {
	State(ctx context.Context, q database.Querier, userID int64) (*domain.UserNarrativeState, error)
	Save(ctx context.Context, q database.Querier, state *domain.UserNarrativeState) error
}

type SQLStateRepository struct{}

var _ StateRepository = (*SQLStateRepository)(nil)

func NewSQLStateRepository() *SQLStateRepository {
	return &SQLStateRepository{}
}

func (r *SQLStateRepository) State(ctx context.Context, q database.Querier, userID int64) (*domain.UserNarrativeState, error) {
	const query = `
		SELECT user_id, current_id, visited, completed, unlocked_keys, updated_at
		FROM user_narrative_state
		WHERE user_id = $1
	`

	var (
		state     domain.UserNarrativeState
		visited   pq.StringArray
		completed pq.StringArray
		keys      pq.StringArray
	)

	err := q.QueryRowContext(ctx, query, userID).Scan(
		&state.UserID,
		&state.CurrentID,
		&visited,
		&completed,
		&keys,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("select narrative state: %w", err)
	}

	state.Visited = visited
	state.Completed = completed
	state.UnlockedKeys = keys

	return &state, nil
}

func (r *SQLStateRepository) Save(ctx context.Context, q database.Querier, state *domain.UserNarrativeState) error {
	const query = `
		INSERT INTO user_narrative_state (user_id, current_id, visited, completed, unlocked_keys, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			current_id = EXCLUDED.current_id,
			visited = EXCLUDED.visited,
			completed = EXCLUDED.completed,
			unlocked_keys = EXCLUDED.unlocked_keys,
			updated_at = EXCLUDED.updated_at
	`

	state.UpdatedAt = time.Now().UTC()

	if _, err := q.ExecContext(
		ctx,
		query,
		state.UserID,
		state.CurrentID,
		pq.Array(state.Visited),
		pq.Array(state.Completed),
		pq.Array(state.UnlockedKeys),
		state.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save narrative state: %w", err)
	}

	return nil
}
