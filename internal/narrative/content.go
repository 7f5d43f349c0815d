// Package narrative manages the fragment graph and per-user progression.
package narrative

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// ErrFragmentNotFound indicates that a fragment id does not resolve.
var ErrFragmentNotFound = errors.New("narrative fragment not found")

// ContentRepository provides read-only access to authored narrative
// content. Content is owned by the authoring pipeline; this service never
// mutates published fragments.
type ContentRepository interface {
	Fragment(ctx context.Context, id string) (*domain.Fragment, error)
	Fragments(ctx context.Context) ([]*domain.Fragment, error)
}

// SQLContentRepository reads fragments from the narrative_fragments table.
type SQLContentRepository struct {
	db *sql.DB
}

var _ ContentRepository = (*SQLContentRepository)(nil)

func NewSQLContentRepository(db *sql.DB) *SQLContentRepository {
	return &SQLContentRepository{db: db}
}

func (r *SQLContentRepository) Fragment(ctx context.Context, id string) (*domain.Fragment, error) {
	const query = `
		SELECT id, kind, title, body, choices, next_id, triggers, required_keys, archived
		FROM narrative_fragments
		WHERE id = $1
	`

	fragment, err := scanFragment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFragmentNotFound
		}
		return nil, fmt.Errorf("select fragment: %w", err)
	}

	return fragment, nil
}

func (r *SQLContentRepository) Fragments(ctx context.Context) ([]*domain.Fragment, error) {
	const query = `
		SELECT id, kind, title, body, choices, next_id, triggers, required_keys, archived
		FROM narrative_fragments
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select fragments: %w", err)
	}
	defer rows.Close()

	var fragments []*domain.Fragment
	for rows.Next() {
		fragment, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		fragments = append(fragments, fragment)
	}

	return fragments, rows.Err()
}

// Upsert publishes a fragment row. Used only by the content importer.
func (r *SQLContentRepository) Upsert(ctx context.Context, q database.Querier, fragment *domain.Fragment) error {
	const query = `
		INSERT INTO narrative_fragments (id, kind, title, body, choices, next_id, triggers, required_keys, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			choices = EXCLUDED.choices,
			next_id = EXCLUDED.next_id,
			triggers = EXCLUDED.triggers,
			required_keys = EXCLUDED.required_keys,
			archived = EXCLUDED.archived
	`

	choices, err := json.Marshal(fragment.Choices)
	if err != nil {
		return fmt.Errorf("encode choices: %w", err)
	}

	triggers, err := json.Marshal(fragment.Triggers)
	if err != nil {
		return fmt.Errorf("encode triggers: %w", err)
	}

	if _, err := q.ExecContext(
		ctx,
		query,
		fragment.ID,
		string(fragment.Kind),
		fragment.Title,
		fragment.Body,
		choices,
		fragment.NextID,
		triggers,
		pq.Array(fragment.RequiredKeys),
		fragment.Archived,
	); err != nil {
		return fmt.Errorf("upsert fragment: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*domain.Fragment, error) {
	var (
		fragment     domain.Fragment
		kind         string
		choicesJSON  []byte
		triggersJSON []byte
		requiredKeys pq.StringArray
	)

	if err := row.Scan(
		&fragment.ID,
		&kind,
		&fragment.Title,
		&fragment.Body,
		&choicesJSON,
		&fragment.NextID,
		&triggersJSON,
		&requiredKeys,
		&fragment.Archived,
	); err != nil {
		return nil, err
	}

	fragment.Kind = domain.FragmentKind(kind)
	fragment.RequiredKeys = requiredKeys

	if len(choicesJSON) > 0 {
		if err := json.Unmarshal(choicesJSON, &fragment.Choices); err != nil {
			return nil, fmt.Errorf("decode choices: %w", err)
		}
	}

	if len(triggersJSON) > 0 {
		if err := json.Unmarshal(triggersJSON, &fragment.Triggers); err != nil {
			return nil, fmt.Errorf("decode triggers: %w", err)
		}
	}

	return &fragment, nil
}
