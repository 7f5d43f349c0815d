// Package ledger owns the append-only transaction logs for reward currency
// and premium access. It is the only component allowed to write
// ledger_entries and access_grants, and it is the source of truth that
// reconciliation compares projections against.
package ledger

import (
	"context"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// Store is the persistence contract for currency ledger entries and the
// balance projection. All methods take a Querier so the coordinator's
// transaction covers the append and the projection update together.
type Store interface {
	// FindEntryByKey returns the entry recorded under the idempotency key,
	// or nil when absent.
	FindEntryByKey(ctx context.Context, q database.Querier, key string) (*domain.LedgerEntry, error)
	// AppendEntry inserts one immutable ledger row and fills its ID.
	AppendEntry(ctx context.Context, q database.Querier, entry *domain.LedgerEntry) error
	// AdjustBalance moves the cached balance projection by delta. It
	// reports ok=false without changing anything when the user is unknown
	// or the resulting balance would be negative.
	AdjustBalance(ctx context.Context, q database.Querier, userID, delta int64) (newBalance int64, ok bool, err error)
	// Balance returns the cached balance projection.
	Balance(ctx context.Context, q database.Querier, userID int64) (int64, error)
	// SumEntries independently replays the ledger for the user.
	SumEntries(ctx context.Context, q database.Querier, userID int64) (int64, error)
	// Entries returns the user's ledger rows in append order.
	Entries(ctx context.Context, q database.Querier, userID int64) ([]*domain.LedgerEntry, error)
	// LastEntryBySource returns the newest entry with the given source tag,
	// or nil when absent.
	LastEntryBySource(ctx context.Context, q database.Querier, userID int64, source string) (*domain.LedgerEntry, error)
}

// AccessStore is the persistence contract for the access-grant ledger.
type AccessStore interface {
	FindGrantByKey(ctx context.Context, q database.Querier, key string) (*domain.AccessGrant, error)
	// ActiveGrant returns the single active window, or nil when none.
	ActiveGrant(ctx context.Context, q database.Querier, userID int64) (*domain.AccessGrant, error)
	// ActiveGrants lists every row still flagged active; more than one is
	// an invariant violation surfaced by reconciliation.
	ActiveGrants(ctx context.Context, q database.Querier, userID int64) ([]*domain.AccessGrant, error)
	AppendGrant(ctx context.Context, q database.Querier, grant *domain.AccessGrant) error
	// DeactivateGrant clears the active flag; the row itself is immutable
	// history and is never deleted.
	DeactivateGrant(ctx context.Context, q database.Querier, grantID int64) error
	// ExpireDue deactivates every active row whose window has passed and
	// returns the affected grants.
	ExpireDue(ctx context.Context, q database.Querier, now time.Time) ([]*domain.AccessGrant, error)
}
