package access

import (
	"context"
	"time"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

// GrantReader is the slice of the ledger service the guard reads from.
type GrantReader interface {
	ActiveGrant(ctx context.Context, q database.Querier, userID int64) (*domain.AccessGrant, error)
}

// Guard answers "does this user have premium access right now".
// Administrators pass unconditionally; everyone else needs an unexpired
// active grant.
type Guard struct {
	grants GrantReader
	db     database.Querier
}

func NewGuard(grants GrantReader, db database.Querier) *Guard {
	return &Guard{grants: grants, db: db}
}

// Check returns the active grant, or nil when the user has no access.
func (g *Guard) Check(ctx context.Context, user *domain.User) (*domain.AccessGrant, bool, error) {
	if user.Role == domain.RoleAdministrator {
		return nil, true, nil
	}

	grant, err := g.grants.ActiveGrant(ctx, g.db, user.TelegramID)
	if err != nil {
		return nil, false, err
	}
	if grant == nil || grant.Expired(time.Now().UTC()) {
		return nil, false, nil
	}

	return grant, true, nil
}
