package domain

import "time"

// AccessAction describes what an access-grant row records.
type AccessAction string

const (
	AccessActionGrant  AccessAction = "grant"
	AccessActionExtend AccessAction = "extend"
	AccessActionRevoke AccessAction = "revoke"
)

// AccessGrant is one immutable row of the premium-access transaction log.
// At most one row per user carries Active=true at any time; an extend
// appends a new active row with a lengthened expiry and retires the old one
// rather than opening a second concurrent window.
type AccessGrant struct {
	ID             int64
	UserID         int64
	Action         AccessAction
	Source         string
	Duration       time.Duration
	ExpiresAt      time.Time
	Active         bool
	IdempotencyKey string
	CreatedAt      time.Time
}

// Expired reports whether the grant window has passed at the given instant.
func (g *AccessGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.After(now)
}
