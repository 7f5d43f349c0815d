package domain

import "time"

// Role classifies the access tier of a user. Roles are upgrade-preferred:
// workflows may raise a role as a side effect but never lower it. Downgrades
// require an explicit revoke action.
type Role string

const (
	RoleStandard      Role = "standard"
	RolePremium       Role = "premium"
	RoleAdministrator Role = "administrator"
)

// rank orders roles for monotonic upgrade checks.
func (r Role) rank() int {
	switch r {
	case RolePremium:
		return 1
	case RoleAdministrator:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether r grants the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return r.rank() >= other.rank()
}

// User represents an application user stored in the database.
// Balance and Level are denormalized projections: the ledger is the source
// of truth and reconciliation repairs any drift.
type User struct {
	ID             int64
	TelegramID     int64
	FirstName      string
	LastName       string
	Username       string
	Role           Role
	Balance        int64
	Level          int
	LifetimeEarned int64
	LastActiveAt   time.Time
	CreatedAt      time.Time
}

// LevelForEarned derives the level projection from lifetime earned currency.
// Levels follow a simple 100-per-level curve starting at level 1.
func LevelForEarned(earned int64) int {
	if earned < 0 {
		earned = 0
	}

	return int(earned/100) + 1
}
