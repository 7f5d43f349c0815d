package domain

import "time"

// CriterionKind enumerates the supported achievement unlock predicates.
type CriterionKind string

const (
	// CriterionFragmentCompleted unlocks when a specific fragment is completed.
	CriterionFragmentCompleted CriterionKind = "fragment_completed"
	// CriterionBalanceAtLeast unlocks when the cached balance reaches a threshold.
	CriterionBalanceAtLeast CriterionKind = "balance_at_least"
	// CriterionLifetimeEarned unlocks when the lifetime earned total reaches a threshold.
	CriterionLifetimeEarned CriterionKind = "lifetime_earned"
)

// Criterion is the declarative unlock predicate of an achievement.
type Criterion struct {
	Kind       CriterionKind `yaml:"kind"`
	FragmentID string        `yaml:"fragment_id"`
	Threshold  int64         `yaml:"threshold"`
}

// Achievement is an achievement definition. AccessDays, when non-zero, is a
// premium-access payload issued through the access ledger on unlock.
type Achievement struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Criterion   Criterion `yaml:"criterion"`
	AccessDays  int       `yaml:"access_days"`
}

// AchievementUnlock is the per-user unlock record. The (user, achievement)
// pair is recorded at most once no matter how many workflows satisfy the
// criterion concurrently.
type AchievementUnlock struct {
	UserID        int64
	AchievementID string
	UnlockedAt    time.Time
}
