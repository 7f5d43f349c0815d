// Package reconcile detects and repairs drift between the append-only
// ledgers and their cached projections.
package reconcile

import "time"

// FindingKind classifies one detected inconsistency.
type FindingKind string

const (
	// FindingBalanceDrift: cached balance differs from the ledger replay.
	FindingBalanceDrift FindingKind = "balance_drift"
	// FindingLifetimeDrift: cached lifetime earned differs from the sum of
	// positive ledger entries.
	FindingLifetimeDrift FindingKind = "lifetime_drift"
	// FindingLevelDrift: cached level differs from the level curve applied
	// to lifetime earned.
	FindingLevelDrift FindingKind = "level_drift"
	// FindingBrokenEntryChain: a ledger row's recorded running balance does
	// not match the replay at that row.
	FindingBrokenEntryChain FindingKind = "broken_entry_chain"
	// FindingMultipleActiveGrants: more than one access row is flagged
	// active.
	FindingMultipleActiveGrants FindingKind = "multiple_active_grants"
	// FindingExpiredActiveGrant: an active access row is past its expiry.
	FindingExpiredActiveGrant FindingKind = "expired_active_grant"
	// FindingOrphanNarrativeState: the user's cursor points at a missing or
	// archived fragment.
	FindingOrphanNarrativeState FindingKind = "orphan_narrative_state"
	// FindingUnknownAchievement: an unlock record references no known
	// achievement definition.
	FindingUnknownAchievement FindingKind = "unknown_achievement"
)

// Resolution states what happened to a finding.
type Resolution string

const (
	ResolutionDetected      Resolution = "detected"
	ResolutionAutoCorrected Resolution = "auto_corrected"
	ResolutionNeedsReview   Resolution = "needs_review"
)

// Finding is one detected inconsistency for one user.
type Finding struct {
	Kind       FindingKind
	Detail     string
	Expected   int64
	Actual     int64
	Resolution Resolution
}

// AutoCorrectable reports whether the engine may repair this finding
// without operator review. Only projections and duplicate rows qualify;
// anything touching narrative semantics stays manual.
func (f Finding) AutoCorrectable() bool {
	switch f.Kind {
	case FindingBalanceDrift, FindingLifetimeDrift, FindingLevelDrift,
		FindingMultipleActiveGrants, FindingExpiredActiveGrant:
		return true
	default:
		return false
	}
}

// Report aggregates the findings of one user check.
type Report struct {
	UserID        int64
	Findings      []Finding
	AutoCorrected int
	NeedsReview   int
	CheckedAt     time.Time
}

// Clean reports whether the check found nothing.
func (r *Report) Clean() bool {
	return len(r.Findings) == 0
}

// SweepReport aggregates one full reconciliation pass.
type SweepReport struct {
	UsersChecked    int
	UsersWithIssues int
	AutoCorrected   int
	NeedsReview     int
	Duration        time.Duration
	Interrupted     bool
}
