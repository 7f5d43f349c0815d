package domain

import "time"

// LedgerEntry is one immutable row of the currency transaction log.
// Replaying all entries for a user in creation order must reproduce the
// user's cached balance exactly.
type LedgerEntry struct {
	ID             int64
	UserID         int64
	Amount         int64
	Balance        int64
	Source         string
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Well-known ledger entry sources.
const (
	SourceSignup        = "signup"
	SourceNarrative     = "narrative"
	SourceDailyBonus    = "daily_bonus"
	SourceAccessRedeem  = "access_redeem"
	SourceAdminAdjust   = "admin_adjust"
	SourceReconcileNote = "reconcile"
)
