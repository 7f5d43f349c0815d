package domain

// ActionKind enumerates the workflow kinds the coordinator executes.
type ActionKind string

const (
	// ActionNarrativeStart begins (or resumes) the story at the start fragment.
	ActionNarrativeStart ActionKind = "narrative_start"
	// ActionNarrativeChoice takes the indexed choice of the current decision fragment.
	ActionNarrativeChoice ActionKind = "narrative_choice"
	// ActionNarrativeContinue follows the default transition of a story/info fragment.
	ActionNarrativeContinue ActionKind = "narrative_continue"
	// ActionDailyBonus claims the once-per-day reward interaction.
	ActionDailyBonus ActionKind = "daily_bonus"
	// ActionRedeemAccess spends currency on a premium-access window.
	ActionRedeemAccess ActionKind = "redeem_access"
)

// UserAction is the normalized action descriptor handed to the coordinator
// by the transport layer after the raw inbound update has been resolved.
// IdempotencyKey allows the whole workflow to be retried safely.
type UserAction struct {
	UserID         int64
	Kind           ActionKind
	ChoiceIndex    int
	Days           int
	IdempotencyKey string
}
