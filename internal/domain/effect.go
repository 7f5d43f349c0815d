package domain

// EffectKind enumerates the closed set of side effects a fragment trigger
// can request. The coordinator dispatches exhaustively on this kind.
type EffectKind string

const (
	// EffectCurrencyGrant credits reward currency to the user.
	EffectCurrencyGrant EffectKind = "currency_grant"
	// EffectKeyUnlock adds an unlock key to the user's narrative state.
	EffectKeyUnlock EffectKind = "key_unlock"
	// EffectAchievementUnlock requests an idempotent achievement unlock.
	EffectAchievementUnlock EffectKind = "achievement_unlock"
)

// Effect is a declarative, not-yet-executed side effect. The narrative state
// machine returns effects as pending work; only the workflow coordinator
// executes them, inside the same unit-of-work as the state transition that
// produced them.
type Effect struct {
	Kind          EffectKind `json:"kind" yaml:"kind"`
	Amount        int64      `json:"amount,omitempty" yaml:"amount"`
	Key           string     `json:"key,omitempty" yaml:"key"`
	AchievementID string     `json:"achievement_id,omitempty" yaml:"achievement_id"`
}

// Valid reports whether the effect carries the fields its kind requires.
func (e Effect) Valid() bool {
	switch e.Kind {
	case EffectCurrencyGrant:
		return e.Amount > 0
	case EffectKeyUnlock:
		return e.Key != ""
	case EffectAchievementUnlock:
		return e.AchievementID != ""
	default:
		return false
	}
}
