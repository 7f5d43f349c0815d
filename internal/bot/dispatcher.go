package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/bot/keyboard"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/i18n"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/workflow"
	"github.com/questline/questline-bot/pkg/logger"

	"github.com/google/uuid"
)

const dispatchTimeout = 30 * time.Second

// Dispatcher translates Telegram updates into normalized user actions,
// hands them to the workflow coordinator, and renders the outcome.
type Dispatcher struct {
	coordinator *workflow.Coordinator
	keyboard    *keyboard.Builder
	i18n        *i18n.Manager
	log         *slog.Logger
}

// NewDispatcher creates a Dispatcher bound to the workflow coordinator.
func NewDispatcher(coordinator *workflow.Coordinator, kb *keyboard.Builder, translations *i18n.Manager, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		coordinator: coordinator,
		keyboard:    kb,
		i18n:        translations,
		log:         log,
	}
}

// StartStory begins or resumes the narrative for the sender.
func (d *Dispatcher) StartStory(c telebot.Context) error {
	return d.execute(c, domain.UserAction{Kind: domain.ActionNarrativeStart})
}

// Choose applies the choice index carried in the callback data.
func (d *Dispatcher) Choose(c telebot.Context) error {
	index, err := callbackIndex(c, keyboard.UniqueChoice)
	if err != nil {
		return err
	}

	return d.execute(c, domain.UserAction{Kind: domain.ActionNarrativeChoice, ChoiceIndex: index})
}

// Continue follows the default transition of the sender's current fragment.
func (d *Dispatcher) Continue(c telebot.Context) error {
	return d.execute(c, domain.UserAction{Kind: domain.ActionNarrativeContinue})
}

// ClaimDaily claims the once-per-day currency reward.
func (d *Dispatcher) ClaimDaily(c telebot.Context) error {
	return d.execute(c, domain.UserAction{Kind: domain.ActionDailyBonus})
}

// Redeem spends currency on the premium-access window named in the callback data.
func (d *Dispatcher) Redeem(c telebot.Context) error {
	days, err := callbackIndex(c, keyboard.UniqueRedeem)
	if err != nil {
		return err
	}

	return d.execute(c, domain.UserAction{Kind: domain.ActionRedeemAccess, Days: days})
}

func (d *Dispatcher) execute(c telebot.Context, action domain.UserAction) error {
	if c == nil || c.Sender() == nil {
		d.log.Warn("cannot dispatch without sender information")
		return nil
	}

	action.UserID = c.Sender().ID
	action.IdempotencyKey = actionKey(c, action.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ctx = logger.WithCorrelationID(ctx, uuid.NewString())

	result, err := d.coordinator.Execute(ctx, action)

	if cb := c.Callback(); cb != nil {
		_ = c.Respond(&telebot.CallbackResponse{})
	}

	if err != nil {
		if result != nil && result.Uncertain {
			t := d.translator(c)
			return c.Send(t.T("workflow.uncertain"))
		}
		return err
	}

	return d.render(c, action, result)
}

func (d *Dispatcher) render(c telebot.Context, action domain.UserAction, result *workflow.Result) error {
	t := d.translator(c)

	switch action.Kind {
	case domain.ActionDailyBonus:
		return c.Send(t.Tf("daily.claimed", bonusAmount(result), result.Balance))

	case domain.ActionRedeemAccess:
		expires := ""
		if result.ExpiresAt != nil {
			expires = result.ExpiresAt.Format("2 Jan 2006 15:04 MST")
		}
		return c.Send(t.Tf("premium.redeemed", action.Days, expires, result.Balance))

	default:
		return d.renderFragment(c, t, result)
	}
}

func (d *Dispatcher) renderFragment(c telebot.Context, t i18n.Translator, result *workflow.Result) error {
	if result.Fragment == nil {
		return c.Send(t.T("story.nothing_here"))
	}

	var sb strings.Builder
	if result.Fragment.Title != "" {
		sb.WriteString("*")
		sb.WriteString(result.Fragment.Title)
		sb.WriteString("*\n\n")
	}
	sb.WriteString(result.Fragment.Body)

	for _, line := range effectLines(t, result.Effects) {
		sb.WriteString("\n\n")
		sb.WriteString(line)
	}

	if result.Fragment.Terminal() {
		sb.WriteString("\n\n")
		sb.WriteString(t.T("story.the_end"))
	}

	markup := d.keyboard.Fragment(t, result.Fragment)
	if markup != nil {
		return c.Send(sb.String(), markup, telebot.ModeMarkdown)
	}

	return c.Send(sb.String(), telebot.ModeMarkdown)
}

func (d *Dispatcher) translator(c telebot.Context) i18n.Translator {
	lang := ""
	if c != nil && c.Sender() != nil {
		lang = c.Sender().LanguageCode
	}

	return d.i18n.Translator(lang)
}

func effectLines(t i18n.Translator, effects []workflow.SubEffect) []string {
	lines := make([]string, 0, len(effects))
	for _, effect := range effects {
		switch effect.Kind {
		case string(domain.EffectCurrencyGrant):
			lines = append(lines, t.Tf("story.currency_gained", effect.Amount))
		case string(domain.EffectKeyUnlock):
			lines = append(lines, t.Tf("story.key_unlocked", effect.Key))
		case string(domain.EffectAchievementUnlock):
			lines = append(lines, t.Tf("story.achievement_unlocked", effect.AchievementID))
		}
	}

	return lines
}

// actionKey derives a stable idempotency key from the inbound update, so a
// redelivered update replays the stored result instead of re-running the workflow.
func actionKey(c telebot.Context, kind domain.ActionKind) string {
	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return idempotency.GenerateKey("action", kind, "cb", cb.ID)
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		chatID := int64(0)
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return idempotency.GenerateKey("action", kind, "msg", chatID, msg.ID)
	}

	return ""
}

func callbackIndex(c telebot.Context, unique string) (int, error) {
	cb := c.Callback()
	if cb == nil {
		return 0, errors.NewValidationError("missing callback payload")
	}

	_, data, err := keyboard.DecodeCallback(strings.TrimPrefix(cb.Data, "\f"))
	if err != nil {
		return 0, errors.NewValidationError(err.Error())
	}

	value, err := strconv.Atoi(data)
	if err != nil {
		return 0, errors.NewValidationError(fmt.Sprintf("malformed %s payload", unique))
	}

	return value, nil
}

func bonusAmount(result *workflow.Result) int64 {
	for _, effect := range result.Effects {
		if effect.Kind == string(domain.EffectCurrencyGrant) {
			return effect.Amount
		}
	}

	return 0
}
