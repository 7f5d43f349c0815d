package handlers

import (
	"context"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/access"
	"github.com/questline/questline-bot/internal/bot/keyboard"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/i18n"
	"github.com/questline/questline-bot/internal/user"
)

// PremiumHandler renders the /premium command: current access status plus
// the redeemable duration menu.
type PremiumHandler struct {
	users        *user.Service
	guard        *access.Guard
	keyboard     *keyboard.Builder
	translations *i18n.Manager
	dayOptions   []int
	pricePerDay  int64
	log          *slog.Logger
}

// NewPremiumHandler builds the premium status handler.
func NewPremiumHandler(
	users *user.Service,
	guard *access.Guard,
	kb *keyboard.Builder,
	translations *i18n.Manager,
	dayOptions []int,
	pricePerDay int64,
	log *slog.Logger,
) *PremiumHandler {
	if log == nil {
		log = slog.Default()
	}
	if len(dayOptions) == 0 {
		dayOptions = []int{1, 7, 30}
	}

	return &PremiumHandler{
		users:        users,
		guard:        guard,
		keyboard:     kb,
		translations: translations,
		dayOptions:   dayOptions,
		pricePerDay:  pricePerDay,
		log:          log,
	}
}

// Handle renders the sender's premium access status.
func (h *PremiumHandler) Handle(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}

	t := h.translations.Translator(c.Sender().LanguageCode)
	ctx := context.Background()

	profile, err := h.users.Get(ctx, c.Sender().ID)
	if err != nil {
		return err
	}

	grant, ok, err := h.guard.Check(ctx, profile)
	if err != nil {
		return err
	}

	var sb strings.Builder
	switch {
	case profile.Role == domain.RoleAdministrator:
		sb.WriteString(t.T("premium.administrator"))
	case ok && grant != nil:
		sb.WriteString(t.Tf("premium.active_until", grant.ExpiresAt.Format("2 Jan 2006 15:04 MST")))
	default:
		sb.WriteString(t.T("premium.inactive"))
	}

	sb.WriteString("\n\n")
	sb.WriteString(t.Tf("premium.price", h.pricePerDay))

	markup := h.keyboard.RedeemMenu(t, h.dayOptions, h.pricePerDay)
	if markup != nil {
		return c.Send(sb.String(), markup)
	}

	return c.Send(sb.String())
}
