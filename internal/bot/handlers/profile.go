package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/access"
	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/bot/keyboard"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/i18n"
	"github.com/questline/questline-bot/internal/user"
)

const unlocksPerPage = 5

// ProfileHandler renders the /profile command and pages through unlocked achievements.
type ProfileHandler struct {
	users        *user.Service
	unlocks      *achievements.Service
	guard        *access.Guard
	db           database.Querier
	translations *i18n.Manager
	log          *slog.Logger
}

// NewProfileHandler builds the profile handler.
func NewProfileHandler(
	users *user.Service,
	unlocks *achievements.Service,
	guard *access.Guard,
	db database.Querier,
	translations *i18n.Manager,
	log *slog.Logger,
) *ProfileHandler {
	if log == nil {
		log = slog.Default()
	}

	return &ProfileHandler{
		users:        users,
		unlocks:      unlocks,
		guard:        guard,
		db:           db,
		translations: translations,
		log:          log,
	}
}

// Handle renders the sender's profile card.
func (h *ProfileHandler) Handle(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}

	t := h.translations.Translator(c.Sender().LanguageCode)
	ctx := context.Background()

	profile, err := h.users.Get(ctx, c.Sender().ID)
	if err != nil {
		return err
	}

	message, err := h.profileCard(ctx, t, profile)
	if err != nil {
		return err
	}

	markup, err := h.unlocksKeyboard(ctx, t, profile.TelegramID, 1)
	if err != nil {
		return err
	}

	if markup != nil {
		return c.Send(message, markup, telebot.ModeMarkdown)
	}

	return c.Send(message, telebot.ModeMarkdown)
}

// HandleUnlocksPage re-renders the achievements section for the requested page.
func (h *ProfileHandler) HandleUnlocksPage(c telebot.Context) error {
	if c == nil || c.Sender() == nil || c.Callback() == nil {
		return nil
	}

	t := h.translations.Translator(c.Sender().LanguageCode)
	ctx := context.Background()

	_, data, err := keyboard.DecodeCallback(strings.TrimPrefix(c.Callback().Data, "\f"))
	if err != nil {
		return err
	}

	page, err := strconv.Atoi(data)
	if err != nil || page < 1 {
		page = 1
	}

	_ = c.Respond(&telebot.CallbackResponse{})

	message, err := h.unlocksPage(ctx, t, c.Sender().ID, page)
	if err != nil {
		return err
	}

	markup, err := h.unlocksKeyboard(ctx, t, c.Sender().ID, page)
	if err != nil {
		return err
	}

	if markup != nil {
		return c.Edit(message, markup, telebot.ModeMarkdown)
	}

	return c.Edit(message, telebot.ModeMarkdown)
}

func (h *ProfileHandler) profileCard(ctx context.Context, t i18n.Translator, profile *domain.User) (string, error) {
	username := strings.TrimSpace(profile.Username)
	switch {
	case username == "":
		username = fmt.Sprintf("ID:%d", profile.TelegramID)
	case !strings.HasPrefix(username, "@"):
		username = "@" + username
	}

	var sb strings.Builder
	sb.WriteString(t.Tf("profile.header", username))
	sb.WriteString("\n")
	sb.WriteString(t.Tf("profile.balance", profile.Balance))
	sb.WriteString("\n")
	sb.WriteString(t.Tf("profile.level", profile.Level, profile.LifetimeEarned))

	grant, ok, err := h.guard.Check(ctx, profile)
	if err != nil {
		return "", err
	}

	sb.WriteString("\n")
	switch {
	case profile.Role == domain.RoleAdministrator:
		sb.WriteString(t.T("profile.role_administrator"))
	case ok && grant != nil:
		sb.WriteString(t.Tf("profile.premium_until", grant.ExpiresAt.Format("2 Jan 2006")))
	default:
		sb.WriteString(t.T("profile.role_standard"))
	}

	sb.WriteString("\n")
	sb.WriteString(t.Tf("profile.joined", profile.CreatedAt.Format("January 2, 2006")))

	unlockSection, err := h.unlocksPage(ctx, t, profile.TelegramID, 1)
	if err != nil {
		return "", err
	}
	if unlockSection != "" {
		sb.WriteString("\n\n")
		sb.WriteString(unlockSection)
	}

	return sb.String(), nil
}

func (h *ProfileHandler) unlocksPage(ctx context.Context, t i18n.Translator, userID int64, page int) (string, error) {
	unlocked, err := h.unlocks.Unlocks(ctx, h.db, userID)
	if err != nil {
		return "", err
	}

	if len(unlocked) == 0 {
		return t.T("profile.no_achievements"), nil
	}

	total := totalPages(len(unlocked))
	if page > total {
		page = total
	}

	start := (page - 1) * unlocksPerPage
	end := start + unlocksPerPage
	if end > len(unlocked) {
		end = len(unlocked)
	}

	var sb strings.Builder
	sb.WriteString(t.Tf("profile.achievements_header", len(unlocked)))
	for _, unlock := range unlocked[start:end] {
		sb.WriteString("\n")
		sb.WriteString(h.unlockLine(t, unlock))
	}

	return sb.String(), nil
}

func (h *ProfileHandler) unlockLine(t i18n.Translator, unlock domain.AchievementUnlock) string {
	title := unlock.AchievementID
	if achievement, ok := h.unlocks.Registry().ByID(unlock.AchievementID); ok {
		title = achievement.Title
	}

	return fmt.Sprintf("🏅 %s (%s)", title, unlock.UnlockedAt.Format("2 Jan 2006"))
}

func (h *ProfileHandler) unlocksKeyboard(ctx context.Context, t i18n.Translator, userID int64, page int) (*telebot.ReplyMarkup, error) {
	unlocked, err := h.unlocks.Unlocks(ctx, h.db, userID)
	if err != nil {
		return nil, err
	}

	total := totalPages(len(unlocked))
	if total <= 1 {
		return nil, nil
	}

	builder := keyboard.NewInlineKeyboard()
	builder.AddRow(keyboard.PaginationButtons(t, keyboard.UniqueUnlocks, page, total)...)
	return builder.Build()
}

func totalPages(count int) int {
	if count <= 0 {
		return 1
	}

	return (count + unlocksPerPage - 1) / unlocksPerPage
}
