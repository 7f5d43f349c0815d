// Package bot wires the Telegram transport: routing, middleware, and the
// rendering of workflow outcomes.
package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/access"
	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/bot/handlers"
	"github.com/questline/questline-bot/internal/bot/keyboard"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/i18n"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/middleware"
	"github.com/questline/questline-bot/internal/user"
	"github.com/questline/questline-bot/internal/workflow"
	"github.com/questline/questline-bot/pkg/config"
)

// redeemDayOptions are the premium durations offered in the redeem menu.
var redeemDayOptions = []int{1, 7, 30}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot            *telebot.Bot
	log                *slog.Logger
	cfg                config.Config
	rateLimitMw        *middleware.RateLimitMiddleware
	router             *Router
	dispatcher         *Dispatcher
	keyboard           *keyboard.Builder
	translations       *i18n.Manager
	errHandler         *errors.Handler
	idempotencyManager idempotency.Manager
}

// New builds a telegram bot instance configured according to the application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	coordinator *workflow.Coordinator,
	userService *user.Service,
	unlockService *achievements.Service,
	guard *access.Guard,
	db database.Querier,
	translations *i18n.Manager,
	idempotencyManager idempotency.Manager,
	rateLimitMw *middleware.RateLimitMiddleware,
) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Bot.Token,
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen: cfg.Server.Port,
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	kb := keyboard.NewBuilder(log)
	dispatcher := NewDispatcher(coordinator, kb, translations, log)
	router := NewRouter(log)
	errHandler := errors.NewHandler(log, cfg.Sentry.Enabled)

	b := &Bot{
		telebot:            tb,
		log:                log,
		cfg:                cfg,
		rateLimitMw:        rateLimitMw,
		router:             router,
		dispatcher:         dispatcher,
		keyboard:           kb,
		translations:       translations,
		errHandler:         errHandler,
		idempotencyManager: idempotencyManager,
	}

	b.setupRouter(userService, unlockService, guard, db)

	if b.rateLimitMw != nil {
		b.telebot.Use(b.rateLimitMw.Handle)
	}

	b.registerTelebotHandlers()

	return b, nil
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	if b.log != nil {
		b.log.Info("stopping telegram bot...")
	}

	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

func (b *Bot) setupRouter(
	userService *user.Service,
	unlockService *achievements.Service,
	guard *access.Guard,
	db database.Querier,
) {
	if b.router == nil {
		return
	}

	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(middleware.Idempotency(b.idempotencyManager, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(AuthMiddleware(userService, b.log))
	b.router.Use(LastActiveMiddleware(userService))
	b.router.Use(middleware.Metrics)

	b.router.RegisterCommand(CommandStart, b.handleWelcome)
	b.router.RegisterCommand(CommandStory, b.dispatcher.StartStory)
	b.router.RegisterCommand(CommandContinue, b.dispatcher.Continue)
	b.router.RegisterCommand(CommandDaily, b.dispatcher.ClaimDaily)
	b.router.RegisterCommand(CommandHelp, handlers.NewHelpHandler(b.translations))

	profileHandler := handlers.NewProfileHandler(userService, unlockService, guard, db, b.translations, b.log)
	b.router.RegisterCommand(CommandProfile, profileHandler.Handle)

	premiumHandler := handlers.NewPremiumHandler(
		userService, guard, b.keyboard, b.translations,
		redeemDayOptions, b.cfg.Rewards.AccessPricePerDay, b.log,
	)
	b.router.RegisterCommand(CommandPremium, premiumHandler.Handle)

	b.router.RegisterCallback(keyboard.UniqueChoice, b.dispatcher.Choose)
	b.router.RegisterCallback(keyboard.UniqueContinue, b.dispatcher.Continue)
	b.router.RegisterCallback(keyboard.UniqueRedeem, b.dispatcher.Redeem)
	b.router.RegisterCallback(keyboard.UniqueUnlocks, profileHandler.HandleUnlocksPage)

	b.router.SetDefault(b.handleMenuText(profileHandler, premiumHandler))
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}

// handleWelcome greets the user, shows the main menu, and resumes the story.
func (b *Bot) handleWelcome(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}

	t := b.translations.Translator(c.Sender().LanguageCode)
	if err := c.Send(t.T("welcome.text"), keyboard.MainMenu(t)); err != nil {
		return err
	}

	return b.dispatcher.StartStory(c)
}

// handleMenuText maps reply-keyboard button labels back to their actions.
func (b *Bot) handleMenuText(profile *handlers.ProfileHandler, premium *handlers.PremiumHandler) handlers.Handler {
	return func(c telebot.Context) error {
		if c == nil || c.Sender() == nil {
			return nil
		}

		text := c.Text()
		if text == "" {
			return nil
		}

		for _, lang := range b.translations.Languages() {
			t := b.translations.Translator(lang)
			switch text {
			case t.T("main_menu.story"):
				return b.dispatcher.StartStory(c)
			case t.T("main_menu.daily"):
				return b.dispatcher.ClaimDaily(c)
			case t.T("main_menu.profile"):
				return profile.Handle(c)
			case t.T("main_menu.premium"):
				return premium.Handle(c)
			case t.T("main_menu.help"):
				return handlers.NewHelpHandler(b.translations)(c)
			}
		}

		t := b.translations.Translator(c.Sender().LanguageCode)
		return c.Send(t.T("help.unknown_command"))
	}
}
