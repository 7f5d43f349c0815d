package keyboard

import (
	"fmt"
	"log/slog"
	"strconv"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/i18n"
)

// Callback uniques shared between the builder and the router registrations.
const (
	UniqueChoice   = "choice"
	UniqueContinue = "continue"
	UniqueRedeem   = "redeem"
	UniqueUnlocks  = "unlocks"
)

// Builder renders inline keyboards for narrative fragments and menus.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// Fragment builds the markup a fragment is sent with: one button per choice
// for decisions, a single continue button for non-terminal story fragments,
// and nil for terminal ones.
func (b *Builder) Fragment(t i18n.Translator, fragment *domain.Fragment) *telebot.ReplyMarkup {
	if fragment == nil {
		return nil
	}

	builder := NewInlineKeyboard()

	switch {
	case len(fragment.Choices) > 0:
		for i, choice := range fragment.Choices {
			builder.AddRow(InlineButton{
				Text:   choice.Label,
				Unique: UniqueChoice,
				Data:   strconv.Itoa(i),
			})
		}
	case fragment.NextID != "":
		builder.AddRow(InlineButton{
			Text:   translated(t, "story.continue_button", "Continue ▶️"),
			Unique: UniqueContinue,
		})
	default:
		return nil
	}

	markup, err := builder.Build()
	if err != nil {
		b.log.Error("failed to build fragment keyboard",
			slog.String("fragment_id", fragment.ID), slog.Any("error", err))
		return nil
	}

	return markup
}

// RedeemMenu builds one button per redeemable premium-access duration.
func (b *Builder) RedeemMenu(t i18n.Translator, dayOptions []int, pricePerDay int64) *telebot.ReplyMarkup {
	builder := NewInlineKeyboard()
	for _, days := range dayOptions {
		if days <= 0 {
			continue
		}

		label := fmt.Sprintf("%s %d", translated(t, "premium.days_button", "🔑"), days)
		if pricePerDay > 0 {
			label = fmt.Sprintf("%s (%d)", label, pricePerDay*int64(days))
		}

		builder.AddRow(InlineButton{
			Text:   label,
			Unique: UniqueRedeem,
			Data:   strconv.Itoa(days),
		})
	}

	markup, err := builder.Build()
	if err != nil {
		b.log.Error("failed to build redeem keyboard", slog.Any("error", err))
		return nil
	}

	return markup
}
