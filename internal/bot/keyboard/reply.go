package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/i18n"
)

// MainMenu builds a localized reply keyboard for the bot main menu.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	lookup := func(key string) string {
		if t == nil {
			return key
		}
		return t.T(key)
	}

	storyBtn := markup.Text(lookup("main_menu.story"))
	dailyBtn := markup.Text(lookup("main_menu.daily"))
	profileBtn := markup.Text(lookup("main_menu.profile"))
	premiumBtn := markup.Text(lookup("main_menu.premium"))
	helpBtn := markup.Text(lookup("main_menu.help"))

	markup.Reply(
		markup.Row(storyBtn, dailyBtn),
		markup.Row(profileBtn, premiumBtn),
		markup.Row(helpBtn),
	)

	return markup
}
