package handlers

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/i18n"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(translations *i18n.Manager) Handler {
	return func(c telebot.Context) error {
		if c == nil {
			return nil
		}

		lang := ""
		if c.Sender() != nil {
			lang = c.Sender().LanguageCode
		}

		t := translations.Translator(lang)
		return c.Send(t.T("help.text"), telebot.ModeMarkdown)
	}
}
