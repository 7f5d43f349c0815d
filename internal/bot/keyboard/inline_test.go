package keyboard_test

import (
	"strings"
	"testing"

	"github.com/questline/questline-bot/internal/bot/keyboard"
)

type mockTranslator struct {
	translations map[string]string
	lang         string
}

func (m *mockTranslator) T(key string) string {
	if val, ok := m.translations[key]; ok {
		return val
	}
	return key
}

func (m *mockTranslator) Tf(key string, args ...any) string {
	return m.T(key)
}

func (m *mockTranslator) Lang() string {
	if m.lang == "" {
		return "en"
	}
	return m.lang
}

func TestInlineKeyboardBuilder(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		builder := keyboard.NewInlineKeyboard()
		builder.AddRow(
			keyboard.InlineButton{Text: "Prev", Unique: "nav", Data: "1"},
			keyboard.InlineButton{Text: "Next", Unique: "nav", Data: "2"},
		).AddRow(
			keyboard.InlineButton{Text: "Confirm", Unique: "confirm", Data: "ok"},
		)

		markup, err := builder.Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if markup == nil {
			t.Fatal("expected markup, got nil")
		}

		if got := len(markup.InlineKeyboard); got != 2 {
			t.Fatalf("expected 2 rows, got %d", got)
		}
		if got := len(markup.InlineKeyboard[0]); got != 2 {
			t.Fatalf("expected 2 buttons in first row, got %d", got)
		}
		if got := markup.InlineKeyboard[0][1].Data; got != "nav:2" {
			t.Fatalf("expected encoded data nav:2, got %q", got)
		}
	})

	t.Run("callback data overflow", func(t *testing.T) {
		builder := keyboard.NewInlineKeyboard()
		builder.AddRow(keyboard.InlineButton{
			Text:   "Too long",
			Unique: strings.Repeat("x", keyboard.CallbackDataLimitBytes),
			Data:   "overflow",
		})

		if _, err := builder.Build(); err == nil {
			t.Fatal("expected error for oversized callback data")
		}
	})

	t.Run("empty rows ignored", func(t *testing.T) {
		builder := keyboard.NewInlineKeyboard()
		builder.AddRow()

		markup, err := builder.Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(markup.InlineKeyboard); got != 0 {
			t.Fatalf("expected no rows, got %d", got)
		}
	})
}
