package bot

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/events"
	"github.com/questline/questline-bot/internal/i18n"
)

// Sender is the slice of the telegram client the notifier needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Notifier pushes out-of-band messages to users when achievements unlock or
// premium access changes. Delivery is best effort.
type Notifier struct {
	sender       Sender
	translations *i18n.Manager
	log          *slog.Logger
}

// NewNotifier builds a Notifier around the given telegram sender.
func NewNotifier(sender Sender, translations *i18n.Manager, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}

	return &Notifier{
		sender:       sender,
		translations: translations,
		log:          log,
	}
}

// Register subscribes the notifier to the events worth telling the user about.
func (n *Notifier) Register(bus *events.Bus) {
	bus.Subscribe(domain.EventAchievementUnlocked, "notifier", n.onAchievementUnlocked)
	bus.Subscribe(domain.EventAccessChanged, "notifier", n.onAccessChanged)
}

func (n *Notifier) onAchievementUnlocked(ctx context.Context, event domain.Event) error {
	t := n.translations.Translator("")

	title, _ := event.Payload["title"].(string)
	if title == "" {
		title, _ = event.Payload["achievement_id"].(string)
	}

	return n.send(event.UserID, t.Tf("notify.achievement_unlocked", title))
}

func (n *Notifier) onAccessChanged(ctx context.Context, event domain.Event) error {
	action, _ := event.Payload["action"].(string)
	if action != string(domain.AccessActionGrant) && action != string(domain.AccessActionExtend) {
		return nil
	}

	t := n.translations.Translator("")
	expires, _ := event.Payload["expires_at"].(string)

	return n.send(event.UserID, t.Tf("notify.access_granted", expires))
}

func (n *Notifier) send(userID int64, text string) error {
	if _, err := n.sender.Send(&telebot.User{ID: userID}, text); err != nil {
		n.log.Warn("failed to deliver notification", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	return nil
}
