package bot

// Command constants for Telegram bot commands.
const (
	CommandStart    = "/start"
	CommandStory    = "/story"
	CommandContinue = "/continue"
	CommandDaily    = "/daily"
	CommandPremium  = "/premium"
	CommandProfile  = "/profile"
	CommandHelp     = "/help"
)
