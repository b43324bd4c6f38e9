package bot

// Command constants for Telegram bot commands.
const (
	CommandStart     = "/start"
	CommandMenu      = "/menu"
	CommandBalance   = "/balance"
	CommandReferrals = "/referrals"
	CommandWithdraw  = "/withdraw"
	CommandStats     = "/stats"
	CommandCancel    = "/cancel"
	CommandHelp      = "/help"
	CommandAdmin     = "/admin"
)
