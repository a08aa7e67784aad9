package ads

import "time"

// BotStatus is the lifecycle state of a bot account.
// Only running bots are valid broadcast targets.
type BotStatus string

const (
	BotStopped     BotStatus = "stopped"
	BotRunning     BotStatus = "running"
	BotError       BotStatus = "error"
	BotMaintenance BotStatus = "maintenance"
)

// Bot is a credentialed messaging-provider account owned by a user.
// Token is the provider-issued credential and is unique across bots.
type Bot struct {
	ID         int64
	UserID     int64
	Token      string
	Name       string
	Status     BotStatus
	CreatedAt  time.Time
	LastActive *time.Time
}
