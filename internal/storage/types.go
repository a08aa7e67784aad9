package storage

import (
	"context"
	"time"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the broadcast engine and the HTTP
// surface. Implementations must be safe for concurrent use.
type Store interface {
	// Advertisements.
	CreateAd(ctx context.Context, ad *ads.Advertisement) error
	GetAd(ctx context.Context, id int64) (*ads.Advertisement, error)
	ListAds(ctx context.Context, userID int64) ([]ads.Advertisement, error)
	// DeleteAd refuses to delete an advertisement that is broadcasting.
	// Outcome records are kept; they reference the ad by id only.
	DeleteAd(ctx context.Context, id int64) error
	// Transition is the guarded compare-and-set on the status column.
	// The update applies only while the current status is one of from;
	// otherwise ErrConflict (or ErrNotFound) is returned. completed_at is
	// stamped with at when to is terminal and cleared when it is not.
	Transition(ctx context.Context, id int64, from []ads.Status, to ads.Status, at time.Time) error
	// DueAds returns pending advertisements whose scheduled time has arrived.
	DueAds(ctx context.Context, now time.Time) ([]ads.Advertisement, error)

	// Bots.
	CreateBot(ctx context.Context, b *ads.Bot) error
	GetBot(ctx context.Context, id int64) (*ads.Bot, error)
	ListBots(ctx context.Context, userID int64) ([]ads.Bot, error)
	// RunningBots filters ids down to bots currently in the running state.
	// The read is always fresh; callers must not cache the result across a
	// dispatch boundary.
	RunningBots(ctx context.Context, ids []int64) ([]ads.Bot, error)
	SetBotStatus(ctx context.Context, id int64, st ads.BotStatus, lastActive *time.Time) error

	// Broadcast outcome metrics (append-only).
	AppendOutcome(ctx context.Context, o ads.BroadcastOutcome) error
	OutcomesByAd(ctx context.Context, adID int64) ([]ads.BroadcastOutcome, error)

	// Recipient ledger.
	AddChat(ctx context.Context, botID, chatID int64) error
	ChatIDs(ctx context.Context, botID int64) ([]int64, error)

	Close() error
}
