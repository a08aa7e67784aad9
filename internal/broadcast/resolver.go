package broadcast

import (
	"context"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
)

// RecipientResolver produces the current set of addressable chat ids for a
// bot. An empty result is valid: a bot with no audience dispatches as
// 0 attempted / 0 succeeded / 0 failed, which is a success.
//
// The backing chat-membership ledger is an external collaborator; how chats
// are discovered and recorded is outside this package.
type RecipientResolver interface {
	Resolve(ctx context.Context, bot ads.Bot) ([]int64, error)
}

// LedgerResolver resolves recipients from the stored bot→chat ledger.
type LedgerResolver struct {
	store storage.Store
}

func NewLedgerResolver(st storage.Store) *LedgerResolver {
	return &LedgerResolver{store: st}
}

// Resolve returns the bot's chat ids in first-seen order, without duplicates.
func (r *LedgerResolver) Resolve(ctx context.Context, bot ads.Bot) ([]int64, error) {
	ids, err := r.store.ChatIDs(ctx, bot.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) < 2 {
		return ids, nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
