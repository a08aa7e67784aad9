package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// Deliverer sends one advertisement to one recipient through one bot client.
type Deliverer interface {
	Deliver(ctx context.Context, c telegram.Client, chatID int64, ad *ads.Advertisement) error
}

type deliverer struct {
	log logx.Logger
}

func NewDeliverer(log logx.Logger) Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &deliverer{log: log}
}

// Deliver applies the content selection rule: with media attached, each item
// is sent as its own message (kind chosen when the media was attached, body
// text as caption) in list order; without media, the body goes out as one
// text message.
//
// A failed media item does not stop the remaining items; the combined error
// marks this recipient as failed.
func (d *deliverer) Deliver(ctx context.Context, c telegram.Client, chatID int64, ad *ads.Advertisement) error {
	if !ad.HasMedia() {
		return c.SendText(ctx, chatID, ad.Content)
	}

	var errs []error
	for i, m := range ad.Media {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.SendMedia(ctx, chatID, m, ad.Content); err != nil {
			d.log.Debug("media send failed",
				logx.Int64("chat", chatID), logx.Int("item", i), logx.String("kind", string(m.Kind)), logx.Err(err))
			errs = append(errs, fmt.Errorf("media %d (%s): %w", i, m.Kind, err))
		}
	}
	return errors.Join(errs...)
}
