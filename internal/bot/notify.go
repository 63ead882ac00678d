package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/telegram/helpers"
)

// Outbox sends messages to arbitrary users through the shared sender queue.
// It serves as the credit notifier and as the broadcast deliverer.
type Outbox struct {
	bot *tele.Bot
}

// NewOutbox wraps bot.
func NewOutbox(bot *tele.Bot) *Outbox {
	return &Outbox{bot: bot}
}

// Notify sends an HTML message to userID.
func (o *Outbox) Notify(ctx context.Context, userID int64, text string) error {
	return helpers.SendToHTML(ctx, o.bot, userID, text, nil)
}

// Deliver sends one broadcast message. Unlike Notify it bypasses the queue
// retries: a failed delivery is reported to the caller and not repeated.
func (o *Outbox) Deliver(ctx context.Context, userID int64, text string) error {
	errc := make(chan error, 1)
	go func() {
		_, err := o.bot.Send(tele.ChatID(userID), text, helpers.HTML(nil))
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
