package middleware

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/logger"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"
)

// LoggerMiddleware assigns the update rid, stores the logging context on the
// telebot context and writes one debug receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var chatID, userID int64
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		user := c.Sender()
		if user != nil {
			userID = user.ID
		}
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithRID(context.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.TG)
		tghelpers.StoreContext(c, ctx)

		attrs := []slog.Attr{slog.String("status", "ok")}
		if user != nil && user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		switch {
		case upd.Callback != nil:
			attrs = append(attrs,
				slog.String("kind", "callback"),
				slog.String("cb_key", logger.SanitizeLimit(upd.Callback.Data, 64)),
			)
		case upd.PreCheckoutQuery != nil:
			attrs = append(attrs, slog.String("kind", "pre_checkout"))
		case upd.Message != nil && upd.Message.Payment != nil:
			attrs = append(attrs, slog.String("kind", "payment"))
		case upd.Message != nil:
			// Free text may carry broadcast content; only its length is logged.
			attrs = append(attrs,
				slog.String("kind", "message"),
				slog.Int("text_len", len([]rune(c.Text()))),
			)
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", attrs...)

		return next(c)
	}
}
