package middleware

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/logger"
	tghelpers "github.com/m3rciful/walletbot/core/telegram/helpers"
)

// AdminChecker resolves the admin flag for a Telegram user at call time.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	Checker  AdminChecker
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets the update through only when Checker reports the
// sender as admin. Lookup failures are treated as a rejection.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if opts.Checker == nil || sender == nil {
				return reject(c, opts)
			}
			ctx := tghelpers.BuildContext(c)
			ok, err := opts.Checker.IsAdmin(ctx, sender.ID)
			if err != nil {
				logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "admin.lookup_failed", logger.Err(err))
				return reject(c, opts)
			}
			if !ok {
				logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "admin.denied", slog.String("outcome", "denied"))
				return reject(c, opts)
			}
			return next(c)
		}
	}
}

func reject(c tele.Context, opts AdminOptions) error {
	if opts.OnReject != nil {
		return opts.OnReject(c)
	}
	return nil
}
