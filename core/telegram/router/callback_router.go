package router

import (
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/walletbot/core/telegram"
)

// CallbackOptions configures the callback route.
type CallbackOptions struct {
	// KeepSpinner skips the automatic callback acknowledgement.
	KeepSpinner bool
}

// CallbackRoute binds every inline button press to handler. The callback is
// acknowledged before handler runs so the client never keeps a spinner.
func CallbackRoute(handler tele.HandlerFunc, opts CallbackOptions) tg.Route {
	h := func(c tele.Context) error {
		start := time.Now()
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		ns := callbackNamespace(cb)
		if !opts.KeepSpinner {
			_ = c.Respond()
		}
		name := "callback." + normalizeHandlerName(ns)
		return handleWithSummary(c, name, start, func() error {
			return handler(c)
		}, slog.String("cb_key", ns))
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: h}
}
