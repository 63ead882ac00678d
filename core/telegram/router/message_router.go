package router

import (
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/walletbot/core/telegram"
)

// TextOptions controls how plain text and documents are handled.
type TextOptions struct {
	// InProgress reports whether the sender is in the middle of a conversation
	// step. Such text goes to Conversation as is, even if it reads like an alias.
	InProgress func(c tele.Context) bool
	// Conversation receives every text that is not a registered command or alias.
	Conversation    tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds handlers for text and document updates. Pending
// conversation steps win; otherwise command aliases typed without the slash
// are resolved through the registry.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		start := time.Now()
		if opts.Conversation != nil && opts.InProgress != nil && opts.InProgress(c) {
			return handleWithSummary(c, "conversation", start, func() error {
				return opts.Conversation(c)
			})
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
		}
		if opts.Conversation != nil {
			return handleWithSummary(c, "conversation", start, func() error {
				return opts.Conversation(c)
			})
		}
		if reg != nil && reg.TextFallback() != nil {
			return handleWithSummary(c, "fallback", start, func() error {
				return reg.TextFallback()(c)
			})
		}
		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	document := func(c tele.Context) error {
		start := time.Now()
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", start, func() error {
				return opts.UnknownDocument(c)
			})
		}
		logHandlerSummary(c, "unexpected_document", start, "skip", nil)
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnDocument, Handler: document},
	}
}

// PaymentRoutes binds the Telegram checkout flow: pre-checkout queries and
// the successful payment service message.
func PaymentRoutes(checkout, paid tele.HandlerFunc) []tg.Route {
	var routes []tg.Route
	if checkout != nil {
		routes = append(routes, tg.Route{Endpoint: tele.OnCheckout, Handler: func(c tele.Context) error {
			return handleWithSummary(c, "checkout", time.Now(), func() error { return checkout(c) })
		}})
	}
	if paid != nil {
		routes = append(routes, tg.Route{Endpoint: tele.OnPayment, Handler: func(c tele.Context) error {
			return handleWithSummary(c, "payment", time.Now(), func() error { return paid(c) })
		}})
	}
	return routes
}
