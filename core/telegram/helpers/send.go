package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/core/telegram/sender"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

// Enqueue runs fn through the shared dispatcher, or inline when none is set or the queue is saturated.
func Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			logger.Err(err),
		)
		return run()
	}
	return err
}

// HTML returns send options with HTML parse mode and the optional markup.
func HTML(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: markup}
}

// SendHTML sends an HTML message to the current chat.
func SendHTML(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	return c.Send(text, HTML(markup))
}

// EditOrSendHTML replaces the message the callback came from, or sends a new one.
func EditOrSendHTML(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	return c.EditOrSend(text, HTML(markup))
}

// SendToHTML delivers an HTML message to an arbitrary chat through the dispatcher.
func SendToHTML(ctx context.Context, bot *tele.Bot, chatID int64, text string, markup *tele.ReplyMarkup) error {
	return Enqueue(ctx, "send.html", "sendMessage", func() error {
		_, err := bot.Send(tele.ChatID(chatID), text, HTML(markup))
		return err
	})
}
