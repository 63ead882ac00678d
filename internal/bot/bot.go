// Package bot adapts the transport-neutral dispatcher to telebot: it builds
// updates from tele.Context, renders replies and handles the Stars checkout.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/logger"
	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/commands"
	"github.com/m3rciful/walletbot/core/telegram/helpers"
	"github.com/m3rciful/walletbot/core/telegram/router"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/dispatch"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/reconcile"
)

// Dispatcher produces the reply for one update.
type Dispatcher interface {
	Dispatch(ctx context.Context, u dispatch.Update) chat.Reply
}

// Reconciler applies raw provider payloads.
type Reconciler interface {
	ReconcileRaw(ctx context.Context, provider payment.Provider, raw []byte) (reconcile.Outcome, error)
}

// Users answers the checks made during checkout and admin gating.
type Users interface {
	GetUser(ctx context.Context, id int64) (ledger.User, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)
}

// States reports the conversation step a user is in.
type States interface {
	Current(ctx context.Context, userID int64) (conversation.State, error)
}

// Handlers holds the telebot handlers of the wallet bot.
type Handlers struct {
	dispatcher Dispatcher
	reconciler Reconciler
	users      Users
	states     States
}

// New builds Handlers. states may be nil, in which case text that matches a
// command alias always runs the command.
func New(d Dispatcher, r Reconciler, users Users, states States) *Handlers {
	return &Handlers{dispatcher: d, reconciler: r, users: users, states: states}
}

// Register adds the bot commands to reg.
func (h *Handlers) Register(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{Handler: h.command(dispatch.CommandStart), Description: "Main menu"})
	reg.RegisterCommand("/balance", commands.Command{Handler: h.command(dispatch.CommandBalance), Description: "Show balance", Aliases: []string{"balance"}})
	reg.RegisterCommand("/help", commands.Command{Handler: h.command(dispatch.CommandHelp), Description: "How the bot works", Aliases: []string{"help"}})
	reg.RegisterCommand("/cancel", commands.Command{Handler: h.command(dispatch.CommandCancel), Description: "Cancel the current step", Aliases: []string{"cancel"}})
	reg.RegisterCommand("/addbalance", commands.Command{
		Handler:     h.command(dispatch.CommandAddBalance),
		Description: "Credit a user manually",
		AdminOnly:   true,
		Usage:       "<user_id> <amount>",
	})
}

// Routes returns every route of the bot: commands, callbacks, text and the
// payment updates.
func (h *Handlers) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		Admin:         h.users,
		OnAdminReject: h.command(""),
	})
	routes = append(routes, router.CallbackRoute(h.OnCallback, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{
		InProgress:      h.inConversation,
		Conversation:    h.OnText,
		UnknownDocument: h.command(""),
	})...)
	return append(routes, router.PaymentRoutes(h.OnCheckout, h.OnPayment)...)
}

func update(c tele.Context, kind dispatch.UpdateKind) dispatch.Update {
	u := dispatch.Update{Kind: kind}
	if s := c.Sender(); s != nil {
		u.UserID = s.ID
		u.FirstName = s.FirstName
		u.Username = s.Username
	}
	return u
}

// OnCallback routes an inline button press.
func (h *Handlers) OnCallback(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	u := update(c, dispatch.UpdateCallback)
	u.Data = strings.TrimSpace(c.Callback().Data)
	return render(c, h.dispatcher.Dispatch(ctx, u), true)
}

// OnText feeds free text to the conversation machine.
func (h *Handlers) OnText(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	u := update(c, dispatch.UpdateText)
	u.Data = c.Text()
	return render(c, h.dispatcher.Dispatch(ctx, u), false)
}

// inConversation reports whether the sender has a pending step, so that
// "help me" typed as a broadcast is not taken for the help alias.
func (h *Handlers) inConversation(c tele.Context) bool {
	if h.states == nil || c.Sender() == nil {
		return false
	}
	ctx := helpers.BuildContext(c)
	st, err := h.states.Current(ctx, c.Sender().ID)
	if err != nil {
		logger.LogEvent(ctx, logger.STATE, slog.LevelWarn, "state.get", slog.String("status", "fail"), logger.Err(err))
		return false
	}
	return !st.IsIdle()
}

func (h *Handlers) command(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := helpers.BuildContext(c)
		u := update(c, dispatch.UpdateCommand)
		u.Command = name
		if m := c.Message(); m != nil {
			u.Data = m.Payload
		}
		return render(c, h.dispatcher.Dispatch(ctx, u), false)
	}
}

// OnCheckout answers a pre-checkout query. The query is accepted only for a
// Stars payload naming an existing user.
func (h *Handlers) OnCheckout(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	if reason := h.checkoutRejection(ctx, q); reason != "" {
		logger.LogEvent(ctx, logger.PAY, slog.LevelWarn, "checkout.rejected",
			slog.String("outcome", "denied"),
			slog.String("reason", reason),
		)
		return c.Accept(reason)
	}
	return c.Accept()
}

func (h *Handlers) checkoutRejection(ctx context.Context, q *tele.PreCheckoutQuery) string {
	if q.Currency != payment.StarsCurrency {
		return "Unsupported currency."
	}
	p, err := payment.ParsePayload(q.Payload)
	if err != nil || p.Provider != payment.ProviderNative {
		return "This invoice is no longer valid."
	}
	if q.Sender != nil && q.Sender.ID != p.UserID {
		return "This invoice belongs to another account."
	}
	if _, err := h.users.GetUser(ctx, p.UserID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "Account not found. Send /start and try again."
		}
		return "Payment is temporarily unavailable."
	}
	return ""
}

// OnPayment reconciles a successful Stars payment. Infrastructure errors are
// returned to telebot's error hook; the charge stays recorded by Telegram.
func (h *Handlers) OnPayment(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	msg := c.Message()
	if msg == nil || msg.Payment == nil {
		return nil
	}
	raw, err := json.Marshal(msg.Payment)
	if err != nil {
		return err
	}
	_, err = h.reconciler.ReconcileRaw(ctx, payment.ProviderNative, raw)
	return err
}
