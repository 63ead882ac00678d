// Package dispatch turns inbound chat events into exactly one reply. It is
// transport neutral: the Telegram adapter builds an Update and renders the
// returned chat.Reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/callback"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/metrics"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/reconcile"
)

// UpdateKind is the class of an inbound event.
type UpdateKind int

const (
	// UpdateCallback is an inline button press; Data holds the token.
	UpdateCallback UpdateKind = iota + 1
	// UpdateText is a free text message; Data holds the text.
	UpdateText
	// UpdateCommand is a slash command; Command holds its name without the
	// slash and Data its arguments.
	UpdateCommand
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateCallback:
		return "callback"
	case UpdateText:
		return "text"
	case UpdateCommand:
		return "command"
	}
	return "unknown"
}

// Update is one inbound event.
type Update struct {
	Kind      UpdateKind
	UserID    int64
	FirstName string
	Username  string
	Command   string
	Data      string
}

// Command names handled by Dispatch.
const (
	CommandStart      = "start"
	CommandCancel     = "cancel"
	CommandBalance    = "balance"
	CommandHelp       = "help"
	CommandAddBalance = "addbalance"
)

// Reconciler credits payment events.
type Reconciler interface {
	Reconcile(ctx context.Context, ev payment.Event) (reconcile.Outcome, error)
}

// Options wires a Dispatcher.
type Options struct {
	Ledger     ledger.Store
	Machine    *conversation.Machine
	Invoices   conversation.InvoiceCreator
	Reconciler Reconciler
	Metrics    *metrics.Metrics
	// NewPaymentID generates identifiers for manual credits.
	NewPaymentID func() string
}

// Dispatcher routes updates to the callback router or the conversation
// machine and maps every failure to a user reply.
type Dispatcher struct {
	ledger     ledger.Store
	machine    *conversation.Machine
	invoices   conversation.InvoiceCreator
	reconciler Reconciler
	metrics    *metrics.Metrics
	newID      func() string
	callbacks  *callback.Router
}

// New builds a Dispatcher and its callback handler table.
func New(opts Options) (*Dispatcher, error) {
	if opts.Ledger == nil || opts.Machine == nil || opts.Invoices == nil || opts.Reconciler == nil {
		return nil, errors.New("dispatch: ledger, machine, invoices and reconciler are required")
	}
	d := &Dispatcher{
		ledger:     opts.Ledger,
		machine:    opts.Machine,
		invoices:   opts.Invoices,
		reconciler: opts.Reconciler,
		metrics:    opts.Metrics,
		newID:      opts.NewPaymentID,
	}
	if d.newID == nil {
		d.newID = defaultPaymentID
	}
	router, err := callback.NewRouter(d.table(), opts.Ledger)
	if err != nil {
		return nil, err
	}
	d.callbacks = router
	return d, nil
}

// Dispatch handles u and returns its reply. It never panics and never
// returns an empty reply unless the event only needs an acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, u Update) (reply chat.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogEvent(ctx, logger.TG, slog.LevelError, "dispatch.panic",
				slog.String("kind", u.Kind.String()),
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			reply = chat.InternalError()
		}
		d.metrics.Update(u.Kind.String(), resultLabel(reply))
	}()

	if _, err := d.ledger.EnsureUser(ctx, ledger.Profile{
		TelegramID: u.UserID,
		FirstName:  u.FirstName,
		Username:   u.Username,
	}); err != nil {
		return d.replyForError(ctx, u, err)
	}

	var err error
	switch u.Kind {
	case UpdateCallback:
		reply, err = d.callbacks.Route(ctx, u.UserID, u.FirstName, u.Data)
	case UpdateText:
		reply, err = d.onText(ctx, u)
	case UpdateCommand:
		reply, err = d.onCommand(ctx, u)
	default:
		err = apperr.New(apperr.KindInternal, "unsupported update kind %d", u.Kind)
	}
	if err != nil {
		return d.replyForError(ctx, u, err)
	}
	if u.Kind == UpdateCallback && !reply.Silent {
		if a, perr := callback.Parse(u.Data); perr == nil {
			d.metrics.Callback(a.Kind.String())
		}
	}
	return reply
}

func (d *Dispatcher) onText(ctx context.Context, u Update) (chat.Reply, error) {
	out, err := d.machine.OnText(ctx, u.UserID, u.Data)
	if err != nil {
		return chat.Reply{}, err
	}
	switch out.Kind {
	case conversation.OutcomeInvoice:
		return invoiceReply(out.Invoice), nil
	case conversation.OutcomeBroadcastAccepted:
		return chat.BroadcastAccepted(), nil
	case conversation.OutcomeExpired:
		admin, err := d.ledger.IsAdmin(ctx, u.UserID)
		if err != nil {
			return chat.Reply{}, err
		}
		return chat.Expired(u.FirstName, admin), nil
	}
	return d.mainMenu(ctx, u.UserID, u.FirstName)
}

func (d *Dispatcher) onCommand(ctx context.Context, u Update) (chat.Reply, error) {
	switch strings.ToLower(strings.TrimPrefix(u.Command, "/")) {
	case CommandStart:
		if err := d.machine.Reset(ctx, u.UserID); err != nil {
			return chat.Reply{}, err
		}
		return d.mainMenu(ctx, u.UserID, u.FirstName)
	case CommandCancel:
		if err := d.machine.Reset(ctx, u.UserID); err != nil {
			return chat.Reply{}, err
		}
		return chat.Cancelled(), nil
	case CommandBalance:
		user, err := d.ledger.GetUser(ctx, u.UserID)
		if err != nil {
			return chat.Reply{}, err
		}
		return chat.Balance(user.Balance), nil
	case CommandHelp:
		return chat.Help(), nil
	case CommandAddBalance:
		return d.addBalance(ctx, u)
	}
	return d.mainMenu(ctx, u.UserID, u.FirstName)
}

func (d *Dispatcher) mainMenu(ctx context.Context, userID int64, firstName string) (chat.Reply, error) {
	admin, err := d.ledger.IsAdmin(ctx, userID)
	if err != nil {
		return chat.Reply{}, err
	}
	return chat.MainMenu(firstName, admin), nil
}

// replyForError maps err to the reply the user sees.
func (d *Dispatcher) replyForError(ctx context.Context, u Update, err error) chat.Reply {
	kind := apperr.KindOf(err)
	level := slog.LevelWarn
	var reply chat.Reply

	var verr *payment.ValidationError
	switch {
	case errors.As(err, &verr):
		level = slog.LevelInfo
		reply = chat.InvalidAmount(verr)
	case errors.Is(err, conversation.ErrEmptyBroadcast):
		level = slog.LevelInfo
		reply = chat.BroadcastEmpty()
	case kind == apperr.KindValidation:
		level = slog.LevelInfo
		reply = chat.InvalidInput()
	case kind == apperr.KindUnknownCallback:
		level = slog.LevelInfo
		reply = chat.Unavailable()
	case kind == apperr.KindGatewayUnavailable, kind == apperr.KindGatewayRejected:
		reply = chat.RetryLater()
	default:
		level = slog.LevelError
		reply = chat.InternalError()
	}
	logger.LogEvent(ctx, logger.TG, level, "dispatch.error",
		slog.String("kind", u.Kind.String()),
		slog.String("err_code", string(kind)),
		logger.Err(err),
	)
	return reply
}

func invoiceReply(inv payment.Invoice) chat.Reply {
	if inv.Provider == payment.ProviderNative {
		return chat.StarsInvoice(inv)
	}
	return chat.CryptoInvoice(inv)
}

func resultLabel(r chat.Reply) string {
	switch {
	case r.Silent:
		return "silent"
	case r.Invoice != nil:
		return "invoice"
	}
	return "reply"
}
