// Package reconcile turns normalized payment events into ledger credits.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/metrics"
	"github.com/m3rciful/walletbot/internal/payment"
)

// OutcomeKind is the result class of one reconciliation.
type OutcomeKind int

const (
	// Credited means the balance was incremented and the payment recorded.
	Credited OutcomeKind = iota + 1
	// AlreadyProcessed means the payment identifier was credited before.
	AlreadyProcessed
	// UnknownRecipient means the payload names a user the ledger does not know.
	// Nothing is recorded, so a later redelivery can still succeed.
	UnknownRecipient
	// MalformedEvent means the event could not be decoded or is incomplete.
	MalformedEvent
	// Ignored means the provider reported a status that is not a payment.
	Ignored
)

func (k OutcomeKind) String() string {
	switch k {
	case Credited:
		return "credited"
	case AlreadyProcessed:
		return "already_processed"
	case UnknownRecipient:
		return "unknown_recipient"
	case MalformedEvent:
		return "malformed"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Outcome reports what happened to an event.
type Outcome struct {
	Kind OutcomeKind
	// Balance is the new balance for Credited outcomes.
	Balance decimal.Decimal
	Event   payment.Event
}

// Creditor is the ledger operation reconciliation depends on.
type Creditor interface {
	Credit(ctx context.Context, c ledger.Credit) (decimal.Decimal, error)
}

// Notifier delivers a chat message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Options configures an Engine.
type Options struct {
	Ledger   Creditor
	Notifier Notifier
	Metrics  *metrics.Metrics
	// NotifyTimeout bounds the credit notification; zero means 10s.
	NotifyTimeout time.Duration
}

// Engine applies payment events exactly once.
type Engine struct {
	ledger        Creditor
	notifier      Notifier
	metrics       *metrics.Metrics
	notifyTimeout time.Duration
}

// New builds an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		ledger:        opts.Ledger,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		notifyTimeout: opts.NotifyTimeout,
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 10 * time.Second
	}
	return e
}

// ReconcileRaw normalizes a provider delivery and reconciles it. Decoding
// problems become MalformedEvent or Ignored outcomes, never errors.
func (e *Engine) ReconcileRaw(ctx context.Context, provider payment.Provider, raw []byte) (Outcome, error) {
	ev, err := payment.NormalizeWebhook(provider, raw)
	if err != nil {
		kind := MalformedEvent
		if apperr.Is(err, apperr.KindUnrecognizedStatus) {
			kind = Ignored
		}
		e.record(ctx, Outcome{Kind: kind, Event: payment.Event{Provider: provider}}, slog.LevelInfo, logger.Err(err))
		return Outcome{Kind: kind}, nil
	}
	return e.Reconcile(ctx, ev)
}

// Reconcile credits ev to its user. The returned error is reserved for
// infrastructure failures; every business result is an Outcome. The user is
// notified after a successful credit, and a failed notification does not
// change the outcome.
func (e *Engine) Reconcile(ctx context.Context, ev payment.Event) (Outcome, error) {
	start := time.Now()
	if !ev.Valid() {
		out := Outcome{Kind: MalformedEvent, Event: ev}
		e.record(ctx, out, slog.LevelWarn)
		return out, nil
	}

	balance, err := e.ledger.Credit(ctx, ledger.Credit{
		Provider:       ev.Provider,
		PaymentID:      ev.PaymentID,
		UserID:         ev.UserID,
		Amount:         ev.Amount,
		Currency:       ev.Currency,
		InvoicePayload: ev.Payload,
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		out := Outcome{Kind: AlreadyProcessed, Event: ev}
		e.record(ctx, out, slog.LevelInfo)
		return out, nil
	case errors.Is(err, ledger.ErrUnknownRecipient):
		out := Outcome{Kind: UnknownRecipient, Event: ev}
		e.record(ctx, out, slog.LevelWarn)
		return out, nil
	case apperr.Is(err, apperr.KindMalformedPayload):
		out := Outcome{Kind: MalformedEvent, Event: ev}
		e.record(ctx, out, slog.LevelWarn, logger.Err(err))
		return out, nil
	default:
		logger.LogEvent(ctx, logger.RECON, slog.LevelError, "payment.credit_failed",
			slog.String("provider", string(ev.Provider)),
			slog.String("payment_id", ev.PaymentID),
			slog.Int64("user_id", ev.UserID),
			logger.Err(err),
		)
		return Outcome{}, err
	}

	out := Outcome{Kind: Credited, Balance: balance, Event: ev}
	e.record(ctx, out, slog.LevelInfo,
		slog.String("amount", ev.Amount.StringFixed(2)),
		slog.String("balance", balance.StringFixed(2)),
		slog.Duration("duration", logger.Took(start)),
	)
	e.notify(ctx, ev, balance)
	return out, nil
}

func (e *Engine) notify(ctx context.Context, ev payment.Event, balance decimal.Decimal) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(nctx, ev.UserID, chat.Credited(ev.Amount, balance)); err != nil {
		logger.LogEvent(ctx, logger.RECON, slog.LevelWarn, "payment.notify_failed",
			slog.Int64("user_id", ev.UserID),
			slog.String("payment_id", ev.PaymentID),
			logger.Err(err),
		)
	}
}

func (e *Engine) record(ctx context.Context, out Outcome, level slog.Level, extra ...slog.Attr) {
	var amount float64
	if out.Kind == Credited {
		amount = out.Event.Amount.InexactFloat64()
	}
	e.metrics.Reconciled(string(out.Event.Provider), out.Kind.String(), amount)

	attrs := []slog.Attr{
		slog.String("outcome", out.Kind.String()),
		slog.String("provider", string(out.Event.Provider)),
		slog.String("payment_id", out.Event.PaymentID),
		slog.Int64("user_id", out.Event.UserID),
	}
	if out.Event.InvoiceID != "" {
		attrs = append(attrs, slog.String("invoice_id", out.Event.InvoiceID))
	}
	logger.LogEvent(ctx, logger.RECON, level, "payment.reconciled", append(attrs, extra...)...)
}
