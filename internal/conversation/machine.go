package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
)

// DefaultTTL bounds how long a non-idle state waits for its text.
const DefaultTTL = 15 * time.Minute

// InvoiceCreator is the slice of the payment gateway the machine needs.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, provider payment.Provider, userID int64, amount decimal.Decimal, currency string) (payment.Invoice, error)
	Rule(provider payment.Provider) payment.AmountRule
}

// Broadcaster starts an admin broadcast in the background.
type Broadcaster interface {
	Launch(ctx context.Context, message string, senderID int64) error
}

// AdminChecker reads the admin flag at call time.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// OutcomeKind enumerates what a text message resulted in.
type OutcomeKind int

const (
	// OutcomeOrdinary means the text was not consumed by any state.
	OutcomeOrdinary OutcomeKind = iota
	// OutcomeInvoice means a custom amount was accepted and an invoice created.
	OutcomeInvoice
	// OutcomeBroadcastAccepted means the text was handed to the broadcaster.
	OutcomeBroadcastAccepted
	// OutcomeExpired means a stale state was dropped.
	OutcomeExpired
)

// Outcome is the result of OnText.
type Outcome struct {
	Kind    OutcomeKind
	Invoice payment.Invoice
	// Previous is the state that was consumed, if any.
	Previous State
}

// Options configures a Machine.
type Options struct {
	Store       Store
	Invoices    InvoiceCreator
	Broadcaster Broadcaster
	Admins      AdminChecker
	// TTL for non-idle states; zero means DefaultTTL, negative disables expiry.
	TTL time.Duration
	Now func() time.Time
}

// Machine interprets free text against the sender's conversation state.
type Machine struct {
	store       Store
	invoices    InvoiceCreator
	broadcaster Broadcaster
	admins      AdminChecker
	ttl         time.Duration
	now         func() time.Time
}

// NewMachine builds a machine.
func NewMachine(opts Options) *Machine {
	m := &Machine{
		store:       opts.Store,
		invoices:    opts.Invoices,
		broadcaster: opts.Broadcaster,
		admins:      opts.Admins,
		ttl:         opts.TTL,
		now:         opts.Now,
	}
	if m.ttl == 0 {
		m.ttl = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Enter stamps st with a fresh version and deadline and stores it.
func (m *Machine) Enter(ctx context.Context, userID int64, st State) (State, error) {
	now := m.now().UTC()
	st.Version = uuid.NewString()
	st.CreatedAt = now
	if m.ttl > 0 {
		st.ExpiresAt = now.Add(m.ttl)
	}
	if err := m.store.Put(ctx, userID, st); err != nil {
		return State{}, err
	}
	logger.LogEvent(ctx, logger.STATE, slog.LevelDebug, "state.enter",
		slog.Int64("user_id", userID),
		slog.String("state", string(st.Kind)),
		slog.String("provider", string(st.Provider)),
		slog.String("currency", st.Currency),
	)
	return st, nil
}

// Reset drops whatever state the user is in.
func (m *Machine) Reset(ctx context.Context, userID int64) error {
	return m.store.Put(ctx, userID, Idle())
}

// Current returns the user's state.
func (m *Machine) Current(ctx context.Context, userID int64) (State, error) {
	return m.store.Get(ctx, userID)
}

// ErrEmptyBroadcast rejects a blank broadcast message; the state is kept.
var ErrEmptyBroadcast = apperr.New(apperr.KindValidation, "empty broadcast message")

// OnText interprets text. A failed amount validation returns the
// *payment.ValidationError and a blank broadcast returns ErrEmptyBroadcast;
// both leave the state in place. Every other path
// that consumes the state clears it first with CompareAndClear; when another
// message already consumed it, the text is treated as ordinary input.
func (m *Machine) OnText(ctx context.Context, userID int64, text string) (Outcome, error) {
	st, err := m.store.Get(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if st.IsIdle() {
		return Outcome{Kind: OutcomeOrdinary}, nil
	}
	if st.Expired(m.now()) {
		if _, err := m.store.CompareAndClear(ctx, userID, st.Version); err != nil {
			return Outcome{}, err
		}
		logger.LogEvent(ctx, logger.STATE, slog.LevelInfo, "state.expired",
			slog.Int64("user_id", userID),
			slog.String("state", string(st.Kind)),
		)
		return Outcome{Kind: OutcomeExpired, Previous: st}, nil
	}

	switch st.Kind {
	case KindAwaitingCustomAmount:
		return m.onCustomAmount(ctx, userID, st, text)
	case KindAwaitingBroadcast:
		return m.onBroadcast(ctx, userID, st, text)
	}
	// Unknown kinds come from newer or corrupted data; drop them.
	if _, err := m.store.CompareAndClear(ctx, userID, st.Version); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeOrdinary}, nil
}

func (m *Machine) onCustomAmount(ctx context.Context, userID int64, st State, text string) (Outcome, error) {
	amount, err := m.invoices.Rule(st.Provider).Parse(text)
	if err != nil {
		logger.LogEvent(ctx, logger.STATE, slog.LevelInfo, "amount.rejected",
			slog.Int64("user_id", userID),
			slog.String("provider", string(st.Provider)),
			slog.String("err_code", errCode(err)),
		)
		return Outcome{}, err
	}
	won, err := m.store.CompareAndClear(ctx, userID, st.Version)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		return Outcome{Kind: OutcomeOrdinary}, nil
	}
	inv, err := m.invoices.CreateInvoice(ctx, st.Provider, userID, amount, st.Currency)
	if err != nil {
		return Outcome{Previous: st}, err
	}
	return Outcome{Kind: OutcomeInvoice, Invoice: inv, Previous: st}, nil
}

func (m *Machine) onBroadcast(ctx context.Context, userID int64, st State, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{Previous: st}, ErrEmptyBroadcast
	}
	won, err := m.store.CompareAndClear(ctx, userID, st.Version)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		return Outcome{Kind: OutcomeOrdinary}, nil
	}
	admin, err := m.admins.IsAdmin(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if !admin {
		logger.LogEvent(ctx, logger.STATE, slog.LevelWarn, "broadcast.denied",
			slog.Int64("user_id", userID),
			slog.String("outcome", "denied"),
		)
		return Outcome{Kind: OutcomeOrdinary, Previous: st}, nil
	}
	if err := m.broadcaster.Launch(ctx, text, userID); err != nil {
		return Outcome{Previous: st}, err
	}
	return Outcome{Kind: OutcomeBroadcastAccepted, Previous: st}, nil
}

func errCode(err error) string {
	if c, ok := err.(interface{ Code() string }); ok {
		return c.Code()
	}
	return ""
}
