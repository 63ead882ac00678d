// Package ledger keeps user records and balances. A credit and its dedup
// record are written in one unit of work, so a payment identifier is either
// both recorded and credited or neither.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
)

var (
	// ErrAlreadyProcessed means the (provider, payment id) pair was credited before.
	ErrAlreadyProcessed error = apperr.New(apperr.KindAlreadyProcessed, "payment already processed")
	// ErrUnknownRecipient means the credited user does not exist.
	ErrUnknownRecipient error = apperr.New(apperr.KindUnknownRecipient, "recipient not found")
	// ErrNotFound is returned by lookups of missing users.
	ErrNotFound error = apperr.New(apperr.KindInternal, "user not found")
)

// User is a wallet holder.
type User struct {
	TelegramID int64           `db:"telegram_id"`
	FirstName  string          `db:"first_name"`
	Username   string          `db:"username"`
	Balance    decimal.Decimal `db:"balance"`
	IsAdmin    bool            `db:"is_admin"`
}

// Profile is the identity data refreshed on every inbound event.
type Profile struct {
	TelegramID int64
	FirstName  string
	Username   string
}

// Credit is one balance increment keyed by a provider payment identifier.
type Credit struct {
	Provider  payment.Provider
	PaymentID string
	UserID    int64
	Amount    decimal.Decimal
	Currency  string
	// InvoicePayload marks the matching invoice as paid when set.
	InvoicePayload string
}

// Stats summarizes the ledger for the admin panel.
type Stats struct {
	Users        int64
	TotalBalance decimal.Decimal
	Payments     int64
}

// Store is the ledger contract shared by the SQL and in-memory backends.
type Store interface {
	// EnsureUser creates the user on first sight and refreshes profile fields.
	EnsureUser(ctx context.Context, p Profile) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)
	// Credit applies c exactly once and returns the new balance.
	Credit(ctx context.Context, c Credit) (decimal.Decimal, error)
	RecordInvoice(ctx context.Context, inv payment.Invoice) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context) (Stats, error)
}

func validateCredit(c Credit) error {
	if !c.Provider.Valid() || c.PaymentID == "" || c.UserID == 0 {
		return apperr.New(apperr.KindMalformedPayload, "credit: missing provider, payment id or user")
	}
	if !c.Amount.IsPositive() {
		return apperr.New(apperr.KindMalformedPayload, "credit: amount must be positive")
	}
	return nil
}
