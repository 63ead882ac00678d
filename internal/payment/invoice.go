package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a payment request created for a user.
type Invoice struct {
	Provider Provider
	Payload  string
	UserID   int64
	// Amount is denominated in LedgerCurrency and is what gets credited.
	Amount   decimal.Decimal
	Currency string
	// Asset is the crypto ticker offered to the payer; empty for Stars.
	Asset string

	// ProviderInvoiceID and PayURL are set for crypto invoices.
	ProviderInvoiceID string
	PayURL            string
	// Stars is the price in Telegram Stars for native invoices.
	Stars int64

	Title       string
	Description string
	CreatedAt   time.Time
}

// Event is a normalized "payment observed" notification from either rail.
type Event struct {
	Provider  Provider
	PaymentID string
	// Amount is taken from the invoice payload.
	Amount   decimal.Decimal
	Currency string
	UserID   int64
	Status   string
	Payload  string
	// InvoiceID is the provider invoice reference when the rail has one.
	InvoiceID string
}

// Valid reports whether the event carries everything reconciliation needs.
func (e Event) Valid() bool {
	return e.Provider.Valid() && e.PaymentID != "" && e.UserID > 0 && e.Amount.IsPositive()
}
