package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/metrics"
)

// CryptoInvoiceRequest is what the gateway asks the crypto provider for.
type CryptoInvoiceRequest struct {
	Amount         decimal.Decimal
	Fiat           string
	AcceptedAssets []string
	Description    string
	Payload        string
}

// CryptoInvoiceResult is the provider's answer.
type CryptoInvoiceResult struct {
	InvoiceID string
	PayURL    string
}

// CryptoInvoicer creates invoices at the crypto provider. Implementations
// classify failures as KindGatewayUnavailable or KindGatewayRejected.
type CryptoInvoicer interface {
	CreateInvoice(ctx context.Context, req CryptoInvoiceRequest) (CryptoInvoiceResult, error)
}

// InvoiceJournal records created invoices.
type InvoiceJournal interface {
	RecordInvoice(ctx context.Context, inv Invoice) error
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Crypto  CryptoInvoicer
	Journal InvoiceJournal
	// Rules holds per-provider amount rules; DefaultAmountRule is used otherwise.
	Rules map[Provider]AmountRule
	// StarsPerUnit converts one LedgerCurrency unit into Stars.
	StarsPerUnit decimal.Decimal
	// CallTimeout bounds one provider call.
	CallTimeout time.Duration
	Now         func() time.Time
	NewNonce    func() string
	Metrics     *metrics.Metrics
}

// Gateway creates invoices on both rails.
type Gateway struct {
	crypto  CryptoInvoicer
	journal InvoiceJournal
	rules   map[Provider]AmountRule
	rate    decimal.Decimal
	timeout time.Duration
	now     func() time.Time
	nonce   func() string
	metrics *metrics.Metrics
}

// NewGateway builds a gateway, filling zero options with defaults.
func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		crypto:  opts.Crypto,
		journal: opts.Journal,
		rules:   opts.Rules,
		rate:    opts.StarsPerUnit,
		timeout: opts.CallTimeout,
		now:     opts.Now,
		nonce:   opts.NewNonce,
		metrics: opts.Metrics,
	}
	if !g.rate.IsPositive() {
		g.rate = decimal.NewFromInt(1)
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.nonce == nil {
		g.nonce = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] }
	}
	return g
}

// Rule returns the amount rule for provider.
func (g *Gateway) Rule(provider Provider) AmountRule {
	if r, ok := g.rules[provider]; ok {
		return r
	}
	return DefaultAmountRule
}

// StarsFor converts a ledger amount into a Stars price, rounding up.
func (g *Gateway) StarsFor(amount decimal.Decimal) int64 {
	return amount.Mul(g.rate).Ceil().IntPart()
}

// CreateInvoice creates an invoice of amount (in LedgerCurrency) for userID.
// currency is the crypto code for ProviderCrypto and is ignored for Stars.
func (g *Gateway) CreateInvoice(ctx context.Context, provider Provider, userID int64, amount decimal.Decimal, currency string) (Invoice, error) {
	if !amount.IsPositive() {
		return Invoice{}, apperr.New(apperr.KindValidation, "amount must be positive")
	}
	payload := Payload{Provider: provider, UserID: userID, Amount: amount, Nonce: g.nonce()}
	inv := Invoice{
		Provider:  provider,
		Payload:   payload.String(),
		UserID:    userID,
		Amount:    amount,
		Currency:  LedgerCurrency,
		CreatedAt: g.now().UTC(),
	}

	switch provider {
	case ProviderNative:
		inv.Stars = g.StarsFor(amount)
		inv.Title = "Balance top-up"
		inv.Description = fmt.Sprintf("Top up %s %s for %d Stars", amount.StringFixed(2), LedgerCurrency, inv.Stars)
	case ProviderCrypto:
		cur, ok := LookupCurrency(currency)
		if !ok {
			return Invoice{}, apperr.New(apperr.KindUnknownCallback, "unsupported currency %q", currency)
		}
		if g.crypto == nil {
			return Invoice{}, apperr.New(apperr.KindGatewayUnavailable, "crypto provider not configured")
		}
		inv.Asset = cur.Asset
		inv.Title = "Balance top-up"
		inv.Description = fmt.Sprintf("Top up %s %s via %s", amount.StringFixed(2), LedgerCurrency, cur.Asset)

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		start := time.Now()
		res, err := g.crypto.CreateInvoice(callCtx, CryptoInvoiceRequest{
			Amount:         amount,
			Fiat:           LedgerCurrency,
			AcceptedAssets: []string{cur.Asset},
			Description:    inv.Description,
			Payload:        inv.Payload,
		})
		if err != nil {
			logger.LogEvent(ctx, logger.PAY, slog.LevelWarn, "invoice.create",
				slog.String("status", "fail"),
				slog.String("provider", string(provider)),
				slog.String("currency", cur.Asset),
				slog.String("err_code", string(apperr.KindOf(err))),
				slog.Duration("duration", logger.Took(start)),
				logger.Err(err),
			)
			g.metrics.Invoice(string(provider), string(apperr.KindOf(err)))
			return Invoice{}, err
		}
		inv.ProviderInvoiceID = res.InvoiceID
		inv.PayURL = res.PayURL
	default:
		return Invoice{}, apperr.New(apperr.KindUnknownCallback, "unsupported provider %q", provider)
	}

	if g.journal != nil {
		if err := g.journal.RecordInvoice(ctx, inv); err != nil {
			logger.LogEvent(ctx, logger.PAY, slog.LevelWarn, "invoice.journal", slog.String("status", "fail"), logger.Err(err))
		}
	}
	g.metrics.Invoice(string(provider), "ok")
	logger.LogEvent(ctx, logger.PAY, slog.LevelInfo, "invoice.create",
		slog.String("status", "ok"),
		slog.String("provider", string(provider)),
		slog.String("invoice_id", inv.ProviderInvoiceID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("currency", inv.Asset),
	)
	return inv, nil
}
