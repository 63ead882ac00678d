// Package payment models the two payment rails behind one gateway: invoice
// creation, invoice payload encoding and webhook normalization into a single
// Event type that reconciliation consumes.
package payment

import (
	"strings"
)

// Provider identifies a payment rail.
type Provider string

const (
	// ProviderNative is Telegram Stars, paid inside the chat.
	ProviderNative Provider = "native_currency"
	// ProviderCrypto is a CryptoBot invoice paid in a crypto asset.
	ProviderCrypto Provider = "crypto_invoice"
	// ProviderManual marks credits issued by an admin command.
	ProviderManual Provider = "manual"
)

const (
	// StarsCurrency is the Telegram Stars currency code.
	StarsCurrency = "XTR"
	// LedgerCurrency is the fiat currency balances are kept in.
	LedgerCurrency = "RUB"
)

// Rail returns the short name used inside invoice payloads.
func (p Provider) Rail() string {
	switch p {
	case ProviderNative:
		return "stars"
	case ProviderCrypto:
		return "crypto"
	case ProviderManual:
		return "manual"
	}
	return ""
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool { return p.Rail() != "" }

// ProviderFromRail is the inverse of Provider.Rail.
func ProviderFromRail(rail string) (Provider, bool) {
	switch rail {
	case "stars":
		return ProviderNative, true
	case "crypto":
		return ProviderCrypto, true
	case "manual":
		return ProviderManual, true
	}
	return "", false
}

// Currency is a crypto asset accepted for CryptoBot invoices.
type Currency struct {
	// Code is the lower-case token used in callback data.
	Code string
	// Asset is the CryptoBot asset ticker.
	Asset string
	Name  string
}

var currencies = []Currency{
	{Code: "btc", Asset: "BTC", Name: "Bitcoin"},
	{Code: "eth", Asset: "ETH", Name: "Ethereum"},
	{Code: "usdt", Asset: "USDT", Name: "Tether"},
	{Code: "ltc", Asset: "LTC", Name: "Litecoin"},
}

// Currencies returns the supported crypto assets in menu order.
func Currencies() []Currency {
	return append([]Currency(nil), currencies...)
}

// LookupCurrency finds a currency by its callback code, case-insensitively.
func LookupCurrency(code string) (Currency, bool) {
	code = strings.ToLower(code)
	for _, c := range currencies {
		if c.Code == code {
			return c, true
		}
	}
	return Currency{}, false
}
