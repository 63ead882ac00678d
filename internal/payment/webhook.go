package payment

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
)

// CryptoUpdate is the CryptoBot webhook body.
type CryptoUpdate struct {
	UpdateID   int64          `json:"update_id"`
	UpdateType string         `json:"update_type"`
	Payload    *CryptoInvoice `json:"payload"`
}

// CryptoInvoice is the invoice object inside a CryptoBot update.
type CryptoInvoice struct {
	InvoiceID    FlexibleID `json:"invoice_id"`
	Status       string     `json:"status"`
	Amount       string     `json:"amount"`
	CurrencyType string     `json:"currency_type"`
	Fiat         string     `json:"fiat"`
	Asset        string     `json:"asset"`
	Description  string     `json:"description"`
	Payload      string     `json:"payload"`
}

// FlexibleID accepts an identifier encoded either as a JSON number or string.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

// NativePayment mirrors Telegram's successful_payment object.
type NativePayment struct {
	Currency                string `json:"currency"`
	TotalAmount             int64  `json:"total_amount"`
	InvoicePayload          string `json:"invoice_payload"`
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
	ProviderPaymentChargeID string `json:"provider_payment_charge_id"`
}

const (
	cryptoUpdatePaid = "invoice_paid"
	cryptoStatusPaid = "paid"
	nativeStatusPaid = "succeeded"
	currencyTypeFiat = "fiat"
)

// NormalizeWebhook converts a raw provider notification into an Event.
// Missing or inconsistent fields yield KindMalformedPayload; notifications
// that are not a completed payment yield KindUnrecognizedStatus.
func NormalizeWebhook(provider Provider, raw []byte) (Event, error) {
	switch provider {
	case ProviderCrypto:
		var upd CryptoUpdate
		if err := decodeStrict(raw, &upd); err != nil {
			return Event{}, apperr.Wrap(apperr.KindMalformedPayload, err, "crypto webhook")
		}
		return normalizeCrypto(upd)
	case ProviderNative:
		var p NativePayment
		if err := decodeStrict(raw, &p); err != nil {
			return Event{}, apperr.Wrap(apperr.KindMalformedPayload, err, "native payment")
		}
		return normalizeNative(p)
	}
	return Event{}, apperr.New(apperr.KindMalformedPayload, "unsupported provider %q", provider)
}

func decodeStrict(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func normalizeCrypto(upd CryptoUpdate) (Event, error) {
	if upd.UpdateType == "" || upd.Payload == nil {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "crypto webhook: missing update_type or payload")
	}
	inv := upd.Payload
	if upd.UpdateType != cryptoUpdatePaid || inv.Status != cryptoStatusPaid {
		return Event{}, apperr.New(apperr.KindUnrecognizedStatus, "crypto webhook: %s/%s", upd.UpdateType, inv.Status)
	}
	invoiceID := strings.TrimSpace(string(inv.InvoiceID))
	if invoiceID == "" {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "crypto webhook: missing invoice_id")
	}
	if inv.Payload == "" {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "crypto webhook %s: missing payload", invoiceID)
	}
	p, err := ParsePayload(inv.Payload)
	if err != nil {
		return Event{}, err
	}
	if p.Provider != ProviderCrypto {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "crypto webhook %s: payload rail %s", invoiceID, p.Provider.Rail())
	}
	currency := LedgerCurrency
	if inv.CurrencyType == currencyTypeFiat {
		paid, err := decimal.NewFromString(inv.Amount)
		if err != nil {
			return Event{}, apperr.Wrap(apperr.KindMalformedPayload, err, "crypto webhook %s: amount", invoiceID)
		}
		if !paid.Equal(p.Amount) {
			return Event{}, apperr.New(apperr.KindMalformedPayload, "crypto webhook %s: amount %s does not match payload %s", invoiceID, paid, p.Amount)
		}
		if inv.Fiat != "" {
			currency = inv.Fiat
		}
	}
	return Event{
		Provider:  ProviderCrypto,
		PaymentID: invoiceID,
		Amount:    p.Amount,
		Currency:  currency,
		UserID:    p.UserID,
		Status:    inv.Status,
		Payload:   inv.Payload,
		InvoiceID: invoiceID,
	}, nil
}

func normalizeNative(p NativePayment) (Event, error) {
	if p.Currency != StarsCurrency {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "native payment: currency %q", p.Currency)
	}
	chargeID := p.ProviderPaymentChargeID
	if chargeID == "" {
		chargeID = p.TelegramPaymentChargeID
	}
	if chargeID == "" || p.InvoicePayload == "" || p.TotalAmount <= 0 {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "native payment: missing charge id, payload or total")
	}
	payload, err := ParsePayload(p.InvoicePayload)
	if err != nil {
		return Event{}, err
	}
	if payload.Provider != ProviderNative {
		return Event{}, apperr.New(apperr.KindMalformedPayload, "native payment %s: payload rail %s", chargeID, payload.Provider.Rail())
	}
	return Event{
		Provider:  ProviderNative,
		PaymentID: chargeID,
		Amount:    payload.Amount,
		Currency:  LedgerCurrency,
		UserID:    payload.UserID,
		Status:    nativeStatusPaid,
		Payload:   p.InvoicePayload,
	}, nil
}
