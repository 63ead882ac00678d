package payment

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
)

// Payload is the invoice payload string attached to every invoice. It is the
// only source of the owning user when a payment notification arrives.
//
// Wire format: <rail>_payment_<user_id>_<amount>[_<nonce>]
type Payload struct {
	Provider Provider
	UserID   int64
	Amount   decimal.Decimal
	Nonce    string
}

const payloadMarker = "payment"

// String encodes the payload. The amount is written with two decimals.
func (p Payload) String() string {
	var b strings.Builder
	b.WriteString(p.Provider.Rail())
	b.WriteByte('_')
	b.WriteString(payloadMarker)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(p.UserID, 10))
	b.WriteByte('_')
	b.WriteString(p.Amount.StringFixed(2))
	if p.Nonce != "" {
		b.WriteByte('_')
		b.WriteString(p.Nonce)
	}
	return b.String()
}

// ParsePayload decodes a payload produced by Payload.String. Everything after
// the amount belongs to the nonce, so nonces may contain underscores.
func ParsePayload(raw string) (Payload, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "_", 5)
	if len(parts) < 4 || parts[1] != payloadMarker {
		return Payload{}, apperr.New(apperr.KindMalformedPayload, "payload %q: unexpected layout", raw)
	}
	provider, ok := ProviderFromRail(parts[0])
	if !ok {
		return Payload{}, apperr.New(apperr.KindMalformedPayload, "payload %q: unknown rail", raw)
	}
	uid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || uid <= 0 {
		return Payload{}, apperr.New(apperr.KindMalformedPayload, "payload %q: bad user id", raw)
	}
	amount, err := decimal.NewFromString(parts[3])
	if err != nil || !amount.IsPositive() {
		return Payload{}, apperr.New(apperr.KindMalformedPayload, "payload %q: bad amount", raw)
	}
	p := Payload{Provider: provider, UserID: uid, Amount: amount}
	if len(parts) == 5 {
		p.Nonce = parts[4]
	}
	return p, nil
}
