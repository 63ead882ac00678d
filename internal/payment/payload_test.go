package payment

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{Provider: ProviderCrypto, UserID: 42, Amount: decimal.RequireFromString("150"), Nonce: "ab_cd"}
	raw := p.String()
	if raw != "crypto_payment_42_150.00_ab_cd" {
		t.Fatalf("encoded = %q", raw)
	}
	got, err := ParsePayload(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Provider != ProviderCrypto || got.UserID != 42 || !got.Amount.Equal(p.Amount) || got.Nonce != "ab_cd" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestParsePayloadAcceptsLegacyFloatAmounts(t *testing.T) {
	got, err := ParsePayload("stars_payment_7_500.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Provider != ProviderNative || got.UserID != 7 || got.Amount.String() != "500" || got.Nonce != "" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestParsePayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "crypto_42_150", "paypal_payment_1_10", "crypto_payment_x_10", "crypto_payment_1_-5", "crypto_payment_0_10"} {
		if _, err := ParsePayload(raw); !apperr.Is(err, apperr.KindMalformedPayload) {
			t.Fatalf("ParsePayload(%q) err = %v, want malformed", raw, err)
		}
	}
}
