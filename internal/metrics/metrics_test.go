package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Update("callback", "ok")
	m.Reconciled("crypto_invoice", "credited", 10)
	m.Broadcast(1, 1)
	m.Webhook("ok")
	m.Invoice("crypto_invoice", "ok")
	m.Callback("menu_help")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Reconciled("crypto_invoice", "credited", 150)
	m.Reconciled("crypto_invoice", "already_processed", 0)
	m.Broadcast(7, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`walletbot_payments_reconciled_total{outcome="credited",provider="crypto_invoice"} 1`,
		`walletbot_payments_credited_amount_total{provider="crypto_invoice"} 150`,
		`walletbot_broadcast_deliveries_total{result="failed"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
