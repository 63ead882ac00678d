package telegram

import (
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryTransportAttempts(t *testing.T) {
	for _, tc := range []struct {
		retries int
		want    int
	}{
		{0, 1},
		{2, 3},
	} {
		calls := 0
		rt := &retryTransport{
			base: roundTripFunc(func(*http.Request) (*http.Response, error) {
				calls++
				return nil, timeoutErr{}
			}),
			maxRetries: tc.retries,
		}
		req, err := http.NewRequest(http.MethodPost, "http://provider.test/createInvoice", strings.NewReader(`{"amount":"100"}`))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if _, err := rt.RoundTrip(req); err == nil {
			t.Fatalf("retries=%d: expected error", tc.retries)
		}
		if calls != tc.want {
			t.Fatalf("retries=%d: calls = %d, want %d", tc.retries, calls, tc.want)
		}
	}
}
