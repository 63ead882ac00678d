package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindGatewayRejected, "code %d", 400)
	wrapped := fmt.Errorf("create invoice: %w", base)
	if !Is(wrapped, KindGatewayRejected) {
		t.Fatalf("kind lost: %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("plain errors must be internal")
	}
	if base.Code() != "GATEWAY_REJECTED" {
		t.Fatalf("code = %s", base.Code())
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindGatewayUnavailable, cause, "cryptobot")
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable")
	}
	if Wrap(KindInternal, nil, "x") != nil {
		t.Fatal("nil cause must produce nil")
	}
	if got := err.Error(); got != "gateway_unavailable: cryptobot: dial tcp: refused" {
		t.Fatalf("message = %q", got)
	}
}
