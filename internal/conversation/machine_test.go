package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
)

type fakeInvoices struct {
	calls atomic.Int32
	err   error
}

func (f *fakeInvoices) Rule(payment.Provider) payment.AmountRule { return payment.DefaultAmountRule }

func (f *fakeInvoices) CreateInvoice(_ context.Context, p payment.Provider, uid int64, amount decimal.Decimal, cur string) (payment.Invoice, error) {
	f.calls.Add(1)
	if f.err != nil {
		return payment.Invoice{}, f.err
	}
	return payment.Invoice{Provider: p, UserID: uid, Amount: amount, Asset: cur, PayURL: "https://pay"}, nil
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeBroadcaster) Launch(_ context.Context, msg string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type admins map[int64]bool

func (a admins) IsAdmin(_ context.Context, id int64) (bool, error) { return a[id], nil }

func newMachine(inv *fakeInvoices, b *fakeBroadcaster, a admins) (*Machine, *MemoryStore) {
	store := NewMemoryStore()
	return NewMachine(Options{Store: store, Invoices: inv, Broadcaster: b, Admins: a}), store
}

func TestCustomAmountValidationBoundary(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvoices{}
	m, store := newMachine(inv, &fakeBroadcaster{}, nil)
	if _, err := m.Enter(ctx, 1, AwaitingCustomAmount(payment.ProviderCrypto, "btc")); err != nil {
		t.Fatalf("enter: %v", err)
	}

	for _, tc := range []struct {
		text   string
		reason payment.ValidationReason
	}{{"99", payment.ReasonMinimum}, {"125", payment.ReasonStep}} {
		_, err := m.OnText(ctx, 1, tc.text)
		var verr *payment.ValidationError
		if !errors.As(err, &verr) || verr.Reason != tc.reason {
			t.Fatalf("%s: err = %v, want %s", tc.text, err, tc.reason)
		}
		if st, _ := store.Get(ctx, 1); st.Kind != KindAwaitingCustomAmount {
			t.Fatalf("%s: state changed to %+v", tc.text, st)
		}
	}

	out, err := m.OnText(ctx, 1, "150")
	if err != nil {
		t.Fatalf("150: %v", err)
	}
	if out.Kind != OutcomeInvoice || !out.Invoice.Amount.Equal(decimal.NewFromInt(150)) || out.Invoice.Asset != "btc" {
		t.Fatalf("outcome = %+v", out)
	}
	if st, _ := store.Get(ctx, 1); !st.IsIdle() {
		t.Fatalf("state not cleared: %+v", st)
	}
	if inv.calls.Load() != 1 {
		t.Fatalf("invoices created = %d", inv.calls.Load())
	}
}

func TestConcurrentTextsConsumeStateOnce(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvoices{}
	m, _ := newMachine(inv, &fakeBroadcaster{}, nil)
	if _, err := m.Enter(ctx, 1, AwaitingCustomAmount(payment.ProviderNative, payment.StarsCurrency)); err != nil {
		t.Fatalf("enter: %v", err)
	}
	var wg sync.WaitGroup
	var invoices atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.OnText(ctx, 1, "200")
			if err == nil && out.Kind == OutcomeInvoice {
				invoices.Add(1)
			}
		}()
	}
	wg.Wait()
	if invoices.Load() != 1 || inv.calls.Load() != 1 {
		t.Fatalf("invoices = %d, gateway calls = %d", invoices.Load(), inv.calls.Load())
	}
}

func TestGatewayFailureStillClearsState(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvoices{err: apperr.New(apperr.KindGatewayUnavailable, "down")}
	m, store := newMachine(inv, &fakeBroadcaster{}, nil)
	_, _ = m.Enter(ctx, 1, AwaitingCustomAmount(payment.ProviderCrypto, "eth"))
	if _, err := m.OnText(ctx, 1, "500"); !apperr.Is(err, apperr.KindGatewayUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if st, _ := store.Get(ctx, 1); !st.IsIdle() {
		t.Fatalf("state = %+v", st)
	}
}

func TestBroadcastRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroadcaster{}
	m, store := newMachine(&fakeInvoices{}, b, admins{1: true})

	_ = store.Put(ctx, 2, State{Kind: KindAwaitingBroadcast, Version: "x"})
	out, err := m.OnText(ctx, 2, "hello all")
	if err != nil || out.Kind != OutcomeOrdinary {
		t.Fatalf("non-admin outcome = %+v, %v", out, err)
	}

	_, _ = m.Enter(ctx, 1, AwaitingBroadcast())
	out, err = m.OnText(ctx, 1, "hello all")
	if err != nil || out.Kind != OutcomeBroadcastAccepted {
		t.Fatalf("admin outcome = %+v, %v", out, err)
	}
	if len(b.messages) != 1 || b.messages[0] != "hello all" {
		t.Fatalf("broadcasts = %v", b.messages)
	}
}

func TestBlankBroadcastKeepsState(t *testing.T) {
	ctx := context.Background()
	b := &fakeBroadcaster{}
	m, store := newMachine(&fakeInvoices{}, b, admins{1: true})
	entered, _ := m.Enter(ctx, 1, AwaitingBroadcast())

	if _, err := m.OnText(ctx, 1, " \n "); !errors.Is(err, ErrEmptyBroadcast) {
		t.Fatalf("err = %v", err)
	}
	st, _ := store.Get(ctx, 1)
	if st.Version != entered.Version {
		t.Fatalf("state changed: %+v", st)
	}
	if len(b.messages) != 0 {
		t.Fatalf("broadcasts = %v", b.messages)
	}
}

func TestExpiredStateFallsBackToIdle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	inv := &fakeInvoices{}
	store := NewMemoryStore()
	m := NewMachine(Options{Store: store, Invoices: inv, TTL: time.Minute, Now: func() time.Time { return now }})
	_, _ = m.Enter(ctx, 1, AwaitingCustomAmount(payment.ProviderCrypto, "btc"))

	now = now.Add(2 * time.Minute)
	out, err := m.OnText(ctx, 1, "150")
	if err != nil || out.Kind != OutcomeExpired {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
	if inv.calls.Load() != 0 {
		t.Fatal("expired state must not create invoices")
	}
	if out, _ := m.OnText(ctx, 1, "150"); out.Kind != OutcomeOrdinary {
		t.Fatalf("after expiry outcome = %+v", out)
	}
}

func TestIdleTextIsOrdinary(t *testing.T) {
	m, _ := newMachine(&fakeInvoices{}, &fakeBroadcaster{}, nil)
	out, err := m.OnText(context.Background(), 5, "hi")
	if err != nil || out.Kind != OutcomeOrdinary {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
}
