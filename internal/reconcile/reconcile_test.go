package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/payment"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts map[int64][]string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.texts == nil {
		n.texts = map[int64][]string{}
	}
	n.texts[userID] = append(n.texts[userID], text)
	return n.err
}

func (n *recordingNotifier) count(userID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts[userID])
}

type failingLedger struct{}

func (failingLedger) Credit(context.Context, ledger.Credit) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection reset")
}

func newStore(t *testing.T, users ...int64) *ledger.MemoryStore {
	t.Helper()
	store := ledger.NewMemoryStore()
	for _, id := range users {
		if _, err := store.EnsureUser(context.Background(), ledger.Profile{TelegramID: id}); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	return store
}

func cryptoEvent(userID int64, paymentID, amount string) payment.Event {
	return payment.Event{
		Provider:  payment.ProviderCrypto,
		PaymentID: paymentID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  payment.LedgerCurrency,
		UserID:    userID,
		Status:    "paid",
	}
}

func TestReconcileCreditsOnce(t *testing.T) {
	store := newStore(t, 42)
	notifier := &recordingNotifier{}
	engine := New(Options{Ledger: store, Notifier: notifier})
	ctx := context.Background()

	out, err := engine.Reconcile(ctx, cryptoEvent(42, "inv-1", "150.00"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.Kind != Credited || !out.Balance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	again, err := engine.Reconcile(ctx, cryptoEvent(42, "inv-1", "150.00"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.Kind != AlreadyProcessed {
		t.Fatalf("redelivery outcome = %s", again.Kind)
	}
	u, _ := store.GetUser(ctx, 42)
	if !u.Balance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("balance = %s, want 150", u.Balance)
	}
	if notifier.count(42) != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count(42))
	}
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	store := newStore(t, 7)
	engine := New(Options{Ledger: store})
	var credited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := engine.Reconcile(context.Background(), cryptoEvent(7, "dup", "100"))
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if out.Kind == Credited {
				credited.Add(1)
			}
		}()
	}
	wg.Wait()
	if credited.Load() != 1 {
		t.Fatalf("credited %d times, want 1", credited.Load())
	}
	u, _ := store.GetUser(context.Background(), 7)
	if !u.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s", u.Balance)
	}
}

func TestReconcileUnknownRecipientLeavesNoRecord(t *testing.T) {
	store := newStore(t)
	engine := New(Options{Ledger: store})
	ctx := context.Background()

	out, err := engine.Reconcile(ctx, cryptoEvent(99, "inv-9", "100"))
	if err != nil || out.Kind != UnknownRecipient {
		t.Fatalf("outcome = %v, err = %v", out.Kind, err)
	}
	if _, err := store.EnsureUser(ctx, ledger.Profile{TelegramID: 99}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	out, err = engine.Reconcile(ctx, cryptoEvent(99, "inv-9", "100"))
	if err != nil || out.Kind != Credited {
		t.Fatalf("retry outcome = %v, err = %v", out.Kind, err)
	}
}

func TestReconcileMalformed(t *testing.T) {
	engine := New(Options{Ledger: newStore(t, 1)})
	ev := cryptoEvent(1, "", "100")
	out, err := engine.Reconcile(context.Background(), ev)
	if err != nil || out.Kind != MalformedEvent {
		t.Fatalf("outcome = %v, err = %v", out.Kind, err)
	}
}

func TestReconcileInfrastructureError(t *testing.T) {
	engine := New(Options{Ledger: failingLedger{}})
	if _, err := engine.Reconcile(context.Background(), cryptoEvent(1, "x", "100")); err == nil {
		t.Fatalf("expected infrastructure error")
	}
}

func TestNotificationFailureKeepsCredit(t *testing.T) {
	store := newStore(t, 5)
	engine := New(Options{Ledger: store, Notifier: &recordingNotifier{err: errors.New("blocked")}})
	out, err := engine.Reconcile(context.Background(), cryptoEvent(5, "p", "250"))
	if err != nil || out.Kind != Credited {
		t.Fatalf("outcome = %v, err = %v", out.Kind, err)
	}
}

func TestReconcileRaw(t *testing.T) {
	store := newStore(t, 42)
	notifier := &recordingNotifier{}
	engine := New(Options{Ledger: store, Notifier: notifier})
	ctx := context.Background()

	cases := []struct {
		name string
		raw  string
		want OutcomeKind
	}{
		{"paid", `{"update_type":"invoice_paid","payload":{"invoice_id":1,"status":"paid","payload":"crypto_payment_42_150.00"}}`, Credited},
		{"redelivered", `{"update_type":"invoice_paid","payload":{"invoice_id":1,"status":"paid","payload":"crypto_payment_42_150.00"}}`, AlreadyProcessed},
		{"garbage", `not json`, MalformedEvent},
		{"expired", `{"update_type":"invoice_paid","payload":{"invoice_id":2,"status":"expired","payload":"crypto_payment_42_150.00"}}`, Ignored},
	}
	for _, tc := range cases {
		out, err := engine.ReconcileRaw(ctx, payment.ProviderCrypto, []byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out.Kind != tc.want {
			t.Fatalf("%s: outcome = %s, want %s", tc.name, out.Kind, tc.want)
		}
	}
	if got := notifier.texts[42]; len(got) != 1 || !strings.Contains(got[0], "150.00") {
		t.Fatalf("notification = %v", got)
	}
}
