package dispatch

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/reconcile"
)

type fakeCrypto struct {
	err   error
	calls int
}

func (f *fakeCrypto) CreateInvoice(_ context.Context, req payment.CryptoInvoiceRequest) (payment.CryptoInvoiceResult, error) {
	f.calls++
	if f.err != nil {
		return payment.CryptoInvoiceResult{}, f.err
	}
	return payment.CryptoInvoiceResult{InvoiceID: "1", PayURL: "https://t.me/CryptoBot?start=IV1"}, nil
}

type noopBroadcaster struct {
	messages []string
	err      error
}

func (b *noopBroadcaster) Launch(_ context.Context, msg string, _ int64) error {
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, msg)
	return nil
}

type panicLedger struct{ ledger.Store }

func (panicLedger) EnsureUser(context.Context, ledger.Profile) (ledger.User, error) {
	panic("boom")
}

type fixture struct {
	d      *Dispatcher
	ledger *ledger.MemoryStore
	states *conversation.MemoryStore
	crypto *fakeCrypto
	bcast  *noopBroadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	states := conversation.NewMemoryStore()
	crypto := &fakeCrypto{}
	bcast := &noopBroadcaster{}
	gw := payment.NewGateway(payment.GatewayOptions{
		Crypto:       crypto,
		Journal:      store,
		StarsPerUnit: decimal.RequireFromString("0.55"),
		Rules: map[payment.Provider]payment.AmountRule{
			payment.ProviderManual: {Minimum: decimal.RequireFromString("0.01"), Scale: 2},
		},
	})
	machine := conversation.NewMachine(conversation.Options{
		Store:       states,
		Invoices:    gw,
		Broadcaster: bcast,
		Admins:      store,
	})
	var seq int
	d, err := New(Options{
		Ledger:       store,
		Machine:      machine,
		Invoices:     gw,
		Reconciler:   reconcile.New(reconcile.Options{Ledger: store}),
		NewPaymentID: func() string {
			seq++
			return "manual-" + strconv.Itoa(seq)
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &fixture{d: d, ledger: store, states: states, crypto: crypto, bcast: bcast}
}

func (f *fixture) send(kind UpdateKind, user int64, data string) chat.Reply {
	return f.d.Dispatch(context.Background(), Update{Kind: kind, UserID: user, FirstName: "Ann", Data: data})
}

func (f *fixture) command(user int64, name, args string) chat.Reply {
	return f.d.Dispatch(context.Background(), Update{Kind: UpdateCommand, UserID: user, FirstName: "Ann", Command: name, Data: args})
}

func TestStartRegistersUserAndShowsMenu(t *testing.T) {
	f := newFixture(t)
	reply := f.command(10, CommandStart, "")
	if !strings.Contains(reply.Text, "Ann") {
		t.Fatalf("menu text = %q", reply.Text)
	}
	if _, err := f.ledger.GetUser(context.Background(), 10); err != nil {
		t.Fatalf("user not registered: %v", err)
	}
	for _, row := range reply.Buttons {
		for _, b := range row {
			if b.Data == chat.DataAdminPanel {
				t.Fatalf("admin button shown to regular user")
			}
		}
	}
}

func TestUnknownCallbackIsUnavailable(t *testing.T) {
	f := newFixture(t)
	reply := f.send(UpdateCallback, 1, "crypto_doge_100")
	if reply.Text != chat.Unavailable().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
}

func TestCryptoCustomAmountFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prompt := f.send(UpdateCallback, 5, "crypto_usdt_custom")
	if !strings.Contains(prompt.Text, "USDT") {
		t.Fatalf("prompt = %q", prompt.Text)
	}

	invalid := f.send(UpdateText, 5, "99")
	if !strings.Contains(invalid.Text, "minimum") {
		t.Fatalf("validation reply = %q", invalid.Text)
	}
	st, _ := f.states.Get(ctx, 5)
	if st.Kind != conversation.KindAwaitingCustomAmount {
		t.Fatalf("state after invalid amount = %s", st.Kind)
	}

	reply := f.send(UpdateText, 5, "150")
	if len(reply.Buttons) == 0 || reply.Buttons[0][0].URL == "" {
		t.Fatalf("invoice reply = %+v", reply)
	}
	if f.crypto.calls != 1 {
		t.Fatalf("crypto calls = %d", f.crypto.calls)
	}
	st, _ = f.states.Get(ctx, 5)
	if !st.IsIdle() {
		t.Fatalf("state after invoice = %s", st.Kind)
	}
}

func TestStarsFixedAmountAttachesInvoice(t *testing.T) {
	f := newFixture(t)
	reply := f.send(UpdateCallback, 3, "pay_stars_500")
	if reply.Invoice == nil || reply.Invoice.Stars != 275 {
		t.Fatalf("invoice = %+v", reply.Invoice)
	}
	if reply.Invoice.Provider != payment.ProviderNative {
		t.Fatalf("provider = %s", reply.Invoice.Provider)
	}
}

func TestGatewayFailureAsksToRetry(t *testing.T) {
	f := newFixture(t)
	f.crypto.err = apperr.New(apperr.KindGatewayUnavailable, "timeout")
	reply := f.send(UpdateCallback, 3, "crypto_btc_500")
	if reply.Text != chat.RetryLater().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
}

func TestAdminCallbacksRequireFlag(t *testing.T) {
	f := newFixture(t)
	if reply := f.send(UpdateCallback, 8, "admin_stats"); !reply.Silent {
		t.Fatalf("non-admin got %+v", reply)
	}
	f.ledger.SetAdmin(8, true)
	if reply := f.send(UpdateCallback, 8, "admin_stats"); !strings.Contains(reply.Text, "Users: 1") {
		t.Fatalf("stats = %q", reply.Text)
	}
}

func TestAdminBroadcastFlow(t *testing.T) {
	f := newFixture(t)
	f.send(UpdateCallback, 2, "back_to_menu")
	f.ledger.SetAdmin(2, true)
	f.send(UpdateCallback, 2, "admin_broadcast")
	reply := f.send(UpdateText, 2, "maintenance at 22:00")
	if reply.Text != chat.BroadcastAccepted().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
	if len(f.bcast.messages) != 1 || f.bcast.messages[0] != "maintenance at 22:00" {
		t.Fatalf("broadcasts = %v", f.bcast.messages)
	}
}

func TestBlankBroadcastKeepsState(t *testing.T) {
	f := newFixture(t)
	f.send(UpdateCallback, 2, "back_to_menu")
	f.ledger.SetAdmin(2, true)
	f.send(UpdateCallback, 2, "admin_broadcast")

	reply := f.send(UpdateText, 2, "   ")
	if reply.Text != chat.BroadcastEmpty().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
	st, _ := f.states.Get(context.Background(), 2)
	if st.Kind != conversation.KindAwaitingBroadcast {
		t.Fatalf("state = %s", st.Kind)
	}
	if reply := f.send(UpdateText, 2, "back online"); reply.Text != chat.BroadcastAccepted().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
}

func TestLaunchValidationErrorHasOwnReply(t *testing.T) {
	f := newFixture(t)
	f.send(UpdateCallback, 2, "back_to_menu")
	f.ledger.SetAdmin(2, true)
	f.bcast.err = apperr.New(apperr.KindValidation, "rejected")
	f.send(UpdateCallback, 2, "admin_broadcast")
	if reply := f.send(UpdateText, 2, "hello"); reply.Text != chat.InvalidInput().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
}

func TestAddBalanceCommand(t *testing.T) {
	f := newFixture(t)
	f.command(20, CommandStart, "")
	f.command(1, CommandStart, "")
	f.ledger.SetAdmin(1, true)

	reply := f.command(1, CommandAddBalance, "20 12.50")
	if !strings.Contains(reply.Text, "12.50") {
		t.Fatalf("reply = %q", reply.Text)
	}
	u, _ := f.ledger.GetUser(context.Background(), 20)
	if !u.Balance.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("balance = %s", u.Balance)
	}
	if reply := f.command(1, CommandAddBalance, "404 10"); !strings.Contains(reply.Text, "not found") {
		t.Fatalf("unknown user reply = %q", reply.Text)
	}
	if reply := f.command(1, CommandAddBalance, "oops"); reply.Text != chat.AddBalanceUsage().Text {
		t.Fatalf("usage reply = %q", reply.Text)
	}
	if reply := f.command(20, CommandAddBalance, "20 10"); !strings.Contains(reply.Text, "Choose an action") {
		t.Fatalf("non-admin reply = %q", reply.Text)
	}
}

func TestCancelClearsState(t *testing.T) {
	f := newFixture(t)
	f.send(UpdateCallback, 4, "stars_custom")
	st, _ := f.states.Get(context.Background(), 4)
	if st.Kind != conversation.KindAwaitingCustomAmount || st.Provider != payment.ProviderNative || st.Currency != payment.StarsCurrency {
		t.Fatalf("state after stars_custom = %+v", st)
	}
	f.command(4, CommandCancel, "")
	st, _ = f.states.Get(context.Background(), 4)
	if !st.IsIdle() {
		t.Fatalf("state = %s", st.Kind)
	}
	if reply := f.send(UpdateText, 4, "150"); reply.Invoice != nil {
		t.Fatalf("text after cancel created an invoice")
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t)
	f.d.ledger = panicLedger{Store: f.ledger}
	reply := f.send(UpdateText, 1, "hi")
	if reply.Text != chat.InternalError().Text {
		t.Fatalf("reply = %q", reply.Text)
	}
}
