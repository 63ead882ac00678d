package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/payment"
)

func TestMarkupKeepsRawCallbackData(t *testing.T) {
	m := Markup([][]chat.Button{
		chat.Row(chat.Callback("BTC", "crypto_btc"), chat.Link("Pay", "https://pay")),
		nil,
		chat.Row(chat.Callback("Back", chat.DataBackToMenu)),
	})
	if m == nil || len(m.InlineKeyboard) != 2 {
		t.Fatalf("unexpected keyboard: %+v", m)
	}
	if got := m.InlineKeyboard[0][0].Data; got != "crypto_btc" {
		t.Fatalf("data = %q", got)
	}
	if got := m.InlineKeyboard[0][1]; got.URL != "https://pay" || got.Data != "" {
		t.Fatalf("link button = %+v", got)
	}
	if Markup(nil) != nil {
		t.Fatalf("expected nil markup for no buttons")
	}
}

func TestStarsInvoice(t *testing.T) {
	inv := StarsInvoice(payment.Invoice{Title: "Balance top-up", Payload: "stars_payment_1_500.00_ab", Stars: 275})
	if inv.Currency != "XTR" || len(inv.Prices) != 1 || inv.Prices[0].Amount != 275 {
		t.Fatalf("invoice = %+v", inv)
	}
	if inv.Payload != "stars_payment_1_500.00_ab" {
		t.Fatalf("payload = %q", inv.Payload)
	}
}

func TestCheckoutRejection(t *testing.T) {
	store := ledger.NewMemoryStore()
	if _, err := store.EnsureUser(context.Background(), ledger.Profile{TelegramID: 7}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	h := New(nil, nil, store, nil)
	sender := &tele.User{ID: 7}

	cases := []struct {
		name   string
		q      tele.PreCheckoutQuery
		accept bool
	}{
		{"valid", tele.PreCheckoutQuery{Sender: sender, Currency: "XTR", Payload: "stars_payment_7_500.00_n"}, true},
		{"currency", tele.PreCheckoutQuery{Sender: sender, Currency: "USD", Payload: "stars_payment_7_500.00_n"}, false},
		{"crypto rail", tele.PreCheckoutQuery{Sender: sender, Currency: "XTR", Payload: "crypto_payment_7_500.00_n"}, false},
		{"garbage", tele.PreCheckoutQuery{Sender: sender, Currency: "XTR", Payload: "nope"}, false},
		{"other user", tele.PreCheckoutQuery{Sender: &tele.User{ID: 8}, Currency: "XTR", Payload: "stars_payment_7_500.00_n"}, false},
		{"unknown user", tele.PreCheckoutQuery{Sender: &tele.User{ID: 9}, Currency: "XTR", Payload: "stars_payment_9_500.00_n"}, false},
	}
	for _, tc := range cases {
		reason := h.checkoutRejection(context.Background(), &tc.q)
		if (reason == "") != tc.accept {
			t.Fatalf("%s: reason = %q, accept = %v", tc.name, reason, tc.accept)
		}
	}
}

type recordingContext struct {
	tele.Context
	callback *tele.Callback
	sent     []any
	edited   []any
}

func (c *recordingContext) Callback() *tele.Callback { return c.callback }

func (c *recordingContext) Send(what any, _ ...any) error {
	c.sent = append(c.sent, what)
	return nil
}

func (c *recordingContext) EditOrSend(what any, _ ...any) error {
	c.edited = append(c.edited, what)
	return nil
}

func TestRenderStarsInvoiceIsOneMessage(t *testing.T) {
	c := &recordingContext{callback: &tele.Callback{Data: "pay_stars_500"}}
	inv := payment.Invoice{
		Provider:    payment.ProviderNative,
		Title:       "Balance top-up",
		Description: "Top up 500.00 RUB for 275 Stars",
		Payload:     "stars_payment_1_500.00_ab",
		Amount:      decimal.NewFromInt(500),
		Stars:       275,
	}
	if err := render(c, chat.StarsInvoice(inv), true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(c.sent) != 1 || len(c.edited) != 0 {
		t.Fatalf("sent=%d edited=%d, want exactly one send", len(c.sent), len(c.edited))
	}
	got, ok := c.sent[0].(*tele.Invoice)
	if !ok {
		t.Fatalf("sent %T, want *tele.Invoice", c.sent[0])
	}
	if got.Description != inv.Description || got.Prices[0].Amount != 275 {
		t.Fatalf("invoice = %+v", got)
	}
}

func TestRenderCallbackEditsOnce(t *testing.T) {
	c := &recordingContext{callback: &tele.Callback{Data: "menu_help"}}
	if err := render(c, chat.Help(), true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(c.edited) != 1 || len(c.sent) != 0 {
		t.Fatalf("sent=%d edited=%d", len(c.sent), len(c.edited))
	}

	c = &recordingContext{}
	if err := render(c, chat.Silent(), true); err != nil || len(c.sent)+len(c.edited) != 0 {
		t.Fatalf("silent reply sent something: %v", err)
	}
}

type fixedStates struct {
	st  conversation.State
	err error
}

func (f fixedStates) Current(context.Context, int64) (conversation.State, error) {
	return f.st, f.err
}

func TestInConversation(t *testing.T) {
	c := tele.NewContext(nil, tele.Update{ID: 3, Message: &tele.Message{
		Text:   "help desk moves tomorrow",
		Sender: &tele.User{ID: 4},
		Chat:   &tele.Chat{ID: 4},
	}})
	cases := []struct {
		name   string
		states States
		want   bool
	}{
		{"no store", nil, false},
		{"idle", fixedStates{st: conversation.Idle()}, false},
		{"awaiting broadcast", fixedStates{st: conversation.AwaitingBroadcast()}, true},
		{"awaiting amount", fixedStates{st: conversation.AwaitingCustomAmount(payment.ProviderNative, payment.StarsCurrency)}, true},
		{"store error", fixedStates{err: errors.New("down")}, false},
	}
	for _, tc := range cases {
		h := New(nil, nil, nil, tc.states)
		if got := h.inConversation(c); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
