package callback

import (
	"context"
	"testing"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/payment"
)

func TestParseCryptoTokens(t *testing.T) {
	cases := []struct {
		token  string
		kind   Kind
		code   string
		amount string
	}{
		{token: "crypto_btc", kind: KindCryptoCurrency, code: "btc"},
		{token: "crypto_btc_100", kind: KindCryptoAmount, code: "btc", amount: "100"},
		{token: "crypto_btc_custom", kind: KindCryptoCustom, code: "btc"},
		{token: "crypto_eth_custom", kind: KindCryptoCustom, code: "eth"},
		{token: "crypto_usdt_250.50", kind: KindCryptoAmount, code: "usdt", amount: "250.5"},
		{token: "crypto_ltc", kind: KindCryptoCurrency, code: "ltc"},
		{token: "pay_stars_500", kind: KindStarsAmount, amount: "500"},
		{token: "stars_custom", kind: KindStarsCustom},
		{token: "admin_add_balance", kind: KindAdminAddBalance},
		{token: "back_to_menu", kind: KindBackToMenu},
	}
	for _, tc := range cases {
		a, err := Parse(tc.token)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.token, err)
		}
		if a.Kind != tc.kind || a.Currency.Code != tc.code {
			t.Fatalf("Parse(%q) = %v/%s, want %v/%s", tc.token, a.Kind, a.Currency.Code, tc.kind, tc.code)
		}
		if tc.amount != "" && a.Amount.String() != tc.amount {
			t.Fatalf("Parse(%q) amount = %s, want %s", tc.token, a.Amount, tc.amount)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, token := range []string{
		"", "crypto", "crypto_", "crypto_doge", "crypto_doge_100", "crypto_btc_", "crypto_btc_abc",
		"crypto_btc_100_extra", "crypto_btcx", "crypto_btc_-5", "crypto_btc_0", "pay_stars_x", "menu_unknown",
	} {
		if _, err := Parse(token); !apperr.Is(err, apperr.KindUnknownCallback) {
			t.Fatalf("Parse(%q) err = %v, want unknown callback", token, err)
		}
	}
}

func TestParseDoesNotCountUnderscores(t *testing.T) {
	saved := currencyCodes
	t.Cleanup(func() { currencyCodes = saved })
	// A code containing the delimiter must still parse by token class.
	currencyCodes = append([]string{"usdt_trc"}, saved...)

	a, err := parseCrypto("crypto_usdt_trc_custom", "usdt_trc_custom")
	if err != nil || a.Kind != KindCryptoCustom {
		t.Fatalf("got %+v, %v", a, err)
	}
	a, err = parseCrypto("crypto_usdt_trc_100", "usdt_trc_100")
	if err != nil || a.Kind != KindCryptoAmount || a.Amount.String() != "100" {
		t.Fatalf("got %+v, %v", a, err)
	}
	a, err = parseCrypto("crypto_usdt_100", "usdt_100")
	if err != nil || a.Kind != KindCryptoAmount || a.Currency.Code != "usdt" {
		t.Fatalf("got %+v, %v", a, err)
	}
}

func TestMenuButtonsParse(t *testing.T) {
	replies := []chat.Reply{
		chat.MainMenu("x", true), chat.TopUpMenu(payment.DefaultAmountRule.Minimum), chat.Help(),
		chat.CryptoCurrencies(), chat.StarsAmounts(), chat.AdminPanel(), chat.BroadcastPrompt(),
	}
	for _, c := range payment.Currencies() {
		replies = append(replies, chat.CryptoAmounts(c))
	}
	for _, r := range replies {
		for _, row := range r.Buttons {
			for _, b := range row {
				if b.URL != "" {
					continue
				}
				if _, err := Parse(b.Data); err != nil {
					t.Fatalf("button %q carries unparsable data %q: %v", b.Text, b.Data, err)
				}
			}
		}
	}
}

type adminSet map[int64]bool

func (a adminSet) IsAdmin(_ context.Context, id int64) (bool, error) { return a[id], nil }

func fullTable(calls map[Kind]int) Table {
	t := Table{}
	for _, k := range Kinds() {
		k := k
		t[k] = func(context.Context, Request) (chat.Reply, error) {
			calls[k]++
			return chat.Text(k.String()), nil
		}
	}
	return t
}

func TestRouterCompleteness(t *testing.T) {
	calls := map[Kind]int{}
	table := fullTable(calls)
	if _, err := NewRouter(table, adminSet{}); err != nil {
		t.Fatalf("complete table rejected: %v", err)
	}
	delete(table, KindAdminStats)
	if _, err := NewRouter(table, adminSet{}); err == nil {
		t.Fatal("incomplete table accepted")
	}
	if len(kindNames) != int(kindCount) {
		t.Fatal("kind names out of sync")
	}
	for _, k := range Kinds() {
		if k.String() == "" || k.String() == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
	}
}

func TestRouterAdminGating(t *testing.T) {
	calls := map[Kind]int{}
	r, err := NewRouter(fullTable(calls), adminSet{1: true})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	ctx := context.Background()

	reply, err := r.Route(ctx, 2, "", "admin_broadcast")
	if err != nil || !reply.Silent {
		t.Fatalf("non-admin reply = %+v, %v", reply, err)
	}
	if calls[KindAdminBroadcast] != 0 {
		t.Fatal("admin handler ran for non-admin")
	}

	reply, err = r.Route(ctx, 1, "", "admin_broadcast")
	if err != nil || reply.Text != "admin_broadcast" || calls[KindAdminBroadcast] != 1 {
		t.Fatalf("admin reply = %+v, %v", reply, err)
	}

	if _, err := r.Route(ctx, 1, "", "crypto_xyz"); !apperr.Is(err, apperr.KindUnknownCallback) {
		t.Fatalf("unknown token err = %v", err)
	}
}
