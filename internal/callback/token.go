// Package callback parses inline-button callback data into typed actions
// and routes them to a complete handler table.
//
// Token grammar:
//
//	token    = fixed | crypto | stars
//	fixed    = "back_to_menu" | "menu_" name | "pay_crypto" | "pay_stars"
//	         | "stars_custom" | "admin_" name
//	crypto   = "crypto_" currency [ "_" ( amount | "custom" ) ]
//	stars    = "pay_stars_" amount
//	currency = one of the supported currency codes
//	amount   = digits [ "." digits ]
//
// The currency is matched against the enumerated codes (longest first), so
// the parser never depends on how many underscores a token contains.
package callback

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
)

// Kind is the closed set of callback actions.
type Kind int

const (
	KindBackToMenu Kind = iota
	KindMenuBalance
	KindMenuProfile
	KindMenuHelp
	KindPayCrypto
	KindPayStars
	KindStarsAmount
	KindStarsCustom
	KindCryptoCurrency
	KindCryptoAmount
	KindCryptoCustom
	KindAdminPanel
	KindAdminBroadcast
	KindAdminStats
	KindAdminAddBalance

	kindCount
)

var kindNames = [kindCount]string{
	KindBackToMenu:      "back_to_menu",
	KindMenuBalance:     "menu_balance",
	KindMenuProfile:     "menu_profile",
	KindMenuHelp:        "menu_help",
	KindPayCrypto:       "pay_crypto",
	KindPayStars:        "pay_stars",
	KindStarsAmount:     "stars_amount",
	KindStarsCustom:     "stars_custom",
	KindCryptoCurrency:  "crypto_currency",
	KindCryptoAmount:    "crypto_amount",
	KindCryptoCustom:    "crypto_custom",
	KindAdminPanel:      "admin_panel",
	KindAdminBroadcast:  "admin_broadcast",
	KindAdminStats:      "admin_stats",
	KindAdminAddBalance: "admin_add_balance",
}

func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// AdminOnly reports whether the action requires the admin flag.
func (k Kind) AdminOnly() bool {
	return k >= KindAdminPanel && k <= KindAdminAddBalance
}

// Kinds lists every action kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Action is a parsed callback token.
type Action struct {
	Kind     Kind
	Currency payment.Currency
	Amount   decimal.Decimal
	Token    string
}

var fixedTokens = map[string]Kind{
	"back_to_menu":      KindBackToMenu,
	"menu_balance":      KindMenuBalance,
	"menu_profile":      KindMenuProfile,
	"menu_help":         KindMenuHelp,
	"pay_crypto":        KindPayCrypto,
	"pay_stars":         KindPayStars,
	"stars_custom":      KindStarsCustom,
	"admin_panel":       KindAdminPanel,
	"admin_broadcast":   KindAdminBroadcast,
	"admin_stats":       KindAdminStats,
	"admin_add_balance": KindAdminAddBalance,
}

const (
	cryptoPrefix = "crypto_"
	starsPrefix  = "pay_stars_"
	customTail   = "custom"
)

var amountToken = regexp.MustCompile(`^\d+(\.\d+)?$`)

// currencyCodes is sorted longest first so that a code which is a prefix of
// another never shadows it.
var currencyCodes = func() []string {
	var codes []string
	for _, c := range payment.Currencies() {
		codes = append(codes, c.Code)
	}
	sort.Slice(codes, func(i, j int) bool { return len(codes[i]) > len(codes[j]) })
	return codes
}()

// Parse turns a token into an Action or an error of kind KindUnknownCallback.
func Parse(token string) (Action, error) {
	token = strings.TrimSpace(token)
	if k, ok := fixedTokens[token]; ok {
		return Action{Kind: k, Token: token}, nil
	}
	if rest, ok := strings.CutPrefix(token, starsPrefix); ok {
		amount, ok := parseAmount(rest)
		if !ok {
			return Action{}, unknown(token, "bad stars amount")
		}
		return Action{Kind: KindStarsAmount, Amount: amount, Token: token}, nil
	}
	if rest, ok := strings.CutPrefix(token, cryptoPrefix); ok {
		return parseCrypto(token, rest)
	}
	return Action{}, unknown(token, "unknown namespace")
}

func parseCrypto(token, rest string) (Action, error) {
	for _, code := range currencyCodes {
		if !strings.HasPrefix(rest, code) {
			continue
		}
		tail := rest[len(code):]
		cur, _ := payment.LookupCurrency(code)
		switch {
		case tail == "":
			return Action{Kind: KindCryptoCurrency, Currency: cur, Token: token}, nil
		case tail[0] != '_':
			continue
		}
		tail = tail[1:]
		if tail == customTail {
			return Action{Kind: KindCryptoCustom, Currency: cur, Token: token}, nil
		}
		amount, ok := parseAmount(tail)
		if !ok {
			return Action{}, unknown(token, "bad amount")
		}
		return Action{Kind: KindCryptoAmount, Currency: cur, Amount: amount, Token: token}, nil
	}
	return Action{}, unknown(token, "unknown currency")
}

func parseAmount(s string) (decimal.Decimal, bool) {
	if !amountToken.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func unknown(token, reason string) error {
	return apperr.New(apperr.KindUnknownCallback, "%q: %s", token, reason)
}
