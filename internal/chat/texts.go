package chat

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/payment"
)

// Callback data used by menu buttons.
const (
	DataBackToMenu      = "back_to_menu"
	DataMenuBalance     = "menu_balance"
	DataMenuProfile     = "menu_profile"
	DataMenuHelp        = "menu_help"
	DataPayCrypto       = "pay_crypto"
	DataPayStars        = "pay_stars"
	DataStarsCustom     = "stars_custom"
	DataAdminPanel      = "admin_panel"
	DataAdminBroadcast  = "admin_broadcast"
	DataAdminStats      = "admin_stats"
	DataAdminAddBalance = "admin_add_balance"
)

// FixedAmounts are offered as one-tap deposit buttons.
var FixedAmounts = []int64{100, 250, 500, 1000, 2000, 5000}

func money(d decimal.Decimal) string {
	return d.StringFixed(2) + " ₽"
}

func backRow() []Button {
	return Row(Callback("⬅️ Back", DataBackToMenu))
}

// MainMenu greets the user and lists the sections.
func MainMenu(firstName string, isAdmin bool) Reply {
	name := html.EscapeString(strings.TrimSpace(firstName))
	if name == "" {
		name = "there"
	}
	rows := [][]Button{
		Row(Callback("💰 Top up balance", DataMenuBalance)),
		Row(Callback("👤 Profile", DataMenuProfile), Callback("❓ Help", DataMenuHelp)),
	}
	if isAdmin {
		rows = append(rows, Row(Callback("🛠 Admin panel", DataAdminPanel)))
	}
	return Reply{Text: fmt.Sprintf("👋 Hi, <b>%s</b>!\n\nChoose an action:", name), Buttons: rows}
}

// TopUpMenu offers the payment rails.
func TopUpMenu(balance decimal.Decimal) Reply {
	return Reply{
		Text: fmt.Sprintf("💰 Balance: <b>%s</b>\n\nChoose a payment method:", money(balance)),
		Buttons: [][]Button{
			Row(Callback("⭐ Telegram Stars", DataPayStars)),
			Row(Callback("🪙 Crypto (CryptoBot)", DataPayCrypto)),
			backRow(),
		},
	}
}

// Profile shows the user's account.
func Profile(u ledger.User) Reply {
	var b strings.Builder
	b.WriteString("👤 <b>Profile</b>\n\n")
	fmt.Fprintf(&b, "ID: <code>%d</code>\n", u.TelegramID)
	if u.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", html.EscapeString(u.Username))
	}
	fmt.Fprintf(&b, "Balance: <b>%s</b>", money(u.Balance))
	return Reply{Text: b.String(), Buttons: [][]Button{backRow()}}
}

// Help explains the bot.
func Help() Reply {
	return Reply{
		Text: "❓ <b>Help</b>\n\n" +
			"Top up your balance with Telegram Stars or crypto via CryptoBot.\n" +
			"/start opens the menu, /balance shows your balance, /cancel aborts the current step.",
		Buttons: [][]Button{backRow()},
	}
}

// CryptoCurrencies lists the supported crypto assets.
func CryptoCurrencies() Reply {
	var buttons []Button
	for _, c := range payment.Currencies() {
		buttons = append(buttons, Callback(c.Asset, "crypto_"+c.Code))
	}
	rows := chunk(buttons, 2)
	rows = append(rows, Row(Callback("⬅️ Back", DataMenuBalance)))
	return Reply{Text: "🪙 Choose a currency:", Buttons: rows}
}

// CryptoAmounts offers fixed amounts for one currency.
func CryptoAmounts(cur payment.Currency) Reply {
	var buttons []Button
	for _, a := range FixedAmounts {
		s := strconv.FormatInt(a, 10)
		buttons = append(buttons, Callback(s+" ₽", "crypto_"+cur.Code+"_"+s))
	}
	rows := chunk(buttons, 3)
	rows = append(rows,
		Row(Callback("✏️ Other amount", "crypto_"+cur.Code+"_custom")),
		Row(Callback("⬅️ Back", DataPayCrypto)),
	)
	return Reply{Text: fmt.Sprintf("🪙 Top up with <b>%s</b>. Choose an amount:", cur.Name), Buttons: rows}
}

// StarsAmounts offers fixed amounts for Telegram Stars.
func StarsAmounts() Reply {
	var buttons []Button
	for _, a := range FixedAmounts {
		s := strconv.FormatInt(a, 10)
		buttons = append(buttons, Callback(s+" ₽", "pay_stars_"+s))
	}
	rows := chunk(buttons, 3)
	rows = append(rows,
		Row(Callback("✏️ Other amount", DataStarsCustom)),
		Row(Callback("⬅️ Back", DataMenuBalance)),
	)
	return Reply{Text: "⭐ Top up with Telegram Stars. Choose an amount:", Buttons: rows}
}

// AmountPrompt asks for a custom amount.
func AmountPrompt(rule payment.AmountRule, asset string) Reply {
	return Reply{
		Text: fmt.Sprintf("✏️ Enter the amount in rubles (%s).\nMinimum %s, in steps of %s.",
			html.EscapeString(asset), rule.Minimum.String(), rule.Step.String()),
		Buttons: [][]Button{Row(Callback("❌ Cancel", DataBackToMenu))},
	}
}

// InvalidAmount explains why a custom amount was rejected.
func InvalidAmount(err *payment.ValidationError) Reply {
	var msg string
	switch err.Reason {
	case payment.ReasonMinimum:
		msg = fmt.Sprintf("The minimum amount is %s ₽.", err.Rule.Minimum.String())
	case payment.ReasonStep:
		msg = fmt.Sprintf("The amount must be a multiple of %s ₽.", err.Rule.Step.String())
	case payment.ReasonPrecision:
		msg = fmt.Sprintf("Use at most %d decimal places.", err.Rule.Scale)
	default:
		msg = "Please send a number, for example 500."
	}
	return Reply{Text: "⚠️ " + msg + " Try again:", Buttons: [][]Button{Row(Callback("❌ Cancel", DataBackToMenu))}}
}

// CryptoInvoice shows the payment link of a crypto invoice.
func CryptoInvoice(inv payment.Invoice) Reply {
	return Reply{
		Text: fmt.Sprintf("🧾 Invoice for <b>%s</b> in %s.\n\nPay via CryptoBot; the balance is credited automatically.",
			money(inv.Amount), html.EscapeString(inv.Asset)),
		Buttons: [][]Button{
			Row(Link("💳 Pay", inv.PayURL)),
			backRow(),
		},
	}
}

// StarsInvoice is a native invoice reply. The invoice carries its own title
// and description, so the reply has no text.
func StarsInvoice(inv payment.Invoice) Reply {
	return Reply{Invoice: &inv}
}

// Credited notifies the user about a completed payment.
func Credited(amount, balance decimal.Decimal) string {
	return fmt.Sprintf("✅ Payment received: <b>%s</b>\nBalance: <b>%s</b>", money(amount), money(balance))
}

// Unavailable answers unknown or stale buttons.
func Unavailable() Reply {
	return Reply{Text: "🤷 This action is unavailable.", Buttons: [][]Button{backRow()}}
}

// RetryLater answers payment provider failures.
func RetryLater() Reply {
	return Reply{Text: "⏳ The payment service is temporarily unavailable. Please try again later.", Buttons: [][]Button{backRow()}}
}

// InvalidInput answers input that was rejected for any other reason.
func InvalidInput() Reply {
	return Reply{Text: "⚠️ That input was not accepted. Please start again.", Buttons: [][]Button{backRow()}}
}

// InternalError answers unexpected failures.
func InternalError() Reply {
	return Reply{Text: "⚠️ Something went wrong. Please try again."}
}

// Expired tells the user a pending step timed out.
func Expired(firstName string, isAdmin bool) Reply {
	menu := MainMenu(firstName, isAdmin)
	menu.Text = "⌛ That step has expired.\n\n" + menu.Text
	return menu
}

// Cancelled confirms /cancel.
func Cancelled() Reply {
	return Reply{Text: "❌ Cancelled.", Buttons: [][]Button{backRow()}}
}

// Balance shows the balance.
func Balance(balance decimal.Decimal) Reply {
	return Reply{
		Text:    fmt.Sprintf("💰 Balance: <b>%s</b>", money(balance)),
		Buttons: [][]Button{Row(Callback("💰 Top up", DataMenuBalance))},
	}
}

// AdminPanel lists admin tools.
func AdminPanel() Reply {
	return Reply{
		Text: "🛠 <b>Admin panel</b>",
		Buttons: [][]Button{
			Row(Callback("📣 Broadcast", DataAdminBroadcast), Callback("📊 Stats", DataAdminStats)),
			Row(Callback("➕ Add balance", DataAdminAddBalance)),
			backRow(),
		},
	}
}

// AdminStats shows ledger totals.
func AdminStats(st ledger.Stats) Reply {
	return Reply{
		Text: fmt.Sprintf("📊 <b>Stats</b>\n\nUsers: %d\nTotal balance: %s\nProcessed payments: %d",
			st.Users, money(st.TotalBalance), st.Payments),
		Buttons: [][]Button{Row(Callback("⬅️ Back", DataAdminPanel))},
	}
}

// BroadcastPrompt asks for the broadcast text.
func BroadcastPrompt() Reply {
	return Reply{
		Text:    "📣 Send the message to broadcast to all users.",
		Buttons: [][]Button{Row(Callback("❌ Cancel", DataAdminPanel))},
	}
}

// BroadcastEmpty asks again for a non-blank broadcast text.
func BroadcastEmpty() Reply {
	return Reply{
		Text:    "⚠️ The message is empty. Send the text to broadcast:",
		Buttons: [][]Button{Row(Callback("❌ Cancel", DataAdminPanel))},
	}
}

// BroadcastAccepted confirms a broadcast was started.
func BroadcastAccepted() Reply {
	return Reply{Text: "📣 Broadcast started. You will get a summary when it finishes."}
}

// BroadcastSummary reports fan-out counts to the admin.
func BroadcastSummary(attempted, succeeded, failed int) string {
	return fmt.Sprintf("📣 Broadcast finished.\nAttempted: %d\nDelivered: %d\nFailed: %d", attempted, succeeded, failed)
}

// BroadcastMessage wraps admin text for recipients.
func BroadcastMessage(text string) string {
	return html.EscapeString(text)
}

// AddBalanceUsage explains the manual credit command.
func AddBalanceUsage() Reply {
	return Reply{
		Text:    "➕ Use <code>/addbalance &lt;user_id&gt; &lt;amount&gt;</code> to credit a user.",
		Buttons: [][]Button{Row(Callback("⬅️ Back", DataAdminPanel))},
	}
}

// ManualCredited confirms /addbalance.
func ManualCredited(userID int64, amount, balance decimal.Decimal) Reply {
	return Reply{Text: fmt.Sprintf("✅ Credited %s to <code>%d</code>. New balance: %s", money(amount), userID, money(balance))}
}

// UnknownUser answers /addbalance for a missing user.
func UnknownUser(userID int64) Reply {
	return Reply{Text: fmt.Sprintf("⚠️ User <code>%d</code> not found.", userID)}
}

func chunk(buttons []Button, n int) [][]Button {
	var rows [][]Button
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return rows
}
