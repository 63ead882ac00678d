package bot

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/telegram/helpers"
	"github.com/m3rciful/walletbot/core/telegram/keyboard"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/payment"
)

// Markup converts reply buttons into an inline keyboard; nil when empty.
func Markup(rows [][]chat.Button) *tele.ReplyMarkup {
	kb := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, Data: b.Data, URL: b.URL})
		}
		kb = append(kb, r)
	}
	return keyboard.InlineButtonsRows(kb...)
}

// StarsInvoice builds the Telegram invoice for a native payment.
func StarsInvoice(inv payment.Invoice) *tele.Invoice {
	return &tele.Invoice{
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    payment.StarsCurrency,
		Prices:      []tele.Price{{Label: inv.Title, Amount: int(inv.Stars)}},
	}
}

// render sends r in the current chat as exactly one message. A native
// invoice is sent on its own; callback replies edit the message the button
// belongs to.
func render(c tele.Context, r chat.Reply, edit bool) error {
	if r.Empty() {
		return nil
	}
	if r.Invoice != nil && r.Invoice.Provider == payment.ProviderNative {
		return c.Send(StarsInvoice(*r.Invoice))
	}
	if r.Text == "" {
		return nil
	}
	markup := Markup(r.Buttons)
	if edit && c.Callback() != nil {
		return helpers.EditOrSendHTML(c, r.Text, markup)
	}
	return helpers.SendHTML(c, r.Text, markup)
}
