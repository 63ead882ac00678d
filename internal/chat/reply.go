// Package chat describes bot replies independently of the transport: text,
// inline buttons and an optional invoice to attach.
package chat

import (
	"github.com/m3rciful/walletbot/internal/payment"
)

// Button is one inline button. URL buttons open a link; others send Data
// back as callback data.
type Button struct {
	Text string
	Data string
	URL  string
}

// Reply is the single answer to one inbound event.
type Reply struct {
	// Text is HTML formatted; user-provided parts are escaped by the builders.
	Text    string
	Buttons [][]Button
	// Invoice, when set to a native invoice, is sent as the Telegram invoice
	// in place of Text and Buttons.
	Invoice *payment.Invoice
	// Silent replies only acknowledge the event.
	Silent bool
}

// Empty reports whether the reply carries nothing to send.
func (r Reply) Empty() bool {
	return r.Silent || (r.Text == "" && r.Invoice == nil)
}

// Silent acknowledges the event without sending anything.
func Silent() Reply { return Reply{Silent: true} }

// Text builds a plain reply.
func Text(text string, rows ...[]Button) Reply {
	return Reply{Text: text, Buttons: rows}
}

// Row groups buttons into a keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// Callback builds a callback button.
func Callback(text, data string) Button { return Button{Text: text, Data: data} }

// Link builds a URL button.
func Link(text, url string) Button { return Button{Text: text, URL: url} }
