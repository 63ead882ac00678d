package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/m3rciful/walletbot/internal/callback"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/reconcile"
)

const starsAsset = "Telegram Stars"

func defaultPaymentID() string { return "manual-" + uuid.NewString() }

// table binds every callback kind to its handler.
func (d *Dispatcher) table() callback.Table {
	return callback.Table{
		callback.KindBackToMenu:      d.backToMenu,
		callback.KindMenuBalance:     d.menuBalance,
		callback.KindMenuProfile:     d.menuProfile,
		callback.KindMenuHelp:        static(chat.Help),
		callback.KindPayCrypto:       static(chat.CryptoCurrencies),
		callback.KindPayStars:        static(chat.StarsAmounts),
		callback.KindStarsAmount:     d.invoice(payment.ProviderNative),
		callback.KindStarsCustom:     d.customAmount(payment.ProviderNative),
		callback.KindCryptoCurrency:  d.cryptoCurrency,
		callback.KindCryptoAmount:    d.invoice(payment.ProviderCrypto),
		callback.KindCryptoCustom:    d.customAmount(payment.ProviderCrypto),
		callback.KindAdminPanel:      static(chat.AdminPanel),
		callback.KindAdminBroadcast:  d.adminBroadcast,
		callback.KindAdminStats:      d.adminStats,
		callback.KindAdminAddBalance: static(chat.AddBalanceUsage),
	}
}

func static(fn func() chat.Reply) callback.Handler {
	return func(context.Context, callback.Request) (chat.Reply, error) { return fn(), nil }
}

func (d *Dispatcher) backToMenu(ctx context.Context, req callback.Request) (chat.Reply, error) {
	if err := d.machine.Reset(ctx, req.UserID); err != nil {
		return chat.Reply{}, err
	}
	return d.mainMenu(ctx, req.UserID, req.FirstName)
}

func (d *Dispatcher) menuBalance(ctx context.Context, req callback.Request) (chat.Reply, error) {
	user, err := d.ledger.GetUser(ctx, req.UserID)
	if err != nil {
		return chat.Reply{}, err
	}
	return chat.TopUpMenu(user.Balance), nil
}

func (d *Dispatcher) menuProfile(ctx context.Context, req callback.Request) (chat.Reply, error) {
	user, err := d.ledger.GetUser(ctx, req.UserID)
	if err != nil {
		return chat.Reply{}, err
	}
	return chat.Profile(user), nil
}

func (d *Dispatcher) cryptoCurrency(_ context.Context, req callback.Request) (chat.Reply, error) {
	return chat.CryptoAmounts(req.Action.Currency), nil
}

// invoice creates an invoice for a fixed-amount button. The amount still
// goes through the provider rule so a forged token cannot bypass it.
func (d *Dispatcher) invoice(provider payment.Provider) callback.Handler {
	return func(ctx context.Context, req callback.Request) (chat.Reply, error) {
		if err := d.invoices.Rule(provider).Check(req.Action.Amount); err != nil {
			return chat.Reply{}, err
		}
		inv, err := d.invoices.CreateInvoice(ctx, provider, req.UserID, req.Action.Amount, req.Action.Currency.Code)
		if err != nil {
			return chat.Reply{}, err
		}
		return invoiceReply(inv), nil
	}
}

func (d *Dispatcher) customAmount(provider payment.Provider) callback.Handler {
	return func(ctx context.Context, req callback.Request) (chat.Reply, error) {
		code, asset := req.Action.Currency.Code, req.Action.Currency.Asset
		if provider == payment.ProviderNative {
			code, asset = payment.StarsCurrency, starsAsset
		}
		if _, err := d.machine.Enter(ctx, req.UserID, conversation.AwaitingCustomAmount(provider, code)); err != nil {
			return chat.Reply{}, err
		}
		return chat.AmountPrompt(d.invoices.Rule(provider), asset), nil
	}
}

func (d *Dispatcher) adminBroadcast(ctx context.Context, req callback.Request) (chat.Reply, error) {
	if _, err := d.machine.Enter(ctx, req.UserID, conversation.AwaitingBroadcast()); err != nil {
		return chat.Reply{}, err
	}
	return chat.BroadcastPrompt(), nil
}

func (d *Dispatcher) adminStats(ctx context.Context, _ callback.Request) (chat.Reply, error) {
	st, err := d.ledger.Stats(ctx)
	if err != nil {
		return chat.Reply{}, err
	}
	return chat.AdminStats(st), nil
}

// addBalance credits a user by hand: /addbalance <user_id> <amount>.
// The credit goes through reconciliation with a fresh payment id, so the
// user is notified like for any other payment.
func (d *Dispatcher) addBalance(ctx context.Context, u Update) (chat.Reply, error) {
	admin, err := d.ledger.IsAdmin(ctx, u.UserID)
	if err != nil {
		return chat.Reply{}, err
	}
	if !admin {
		return d.mainMenu(ctx, u.UserID, u.FirstName)
	}
	args := strings.Fields(u.Data)
	if len(args) != 2 {
		return chat.AddBalanceUsage(), nil
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || target <= 0 {
		return chat.AddBalanceUsage(), nil
	}
	amount, err := d.invoices.Rule(payment.ProviderManual).Parse(args[1])
	if err != nil {
		return chat.Reply{}, err
	}
	out, err := d.reconciler.Reconcile(ctx, payment.Event{
		Provider:  payment.ProviderManual,
		PaymentID: d.newID(),
		Amount:    amount,
		Currency:  payment.LedgerCurrency,
		UserID:    target,
		Status:    "succeeded",
	})
	if err != nil {
		return chat.Reply{}, err
	}
	switch out.Kind {
	case reconcile.Credited:
		return chat.ManualCredited(target, amount, out.Balance), nil
	case reconcile.UnknownRecipient:
		return chat.UnknownUser(target), nil
	}
	return chat.InternalError(), nil
}
