package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/testdb"
)

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLStore(testdb.Open(t)),
	}
}

func credit(uid int64, id string, amount int64) Credit {
	return Credit{
		Provider:  payment.ProviderCrypto,
		PaymentID: id,
		UserID:    uid,
		Amount:    decimal.NewFromInt(amount),
		Currency:  "RUB",
	}
}

func TestEnsureUserUpserts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u, err := s.EnsureUser(ctx, Profile{TelegramID: 1, FirstName: "Ann", Username: "ann"})
			if err != nil {
				t.Fatalf("ensure: %v", err)
			}
			if !u.Balance.IsZero() || u.IsAdmin {
				t.Fatalf("unexpected new user: %+v", u)
			}
			u, err = s.EnsureUser(ctx, Profile{TelegramID: 1, FirstName: "Anna", Username: "Anna"})
			if err != nil {
				t.Fatalf("ensure again: %v", err)
			}
			if u.FirstName != "Anna" || u.Username != "Anna" {
				t.Fatalf("profile not refreshed: %+v", u)
			}
			if _, err := s.GetUser(ctx, 2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing user err = %v", err)
			}
			if admin, err := s.IsAdmin(ctx, 2); err != nil || admin {
				t.Fatalf("missing user admin = %v, %v", admin, err)
			}
		})
	}
}

func TestCreditIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.EnsureUser(ctx, Profile{TelegramID: 7}); err != nil {
				t.Fatalf("ensure: %v", err)
			}
			bal, err := s.Credit(ctx, credit(7, "inv-1", 150))
			if err != nil {
				t.Fatalf("credit: %v", err)
			}
			if !bal.Equal(decimal.NewFromInt(150)) {
				t.Fatalf("balance = %s", bal)
			}
			if _, err := s.Credit(ctx, credit(7, "inv-1", 150)); !errors.Is(err, ErrAlreadyProcessed) {
				t.Fatalf("second credit err = %v", err)
			}
			if !apperr.Is(ErrAlreadyProcessed, apperr.KindAlreadyProcessed) {
				t.Fatal("sentinel kind lost")
			}
			u, _ := s.GetUser(ctx, 7)
			if !u.Balance.Equal(decimal.NewFromInt(150)) {
				t.Fatalf("balance after duplicate = %s", u.Balance)
			}
			stats, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Users != 1 || stats.Payments != 1 || !stats.TotalBalance.Equal(decimal.NewFromInt(150)) {
				t.Fatalf("stats = %+v", stats)
			}
		})
	}
}

func TestUnknownRecipientLeavesNoClaim(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Credit(ctx, credit(99, "inv-9", 200)); !errors.Is(err, ErrUnknownRecipient) {
				t.Fatalf("err = %v, want unknown recipient", err)
			}
			if _, err := s.EnsureUser(ctx, Profile{TelegramID: 99}); err != nil {
				t.Fatalf("ensure: %v", err)
			}
			bal, err := s.Credit(ctx, credit(99, "inv-9", 200))
			if err != nil {
				t.Fatalf("resend: %v", err)
			}
			if !bal.Equal(decimal.NewFromInt(200)) {
				t.Fatalf("balance = %s", bal)
			}
		})
	}
}

func TestCreditMarksInvoicePaid(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t)
	s := NewSQLStore(db)
	if _, err := s.EnsureUser(ctx, Profile{TelegramID: 5}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	inv := payment.Invoice{Provider: payment.ProviderNative, Payload: "stars_payment_5_100.00_a", UserID: 5, Amount: decimal.NewFromInt(100), Currency: "RUB", Stars: 100}
	if err := s.RecordInvoice(ctx, inv); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordInvoice(ctx, inv); err != nil {
		t.Fatalf("record twice: %v", err)
	}
	c := credit(5, "charge-1", 100)
	c.Provider = payment.ProviderNative
	c.InvoicePayload = inv.Payload
	if _, err := s.Credit(ctx, c); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var status string
	if err := db.Get(&status, `SELECT status FROM invoices WHERE payload = ?`, inv.Payload); err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != "paid" {
		t.Fatalf("status = %s", status)
	}
}

func TestConcurrentDuplicateCreditsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.EnsureUser(ctx, Profile{TelegramID: 3}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	credited := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Credit(ctx, credit(3, "same", 100)); err == nil {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if credited != 1 {
		t.Fatalf("credited %d times", credited)
	}
	u, _ := s.GetUser(ctx, 3)
	if !u.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s", u.Balance)
	}
}

func TestListUserIDsAndValidation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []int64{3, 1, 2} {
				if _, err := s.EnsureUser(ctx, Profile{TelegramID: id, FirstName: fmt.Sprint(id)}); err != nil {
					t.Fatalf("ensure: %v", err)
				}
			}
			ids, err := s.ListUserIDs(ctx)
			if err != nil || len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
				t.Fatalf("ids = %v, %v", ids, err)
			}
			if _, err := s.Credit(ctx, credit(1, "neg", -5)); !apperr.Is(err, apperr.KindMalformedPayload) {
				t.Fatalf("negative credit err = %v", err)
			}
		})
	}
}
