package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/internal/payment"
)

type memUser struct {
	mu sync.Mutex
	u  User
}

// MemoryStore is an in-process Store. Payment claims are a concurrent set
// and balances are guarded per user, so unrelated users never contend.
type MemoryStore struct {
	users    sync.Map // int64 -> *memUser
	claims   sync.Map // claimKey -> struct{}
	invoices sync.Map // payload -> *memInvoice
}

type claimKey struct {
	provider  payment.Provider
	paymentID string
}

type memInvoice struct {
	mu   sync.Mutex
	inv  payment.Invoice
	paid bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetAdmin flips the admin flag; provisioning happens outside the bot.
func (s *MemoryStore) SetAdmin(id int64, admin bool) {
	v, _ := s.users.LoadOrStore(id, &memUser{u: User{TelegramID: id}})
	mu := v.(*memUser)
	mu.mu.Lock()
	mu.u.IsAdmin = admin
	mu.mu.Unlock()
}

// EnsureUser implements Store.
func (s *MemoryStore) EnsureUser(_ context.Context, p Profile) (User, error) {
	v, _ := s.users.LoadOrStore(p.TelegramID, &memUser{u: User{TelegramID: p.TelegramID, Balance: decimal.Zero}})
	mu := v.(*memUser)
	mu.mu.Lock()
	defer mu.mu.Unlock()
	mu.u.FirstName = p.FirstName
	mu.u.Username = p.Username
	return mu.u, nil
}

// GetUser implements Store.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (User, error) {
	v, ok := s.users.Load(id)
	if !ok {
		return User{}, ErrNotFound
	}
	mu := v.(*memUser)
	mu.mu.Lock()
	defer mu.mu.Unlock()
	return mu.u, nil
}

// IsAdmin implements Store.
func (s *MemoryStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return false, nil
	}
	return u.IsAdmin, nil
}

// Credit implements Store. A claim is taken before the user lookup and
// released again when the user is missing.
func (s *MemoryStore) Credit(_ context.Context, c Credit) (decimal.Decimal, error) {
	if err := validateCredit(c); err != nil {
		return decimal.Zero, err
	}
	key := claimKey{provider: c.Provider, paymentID: c.PaymentID}
	if _, loaded := s.claims.LoadOrStore(key, struct{}{}); loaded {
		return decimal.Zero, ErrAlreadyProcessed
	}
	v, ok := s.users.Load(c.UserID)
	if !ok {
		s.claims.Delete(key)
		return decimal.Zero, ErrUnknownRecipient
	}
	mu := v.(*memUser)
	mu.mu.Lock()
	mu.u.Balance = mu.u.Balance.Add(c.Amount)
	balance := mu.u.Balance
	mu.mu.Unlock()

	if c.InvoicePayload != "" {
		if iv, ok := s.invoices.Load(c.InvoicePayload); ok {
			mi := iv.(*memInvoice)
			mi.mu.Lock()
			mi.paid = true
			mi.mu.Unlock()
		}
	}
	return balance, nil
}

// RecordInvoice implements Store.
func (s *MemoryStore) RecordInvoice(_ context.Context, inv payment.Invoice) error {
	s.invoices.LoadOrStore(inv.Payload, &memInvoice{inv: inv})
	return nil
}

// InvoicePaid reports whether the invoice with payload was settled.
func (s *MemoryStore) InvoicePaid(payload string) bool {
	v, ok := s.invoices.Load(payload)
	if !ok {
		return false
	}
	mi := v.(*memInvoice)
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.paid
}

// ListUserIDs implements Store.
func (s *MemoryStore) ListUserIDs(context.Context) ([]int64, error) {
	var ids []int64
	s.users.Range(func(k, _ any) bool {
		ids = append(ids, k.(int64))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	st := Stats{TotalBalance: decimal.Zero}
	s.users.Range(func(_, v any) bool {
		mu := v.(*memUser)
		mu.mu.Lock()
		st.Users++
		st.TotalBalance = st.TotalBalance.Add(mu.u.Balance)
		mu.mu.Unlock()
		return true
	})
	s.claims.Range(func(_, _ any) bool {
		st.Payments++
		return true
	})
	return st, nil
}
