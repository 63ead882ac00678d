package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/payment"
)

// SQLStore implements Store on PostgreSQL or SQLite through sqlx.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database with the schema already migrated.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const userColumns = `telegram_id, first_name, username, balance, is_admin`

// EnsureUser implements Store.
func (s *SQLStore) EnsureUser(ctx context.Context, p Profile) (User, error) {
	var u User
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO users (telegram_id, first_name, username)
		VALUES (?, ?, ?)
		ON CONFLICT (telegram_id) DO UPDATE
		SET first_name = excluded.first_name,
		    username = excluded.username,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING `+userColumns),
		p.TelegramID, p.FirstName, p.Username,
	).StructScan(&u)
	if err != nil {
		return User{}, fmt.Errorf("ensure user %d: %w", p.TelegramID, err)
	}
	return u, nil
}

// GetUser implements Store.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// IsAdmin implements Store. Missing users are not admins.
func (s *SQLStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var admin bool
	err := s.db.GetContext(ctx, &admin, s.db.Rebind(`SELECT is_admin FROM users WHERE telegram_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is admin %d: %w", id, err)
	}
	return admin, nil
}

// Credit implements Store. The dedup insert runs first: a concurrent
// duplicate blocks on the primary key until this transaction ends and then
// observes the conflict. A missing user rolls the insert back.
func (s *SQLStore) Credit(ctx context.Context, c Credit) (decimal.Decimal, error) {
	if err := validateCredit(c); err != nil {
		return decimal.Zero, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO processed_payments (provider, payment_id, user_id, amount, currency)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, payment_id) DO NOTHING`),
		string(c.Provider), c.PaymentID, c.UserID, c.Amount.StringFixed(2), c.Currency,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("record payment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return decimal.Zero, fmt.Errorf("record payment: %w", err)
	} else if n == 0 {
		return decimal.Zero, ErrAlreadyProcessed
	}

	var balance decimal.Decimal
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		UPDATE users SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP
		WHERE telegram_id = ?
		RETURNING balance`),
		c.Amount.StringFixed(2), c.UserID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUnknownRecipient
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}

	if c.InvoicePayload != "" {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE invoices SET status = 'paid', paid_at = CURRENT_TIMESTAMP
			WHERE payload = ? AND status = 'pending'`),
			c.InvoicePayload,
		); err != nil {
			return decimal.Zero, fmt.Errorf("mark invoice paid: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit credit: %w", err)
	}
	logger.LogEvent(ctx, logger.LEDGER, slog.LevelInfo, "credit",
		slog.String("status", "ok"),
		slog.String("provider", string(c.Provider)),
		slog.String("payment_id", c.PaymentID),
		slog.Int64("user_id", c.UserID),
		slog.String("amount", c.Amount.StringFixed(2)),
		slog.String("balance", balance.StringFixed(2)),
	)
	return balance, nil
}

// RecordInvoice implements Store and payment.InvoiceJournal.
func (s *SQLStore) RecordInvoice(ctx context.Context, inv payment.Invoice) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO invoices (payload, provider, provider_invoice_id, user_id, amount, currency, asset, stars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payload) DO NOTHING`),
		inv.Payload, string(inv.Provider), inv.ProviderInvoiceID, inv.UserID,
		inv.Amount.StringFixed(2), inv.Currency, inv.Asset, inv.Stars,
	)
	if err != nil {
		return fmt.Errorf("record invoice: %w", err)
	}
	return nil
}

// ListUserIDs implements Store.
func (s *SQLStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT telegram_id FROM users ORDER BY telegram_id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowxContext(ctx, `SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM users`)
	if err := row.Scan(&st.Users, &st.TotalBalance); err != nil {
		return Stats{}, fmt.Errorf("user stats: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.Payments, `SELECT COUNT(*) FROM processed_payments`); err != nil {
		return Stats{}, fmt.Errorf("payment stats: %w", err)
	}
	return st, nil
}
