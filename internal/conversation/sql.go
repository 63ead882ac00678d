package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLStore keeps states in the conversation_states table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps a migrated database.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, userID int64) (State, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT state FROM conversation_states WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Idle(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get state %d: %w", userID, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decode state %d: %w", userID, err)
	}
	return st, nil
}

// Put implements Store. Storing an idle state deletes the row.
func (s *SQLStore) Put(ctx context.Context, userID int64, st State) error {
	if st.IsIdle() {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM conversation_states WHERE user_id = ?`), userID)
		if err != nil {
			return fmt.Errorf("clear state %d: %w", userID, err)
		}
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %d: %w", userID, err)
	}
	var expires int64
	if !st.ExpiresAt.IsZero() {
		expires = st.ExpiresAt.Unix()
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversation_states (user_id, version, state, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET version = excluded.version, state = excluded.state, expires_at = excluded.expires_at`),
		userID, st.Version, string(raw), expires,
	)
	if err != nil {
		return fmt.Errorf("put state %d: %w", userID, err)
	}
	return nil
}

// CompareAndClear implements Store with a conditional delete.
func (s *SQLStore) CompareAndClear(ctx context.Context, userID int64, version string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM conversation_states WHERE user_id = ? AND version = ?`), userID, version)
	if err != nil {
		return false, fmt.Errorf("clear state %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear state %d: %w", userID, err)
	}
	return n == 1, nil
}

// PurgeExpired removes states whose deadline is before the unix time now.
func (s *SQLStore) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM conversation_states WHERE expires_at > 0 AND expires_at < ?`), now)
	if err != nil {
		return 0, fmt.Errorf("purge states: %w", err)
	}
	return res.RowsAffected()
}
