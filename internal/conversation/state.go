// Package conversation holds the per-user conversation state and the
// machine that interprets free text against it.
package conversation

import (
	"context"
	"time"

	"github.com/m3rciful/walletbot/internal/payment"
)

// Kind enumerates conversation states.
type Kind string

const (
	KindIdle                 Kind = "idle"
	KindAwaitingCustomAmount Kind = "awaiting_custom_amount"
	KindAwaitingBroadcast    Kind = "awaiting_broadcast_message"
)

// State is a user's conversation state. Version identifies one particular
// entry into a non-idle state and is what CompareAndClear matches on.
type State struct {
	Kind      Kind             `json:"kind"`
	Provider  payment.Provider `json:"provider,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Version   string           `json:"version,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"`
}

// Idle is the zero conversation state.
func Idle() State { return State{Kind: KindIdle} }

// AwaitingCustomAmount waits for a deposit amount on the given rail.
func AwaitingCustomAmount(provider payment.Provider, currency string) State {
	return State{Kind: KindAwaitingCustomAmount, Provider: provider, Currency: currency}
}

// AwaitingBroadcast waits for the text of an admin broadcast.
func AwaitingBroadcast() State { return State{Kind: KindAwaitingBroadcast} }

// IsIdle reports whether s is idle. The empty state counts as idle.
func (s State) IsIdle() bool { return s.Kind == "" || s.Kind == KindIdle }

// Expired reports whether a non-idle state has passed its deadline.
func (s State) Expired(now time.Time) bool {
	return !s.IsIdle() && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists conversation state per user.
type Store interface {
	// Get returns the stored state, or Idle when nothing is stored.
	Get(ctx context.Context, userID int64) (State, error)
	// Put replaces the stored state.
	Put(ctx context.Context, userID int64, s State) error
	// CompareAndClear deletes the state only if its version still equals
	// version, and reports whether it did.
	CompareAndClear(ctx context.Context, userID int64, version string) (bool, error)
}
