package callback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/chat"
)

// Request is one parsed callback from a user.
type Request struct {
	UserID    int64
	FirstName string
	Action    Action
}

// Handler produces the reply for one action kind.
type Handler func(ctx context.Context, req Request) (chat.Reply, error)

// Table maps every Kind to its handler.
type Table map[Kind]Handler

// AdminChecker reads the admin flag at call time.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Router dispatches parsed callbacks.
type Router struct {
	table  Table
	admins AdminChecker
}

// Missing returns the kinds that have no handler in t.
func (t Table) Missing() []Kind {
	var missing []Kind
	for _, k := range Kinds() {
		if t[k] == nil {
			missing = append(missing, k)
		}
	}
	return missing
}

// NewRouter validates that table covers every action kind.
func NewRouter(table Table, admins AdminChecker) (*Router, error) {
	if missing := table.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, k := range missing {
			names[i] = k.String()
		}
		return nil, fmt.Errorf("callback router: no handler for %s", strings.Join(names, ", "))
	}
	if admins == nil {
		return nil, fmt.Errorf("callback router: nil admin checker")
	}
	return &Router{table: table, admins: admins}, nil
}

// Route parses token and runs the matching handler. Unknown tokens return
// an error of kind KindUnknownCallback. Admin actions from non-admins are
// answered with a silent reply and never reach their handler.
func (r *Router) Route(ctx context.Context, userID int64, firstName, token string) (chat.Reply, error) {
	action, err := Parse(token)
	if err != nil {
		return chat.Reply{}, err
	}
	if action.Kind.AdminOnly() {
		admin, err := r.admins.IsAdmin(ctx, userID)
		if err != nil {
			return chat.Reply{}, err
		}
		if !admin {
			logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "callback.denied",
				slog.String("kind", action.Kind.String()),
				slog.String("outcome", "denied"),
			)
			return chat.Silent(), nil
		}
	}
	return r.table[action.Kind](ctx, Request{UserID: userID, FirstName: firstName, Action: action})
}
