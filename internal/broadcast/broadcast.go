// Package broadcast fans an admin message out to every known user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/chat"
	"github.com/m3rciful/walletbot/internal/metrics"
)

// ErrClosed is returned by Launch after Close.
var ErrClosed = errors.New("broadcast: engine closed")

// Report counts deliveries of one broadcast.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Recipients lists the users a broadcast goes to.
type Recipients interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// Deliverer sends one message to one user.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Recipients Recipients
	Deliverer  Deliverer
	// Summary receives the report text for the sending admin; optional.
	Summary Deliverer
	Metrics *metrics.Metrics
	// Workers bounds concurrent deliveries; default 8.
	Workers int
	// PerSecond caps the delivery rate; default 25, negative disables pacing.
	PerSecond float64
	// Timeout bounds each delivery; default 10s.
	Timeout time.Duration
}

// Engine runs broadcasts on a bounded worker pool.
type Engine struct {
	recipients Recipients
	deliverer  Deliverer
	summary    Deliverer
	metrics    *metrics.Metrics
	workers    int
	perSecond  float64
	timeout    time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		recipients: opts.Recipients,
		deliverer:  opts.Deliverer,
		summary:    opts.Summary,
		metrics:    opts.Metrics,
		workers:    opts.Workers,
		perSecond:  opts.PerSecond,
		timeout:    opts.Timeout,
	}
	if e.workers <= 0 {
		e.workers = 8
	}
	if e.perSecond == 0 {
		e.perSecond = 25
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	return e
}

// Broadcast delivers message to every known user and waits for all
// deliveries. A failed delivery is counted and never retried, and it does
// not affect other recipients. The returned error covers only the recipient
// lookup and ctx cancellation.
func (e *Engine) Broadcast(ctx context.Context, message string, senderID int64) (Report, error) {
	start := time.Now()
	ids, err := e.recipients.ListUserIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list recipients: %w", err)
	}

	var limiter *rate.Limiter
	if e.perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.perSecond), 1)
	}
	text := chat.BroadcastMessage(message)

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, id := range ids {
		id := id
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			if err := e.deliverer.Deliver(dctx, id, text); err != nil {
				failed.Add(1)
				logger.LogEvent(ctx, logger.BCAST, slog.LevelDebug, "broadcast.delivery_failed",
					slog.Int64("user_id", id),
					logger.Err(err),
				)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(ids), Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	// Recipients skipped after cancellation count as failed.
	if skipped := rep.Attempted - rep.Succeeded - rep.Failed; skipped > 0 {
		rep.Failed += skipped
	}
	e.metrics.Broadcast(rep.Succeeded, rep.Failed)
	logger.LogEvent(ctx, logger.BCAST, slog.LevelInfo, "broadcast.finished",
		slog.Int64("user_id", senderID),
		slog.Int("attempted", rep.Attempted),
		slog.Int("succeeded", rep.Succeeded),
		slog.Int("failed", rep.Failed),
		slog.Duration("duration", logger.Took(start)),
	)
	return rep, ctx.Err()
}

// Launch starts a broadcast in the background and sends the report to the
// sender when it completes. It returns once the broadcast is accepted.
func (e *Engine) Launch(ctx context.Context, message string, senderID int64) error {
	if strings.TrimSpace(message) == "" {
		return apperr.New(apperr.KindValidation, "broadcast: empty message")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	bctx := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		rep, err := e.Broadcast(bctx, message, senderID)
		if err != nil {
			logger.LogEvent(bctx, logger.BCAST, slog.LevelError, "broadcast.failed",
				slog.Int64("user_id", senderID),
				logger.Err(err),
			)
			return
		}
		if e.summary == nil {
			return
		}
		sctx, cancel := context.WithTimeout(bctx, e.timeout)
		defer cancel()
		if err := e.summary.Deliver(sctx, senderID, chat.BroadcastSummary(rep.Attempted, rep.Succeeded, rep.Failed)); err != nil {
			logger.LogEvent(bctx, logger.BCAST, slog.LevelWarn, "broadcast.summary_failed",
				slog.Int64("user_id", senderID),
				logger.Err(err),
			)
		}
	}()
	return nil
}

// Close stops accepting broadcasts and waits for running ones.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}
