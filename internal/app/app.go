// Package app wires the wallet bot: storage, payment rails, engines, the
// Telegram runtime and the HTTP ingress.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/walletbot/core/bootstrap"
	corecmd "github.com/m3rciful/walletbot/core/cmd"
	"github.com/m3rciful/walletbot/core/logger"
	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/internal/bot"
	"github.com/m3rciful/walletbot/internal/broadcast"
	"github.com/m3rciful/walletbot/internal/config"
	"github.com/m3rciful/walletbot/internal/conversation"
	"github.com/m3rciful/walletbot/internal/dispatch"
	"github.com/m3rciful/walletbot/internal/ledger"
	"github.com/m3rciful/walletbot/internal/metrics"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/payment/cryptobot"
	"github.com/m3rciful/walletbot/internal/reconcile"
	"github.com/m3rciful/walletbot/internal/webhook"
	"github.com/m3rciful/walletbot/migrations"
)

const statePurgeInterval = 5 * time.Minute

// App is the assembled wallet bot.
type App struct {
	cfg     *config.Config
	db      *sqlx.DB
	rdb     redis.UniversalClient
	metrics *metrics.Metrics

	bot      *tele.Bot
	registry *tg.Registry
	handlers *bot.Handlers

	ledger      *ledger.SQLStore
	states      conversation.Store
	crypto      *cryptobot.Client
	broadcaster *broadcast.Engine
	ingress     *webhook.Server
}

// Bootstrap builds the App; it satisfies core/cmd.Options.Bootstrap.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

// New wires every component on top of an open, migrated database.
func New(ctx context.Context, cfg *config.Config, db *sqlx.DB) (*App, error) {
	a := &App{cfg: cfg, db: db, metrics: metrics.New()}
	a.metrics.RegisterDB(db.DB, cfg.Database.Driver)
	a.ledger = ledger.NewSQLStore(db)

	states, err := a.stateStore(ctx)
	if err != nil {
		return nil, err
	}
	a.states = states

	bt, err := tg.NewBot(cfg.CoreConfig())
	if err != nil {
		return nil, err
	}
	a.bot = bt
	outbox := bot.NewOutbox(bt)

	gateway, err := a.gateway()
	if err != nil {
		return nil, err
	}
	reconciler := reconcile.New(reconcile.Options{
		Ledger:   a.ledger,
		Notifier: outbox,
		Metrics:  a.metrics,
	})
	a.broadcaster = broadcast.New(broadcast.Options{
		Recipients: a.ledger,
		Deliverer:  outbox,
		Summary:    outbox,
		Metrics:    a.metrics,
		Workers:    cfg.Broadcast.Workers,
		PerSecond:  cfg.Broadcast.PerSecond,
		Timeout:    cfg.Broadcast.Timeout,
	})
	machine := conversation.NewMachine(conversation.Options{
		Store:       a.states,
		Invoices:    gateway,
		Broadcaster: a.broadcaster,
		Admins:      a.ledger,
		TTL:         cfg.State.TTL,
	})
	dispatcher, err := dispatch.New(dispatch.Options{
		Ledger:     a.ledger,
		Machine:    machine,
		Invoices:   gateway,
		Reconciler: reconciler,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.registry = tg.NewRegistry()
	a.handlers = bot.New(dispatcher, reconciler, a.ledger, machine)
	a.handlers.Register(a.registry)

	if cfg.Ingress.Enabled {
		a.ingress = webhook.New(webhook.Config{
			Listen:          cfg.Ingress.Listen,
			Path:            cfg.Ingress.Path,
			APIToken:        cfg.Payments.CryptoBot.Token,
			VerifySignature: cfg.Ingress.VerifySignature,
			Reconciler:      reconciler,
			Metrics:         a.metrics,
			Ready:           func(ctx context.Context) error { return db.PingContext(ctx) },
		})
	}
	return a, nil
}

func (a *App) stateStore(ctx context.Context) (conversation.Store, error) {
	switch a.cfg.State.Backend {
	case config.StateMemory:
		return conversation.NewMemoryStore(), nil
	case config.StateRedis:
		rc := a.cfg.Redis
		a.rdb = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
		}
		return conversation.NewRedisStore(a.rdb, rc.KeyPrefix), nil
	}
	return conversation.NewSQLStore(a.db), nil
}

// cryptoHTTPOptions makes a single attempt per request: createInvoice is not
// idempotent at the provider, so a retried timeout could open a second invoice.
var cryptoHTTPOptions = tg.HTTPClientOptions{Timeout: 15 * time.Second}

func (a *App) gateway() (*payment.Gateway, error) {
	pc := a.cfg.Payments
	rate, err := decimal.NewFromString(pc.StarsPerRuble)
	if err != nil {
		return nil, fmt.Errorf("payments.stars_per_ruble: %w", err)
	}
	cryptoRule, err := pc.CryptoAmounts.Rule(payment.DefaultAmountRule)
	if err != nil {
		return nil, err
	}
	starsRule, err := pc.StarsAmounts.Rule(payment.DefaultAmountRule)
	if err != nil {
		return nil, err
	}
	opts := payment.GatewayOptions{
		Journal: a.ledger,
		Rules: map[payment.Provider]payment.AmountRule{
			payment.ProviderCrypto: cryptoRule,
			payment.ProviderNative: starsRule,
			payment.ProviderManual: {Minimum: decimal.New(1, -2), Scale: 2},
		},
		StarsPerUnit: rate,
		CallTimeout:  pc.CallTimeout,
		Metrics:      a.metrics,
	}
	if pc.CryptoBot.Token != "" {
		a.crypto = cryptobot.New(a.cfg.CryptoBot(), tg.NewHTTPClient(cryptoHTTPOptions))
		opts.Crypto = a.crypto
	} else {
		logger.LogEvent(context.Background(), logger.PAY, slog.LevelWarn, "cryptobot.disabled",
			slog.String("reason", "payments.cryptobot.token is empty"),
		)
	}
	return payment.NewGateway(opts), nil
}

// TelegramRunOptions implements core/cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:      core,
		Registry:    a.registry,
		Bot:         a.bot,
		Middlewares: tg.DefaultMiddlewares(core, nil),
		Routes:      a.handlers.Routes(a.registry),
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, _ tg.Runtime) error {
	if a.crypto == nil {
		return nil
	}
	me, err := a.crypto.GetMe(ctx)
	if err != nil {
		// The bot still serves menus and Stars payments without the provider.
		logger.LogEvent(ctx, logger.PAY, slog.LevelWarn, "cryptobot.check", slog.String("status", "fail"), logger.Err(err))
		return nil
	}
	logger.LogEvent(ctx, logger.PAY, slog.LevelInfo, "cryptobot.check",
		slog.String("status", "ok"),
		slog.String("app", me.Name),
	)
	return nil
}

func (a *App) onStop(context.Context, tg.Runtime) error {
	return a.broadcaster.Close()
}

// Serve runs the HTTP ingress and the state purge loop until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.ingress != nil {
		g.Go(func() error { return a.ingress.Serve(gctx) })
	}
	if sqlStates, ok := a.states.(*conversation.SQLStore); ok {
		g.Go(func() error {
			purgeLoop(gctx, sqlStates, statePurgeInterval)
			return nil
		})
	}
	return g.Wait()
}

func purgeLoop(ctx context.Context, store *conversation.SQLStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpired(ctx, now.Unix())
			if err != nil {
				logger.LogEvent(ctx, logger.STATE, slog.LevelWarn, "state.purge", slog.String("status", "fail"), logger.Err(err))
				continue
			}
			if n > 0 {
				logger.LogEvent(ctx, logger.STATE, slog.LevelInfo, "state.purge", slog.Int64("purged", n))
			}
		}
	}
}

// Close releases the database and the redis client.
func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
