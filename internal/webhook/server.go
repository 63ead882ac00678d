// Package webhook serves the HTTP ingress: the CryptoBot payment webhook,
// a health probe and the metrics endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/metrics"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/payment/cryptobot"
	"github.com/m3rciful/walletbot/internal/reconcile"
)

const (
	// DefaultPath is where CryptoBot posts invoice updates.
	DefaultPath = "/cryptobot/webhook"

	maxBodyBytes = 1 << 20
)

// Response status words.
const (
	StatusOK               = "ok"
	StatusDuplicate        = "duplicate"
	StatusUnknownRecipient = "unknown_recipient"
	StatusMalformed        = "malformed"
	StatusIgnored          = "ignored"
	StatusBadSignature     = "bad_signature"
	StatusError            = "error"
)

// Reconciler applies raw provider payloads.
type Reconciler interface {
	ReconcileRaw(ctx context.Context, provider payment.Provider, raw []byte) (reconcile.Outcome, error)
}

// Config configures the ingress server.
type Config struct {
	Listen string
	Path   string
	// APIToken is the CryptoBot token the signature is keyed with.
	APIToken string
	// VerifySignature rejects deliveries without a valid signature header.
	VerifySignature bool
	Reconciler      Reconciler
	Metrics         *metrics.Metrics
	// Ready reports readiness for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server is the HTTP ingress.
type Server struct {
	cfg    Config
	router http.Handler
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	s := &Server{cfg: cfg}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	r.Post(s.cfg.Path, s.cryptoWebhook)
	return r
}

// requestID tags every request with a uuid rid for the structured logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := logger.WithRID(r.Context(), rid)
		ctx = logger.WithLogger(ctx, logger.HOOK)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Serve listens until ctx is cancelled and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.LogEvent(ctx, logger.HOOK, slog.LevelInfo, "listen",
			slog.String("listen", s.cfg.Listen),
			slog.String("path", s.cfg.Path),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, StatusError)
			return
		}
	}
	writeStatus(w, http.StatusOK, StatusOK)
}

// cryptoWebhook acknowledges every delivery that cannot succeed on retry
// with 200 and a status word. Only infrastructure failures answer 500 so
// that the provider redelivers.
func (s *Server) cryptoWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.respond(ctx, w, http.StatusBadRequest, StatusMalformed, start)
		return
	}
	if s.cfg.VerifySignature && !cryptobot.VerifySignature(s.cfg.APIToken, body, r.Header.Get(cryptobot.SignatureHeader)) {
		s.respond(ctx, w, http.StatusUnauthorized, StatusBadSignature, start)
		return
	}

	out, err := s.cfg.Reconciler.ReconcileRaw(ctx, payment.ProviderCrypto, body)
	if err != nil {
		logger.LogEvent(ctx, logger.HOOK, slog.LevelError, "webhook.failed", logger.Err(err))
		s.respond(ctx, w, http.StatusInternalServerError, StatusError, start)
		return
	}
	s.respond(ctx, w, http.StatusOK, statusWord(out.Kind), start)
}

func statusWord(k reconcile.OutcomeKind) string {
	switch k {
	case reconcile.Credited:
		return StatusOK
	case reconcile.AlreadyProcessed:
		return StatusDuplicate
	case reconcile.UnknownRecipient:
		return StatusUnknownRecipient
	case reconcile.Ignored:
		return StatusIgnored
	}
	return StatusMalformed
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, code int, status string, start time.Time) {
	s.cfg.Metrics.Webhook(status)
	level := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	} else if code >= http.StatusBadRequest {
		level = slog.LevelWarn
	}
	logger.LogEvent(ctx, logger.HOOK, level, "webhook.handled",
		slog.String("status", status),
		slog.Int("http_code", code),
		slog.Duration("duration", logger.Took(start)),
	)
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
