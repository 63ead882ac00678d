// Package cryptobot is a minimal Crypto Pay API client: invoice creation,
// token check and webhook signature verification.
package cryptobot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/m3rciful/walletbot/core/logger"
	"github.com/m3rciful/walletbot/internal/apperr"
	"github.com/m3rciful/walletbot/internal/payment"
)

const (
	// MainnetURL is the production API root.
	MainnetURL = "https://pay.crypt.bot/api"
	// TestnetURL is the testnet API root.
	TestnetURL = "https://testnet-pay.crypt.bot/api"

	tokenHeader = "Crypto-Pay-API-Token"
	// SignatureHeader carries the webhook body signature.
	SignatureHeader = "crypto-pay-api-signature"
)

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	// PaidButtonURL, when set, adds a "return to bot" button to the paid invoice page.
	PaidButtonURL string
	ExpiresIn     time.Duration
}

// Client talks to the Crypto Pay API.
type Client struct {
	rc  *resty.Client
	cfg Config
}

// New builds a client on top of hc, which owns timeouts and retries.
func New(cfg Config, hc *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader(tokenHeader, cfg.Token).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, cfg: cfg}
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type createInvoiceBody struct {
	CurrencyType   string `json:"currency_type"`
	Fiat           string `json:"fiat"`
	Amount         string `json:"amount"`
	AcceptedAssets string `json:"accepted_assets,omitempty"`
	Description    string `json:"description,omitempty"`
	Payload        string `json:"payload"`
	PaidBtnName    string `json:"paid_btn_name,omitempty"`
	PaidBtnURL     string `json:"paid_btn_url,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
}

type invoiceResult struct {
	InvoiceID     payment.FlexibleID `json:"invoice_id"`
	BotInvoiceURL string             `json:"bot_invoice_url"`
	PayURL        string             `json:"pay_url"`
	Status        string             `json:"status"`
}

// App is the getMe result.
type App struct {
	AppID                int64  `json:"app_id"`
	Name                 string `json:"name"`
	PaymentProcessingBot string `json:"payment_processing_bot_username"`
}

// CreateInvoice implements payment.CryptoInvoicer.
func (c *Client) CreateInvoice(ctx context.Context, req payment.CryptoInvoiceRequest) (payment.CryptoInvoiceResult, error) {
	body := createInvoiceBody{
		CurrencyType:   "fiat",
		Fiat:           req.Fiat,
		Amount:         req.Amount.StringFixed(2),
		AcceptedAssets: strings.Join(req.AcceptedAssets, ","),
		Description:    req.Description,
		Payload:        req.Payload,
		ExpiresIn:      int(c.cfg.ExpiresIn / time.Second),
	}
	if c.cfg.PaidButtonURL != "" {
		body.PaidBtnName = "callback"
		body.PaidBtnURL = c.cfg.PaidButtonURL
	}
	var res invoiceResult
	if err := c.call(ctx, "createInvoice", body, &res); err != nil {
		return payment.CryptoInvoiceResult{}, err
	}
	url := res.BotInvoiceURL
	if url == "" {
		url = res.PayURL
	}
	if res.InvoiceID == "" || url == "" {
		return payment.CryptoInvoiceResult{}, apperr.New(apperr.KindGatewayUnavailable, "createInvoice: incomplete result")
	}
	return payment.CryptoInvoiceResult{InvoiceID: string(res.InvoiceID), PayURL: url}, nil
}

// GetMe checks the API token.
func (c *Client) GetMe(ctx context.Context) (App, error) {
	var app App
	err := c.call(ctx, "getMe", nil, &app)
	return app, err
}

// call posts body to method and decodes the result into out. Transport
// failures, non-JSON answers and 5xx are unavailability; an ok:false answer
// is a rejection carrying the provider's error name.
func (c *Client) call(ctx context.Context, method string, body, out any) error {
	start := time.Now()
	r := c.rc.R().SetContext(ctx)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Post("/" + method)
	if err != nil {
		return apperr.Wrap(apperr.KindGatewayUnavailable, err, "%s", method)
	}
	status := resp.StatusCode()
	logger.LogEvent(ctx, logger.PAY, slog.LevelDebug, "cryptobot.call",
		slog.String("op", method),
		slog.Int("http_code", status),
		slog.Duration("duration", logger.Took(start)),
	)

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return apperr.Wrap(apperr.KindGatewayUnavailable, err, "%s: http %d", method, status)
	}
	if !env.OK {
		if env.Error != nil && status < http.StatusInternalServerError {
			return apperr.New(apperr.KindGatewayRejected, "%s: %d %s", method, env.Error.Code, env.Error.Name)
		}
		return apperr.New(apperr.KindGatewayUnavailable, "%s: http %d", method, status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperr.Wrap(apperr.KindGatewayUnavailable, err, "%s: decode result", method)
	}
	return nil
}

// VerifySignature checks a webhook body against the signature header:
// hex(HMAC-SHA256(body, SHA256(token))).
func VerifySignature(token string, body []byte, signature string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) == 0 {
		return false
	}
	return hmac.Equal(sig, Sign(token, body))
}

// Sign computes the webhook signature for body.
func Sign(token string, body []byte) []byte {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return mac.Sum(nil)
}

// String hides the token.
func (c Config) String() string {
	return fmt.Sprintf("cryptobot{base=%s token_set=%t}", c.BaseURL, c.Token != "")
}
