// Package config is the application configuration: the reusable core
// settings plus the wallet sections.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	coredatabase "github.com/m3rciful/walletbot/core/database"
	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/payment/cryptobot"
)

// State backends.
const (
	StateMemory = "memory"
	StateSQL    = "sql"
	StateRedis  = "redis"
)

// StateConfig selects where conversation state lives.
type StateConfig struct {
	Backend string        `yaml:"backend" envconfig:"STATE_BACKEND"`
	TTL     time.Duration `yaml:"ttl" envconfig:"STATE_TTL"`
}

// RedisConfig is used by the redis state backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// AmountRuleConfig mirrors payment.AmountRule with text amounts.
type AmountRuleConfig struct {
	Minimum string `yaml:"minimum"`
	Step    string `yaml:"step"`
	Scale   int32  `yaml:"scale"`
}

// Rule converts the section, falling back to def for empty fields.
func (c AmountRuleConfig) Rule(def payment.AmountRule) (payment.AmountRule, error) {
	rule := def
	if c.Minimum != "" {
		v, err := decimal.NewFromString(c.Minimum)
		if err != nil || v.IsNegative() {
			return rule, fmt.Errorf("invalid minimum %q", c.Minimum)
		}
		rule.Minimum = v
	}
	if c.Step != "" {
		v, err := decimal.NewFromString(c.Step)
		if err != nil || v.IsNegative() {
			return rule, fmt.Errorf("invalid step %q", c.Step)
		}
		rule.Step = v
	}
	if c.Scale > 0 {
		rule.Scale = c.Scale
	}
	return rule, nil
}

// CryptoBotConfig configures the crypto invoice provider.
type CryptoBotConfig struct {
	Token         string        `yaml:"token" envconfig:"CRYPTOBOT_TOKEN"`
	BaseURL       string        `yaml:"base_url" envconfig:"CRYPTOBOT_BASE_URL"`
	Testnet       bool          `yaml:"testnet" envconfig:"CRYPTOBOT_TESTNET"`
	PaidButtonURL string        `yaml:"paid_button_url"`
	ExpiresIn     time.Duration `yaml:"expires_in"`
}

// PaymentsConfig groups provider and amount settings.
type PaymentsConfig struct {
	CryptoBot CryptoBotConfig `yaml:"cryptobot"`
	// StarsPerRuble is the Stars price of one ledger unit, e.g. "0.55".
	StarsPerRuble string           `yaml:"stars_per_ruble" envconfig:"STARS_PER_RUBLE"`
	CallTimeout   time.Duration    `yaml:"call_timeout"`
	CryptoAmounts AmountRuleConfig `yaml:"crypto_amounts"`
	StarsAmounts  AmountRuleConfig `yaml:"stars_amounts"`
}

// IngressConfig configures the HTTP ingress for provider webhooks.
type IngressConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"INGRESS_ENABLED"`
	Listen          string `yaml:"listen" envconfig:"INGRESS_LISTEN"`
	Path            string `yaml:"path" envconfig:"INGRESS_PATH"`
	VerifySignature bool   `yaml:"verify_signature" envconfig:"INGRESS_VERIFY_SIGNATURE"`
}

// BroadcastConfig tunes the admin broadcast fan-out.
type BroadcastConfig struct {
	Workers   int           `yaml:"workers"`
	PerSecond float64       `yaml:"per_second"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	State     StateConfig         `yaml:"state"`
	Redis     RedisConfig         `yaml:"redis"`
	Payments  PaymentsConfig      `yaml:"payments"`
	Ingress   IngressConfig       `yaml:"ingress"`
	Broadcast BroadcastConfig     `yaml:"broadcast"`
}

// CoreConfig exposes the embedded core section.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}

	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	switch c.State.Backend {
	case "":
		c.State.Backend = StateSQL
	case StateMemory, StateSQL:
	case StateRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when state.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid state.backend %q; allowed: memory, sql, redis", c.State.Backend)
	}
	if c.State.TTL < 0 {
		return fmt.Errorf("state.ttl must be >= 0")
	}

	if c.Payments.StarsPerRuble == "" {
		c.Payments.StarsPerRuble = "1"
	}
	if rate, err := decimal.NewFromString(c.Payments.StarsPerRuble); err != nil || !rate.IsPositive() {
		return fmt.Errorf("payments.stars_per_ruble must be a positive number, got %q", c.Payments.StarsPerRuble)
	}
	if _, err := c.Payments.CryptoAmounts.Rule(payment.DefaultAmountRule); err != nil {
		return fmt.Errorf("payments.crypto_amounts: %w", err)
	}
	if _, err := c.Payments.StarsAmounts.Rule(payment.DefaultAmountRule); err != nil {
		return fmt.Errorf("payments.stars_amounts: %w", err)
	}
	cb := &c.Payments.CryptoBot
	if cb.BaseURL == "" {
		cb.BaseURL = cryptobot.MainnetURL
		if cb.Testnet {
			cb.BaseURL = cryptobot.TestnetURL
		}
	}

	if c.Ingress.Enabled {
		if strings.TrimSpace(c.Ingress.Listen) == "" {
			return fmt.Errorf("ingress.listen is required when ingress is enabled")
		}
		if c.Ingress.VerifySignature && cb.Token == "" {
			return fmt.Errorf("payments.cryptobot.token is required for ingress.verify_signature")
		}
	}
	if c.Ingress.Path == "" {
		c.Ingress.Path = "/cryptobot/webhook"
	}
	if !strings.HasPrefix(c.Ingress.Path, "/") {
		c.Ingress.Path = "/" + c.Ingress.Path
	}
	if c.Broadcast.Workers < 0 || c.Broadcast.Timeout < 0 {
		return fmt.Errorf("broadcast.workers and broadcast.timeout must be >= 0")
	}
	return nil
}

// CryptoBot returns the client configuration.
func (c *Config) CryptoBot() cryptobot.Config {
	cb := c.Payments.CryptoBot
	return cryptobot.Config{
		BaseURL:       cb.BaseURL,
		Token:         cb.Token,
		PaidButtonURL: cb.PaidButtonURL,
		ExpiresIn:     cb.ExpiresIn,
	}
}
