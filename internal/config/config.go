// Package config resolves runtime configuration: defaults, then an optional YAML file, then environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/and161185/weightcalc/internal/crypto"
	"github.com/and161185/weightcalc/internal/token"
)

// Limiter holds lockout policy for activation and operator attempts.
type Limiter struct {
	Window   time.Duration `yaml:"window"`
	MaxFails int           `yaml:"max_fails"`
	BlockFor time.Duration `yaml:"block_for"`
}

// Validate implements validation.Validatable.
func (l Limiter) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Window, validation.Required, validation.Min(time.Second)),
		validation.Field(&l.MaxFails, validation.Required, validation.Min(1)),
		validation.Field(&l.BlockFor, validation.Required, validation.Min(time.Second)),
	)
}

// Operator holds the hex Argon2id salt and hash of the key accepted by POST /api/grants.
// Both empty disables the endpoint.
type Operator struct {
	KeySalt string `yaml:"key_salt"`
	KeyHash string `yaml:"key_hash"`
}

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	OpsAddr  string `yaml:"ops_addr"`
	BaseURL  string `yaml:"base_url"`
	AppName  string `yaml:"app_name"`

	TokenSecret  string        `yaml:"token_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	Migrate     bool   `yaml:"migrate"`

	Limiter  Limiter  `yaml:"limiter"`
	Operator Operator `yaml:"operator"`

	MailForceRecipient string `yaml:"mail_force_recipient"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration. TokenSecret is intentionally empty.
func Default() Config {
	return Config{
		HTTPAddr: ":3000",
		OpsAddr:  ":9090",
		BaseURL:  "http://localhost:3000",
		AppName:  "WeightCalc",
		TokenTTL: token.DefaultTTL,
		Migrate:  true,
		Limiter: Limiter{
			Window:   15 * time.Minute,
			MaxFails: 5,
			BlockFor: 15 * time.Minute,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file at path is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	e := env{lookup: lookup}
	e.str(&cfg.HTTPAddr, "WC_HTTP_ADDR")
	e.str(&cfg.OpsAddr, "WC_OPS_ADDR")
	e.str(&cfg.BaseURL, "APP_URL", "WC_BASE_URL")
	e.str(&cfg.AppName, "WC_APP_NAME")
	e.str(&cfg.TokenSecret, "TOKEN_SECRET", "WC_TOKEN_SECRET")
	e.str(&cfg.DatabaseURL, "WC_DATABASE_URL")
	e.str(&cfg.RedisURL, "WC_REDIS_URL")
	e.str(&cfg.Operator.KeySalt, "WC_OPERATOR_KEY_SALT")
	e.str(&cfg.Operator.KeyHash, "WC_OPERATOR_KEY_HASH")
	e.str(&cfg.MailForceRecipient, "DEV_FORCE_EMAIL", "WC_MAIL_FORCE_RECIPIENT")
	e.boolean(&cfg.CookieSecure, "WC_COOKIE_SECURE")
	e.boolean(&cfg.TrustProxy, "WC_TRUST_PROXY")
	e.boolean(&cfg.Migrate, "WC_MIGRATE")
	e.integer(&cfg.Limiter.MaxFails, "WC_LIMITER_MAX_FAILS")
	e.duration(&cfg.TokenTTL, "WC_TOKEN_TTL")
	e.duration(&cfg.Limiter.Window, "WC_LIMITER_WINDOW")
	e.duration(&cfg.Limiter.BlockFor, "WC_LIMITER_BLOCK_FOR")
	e.duration(&cfg.ShutdownTimeout, "WC_SHUTDOWN_TIMEOUT")
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

// Validate checks the resolved configuration. A missing token secret is reported
// as a plain "cannot be blank" so the value never reaches logs.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, is.RequestURL),
		validation.Field(&c.TokenSecret, validation.Required),
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Limiter),
		validation.Field(&c.MailForceRecipient, is.EmailFormat),
		validation.Field(&c.Operator, validation.By(func(any) error {
			_, err := c.OperatorKey()
			return err
		})),
	)
}

// OperatorKey returns the parsed operator key hash, or nil when the grants endpoint is disabled.
func (c Config) OperatorKey() (*crypto.KeyHash, error) {
	if c.Operator.KeySalt == "" && c.Operator.KeyHash == "" {
		return nil, nil
	}
	kh, err := crypto.ParseKeyHash(c.Operator.KeySalt, c.Operator.KeyHash)
	if err != nil {
		return nil, err
	}
	return &kh, nil
}

// LimiterBackend names the limiter implementation the configuration selects.
func (c Config) LimiterBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.RedisURL != "":
		return "redis"
	default:
		return "memory"
	}
}

// env applies overrides; for keys listed together the last one set wins.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) get(keys ...string) (string, bool) {
	var (
		val   string
		found bool
	)
	for _, k := range keys {
		if v, ok := e.lookup(k); ok && v != "" {
			val, found = v, true
		}
	}
	return val, found
}

func (e *env) str(dst *string, keys ...string) {
	if v, ok := e.get(keys...); ok {
		*dst = v
	}
}

func (e *env) boolean(dst *bool, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *env) integer(dst *int, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *env) duration(dst *time.Duration, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s: %w", key, err)
	}
}
