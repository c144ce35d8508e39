// Package config reads process configuration from DRAFTSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jason-s-yu/draftsync/internal/auth"
	"github.com/jason-s-yu/draftsync/internal/retry"
	"github.com/jason-s-yu/draftsync/internal/timer"
)

// Prefix is prepended to every variable name.
const Prefix = "DRAFTSYNC_"

// Config is shared by every command; each reads the fields it needs.
type Config struct {
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"draftsync"`
	// LeaseTTL is how long a client counts as connected without refreshing its presence lease.
	LeaseTTL time.Duration `env:"LEASE_TTL" envDefault:"15s"`
	// SweepInterval is how often the server applies the disconnect hooks of expired leases.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`

	// PostgresURL enables the archive. Empty disables it.
	PostgresURL  string `env:"POSTGRES_URL"`
	ArchiveQueue string `env:"ARCHIVE_QUEUE" envDefault:"draftsync_actions"`

	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	// TokenTTL is "never" or a Go duration.
	TokenTTL       string `env:"TOKEN_TTL" envDefault:"never"`
	PrivateKeyPath string `env:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string `env:"PUBLIC_KEY_PATH"`

	TurnSeconds       int           `env:"TURN_SECONDS" envDefault:"30"`
	TimerMode         timer.Mode    `env:"TIMER_MODE" envDefault:"host"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5s"`
	RetryAttempts     uint          `env:"RETRY_ATTEMPTS" envDefault:"5"`

	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"6h"`
	SessionPath string        `env:"SESSION_DB" envDefault:"draftsync-session.db"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment. Keys carry the prefix.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.TurnSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: %sTURN_SECONDS must be positive, got %d", Prefix, c.TurnSeconds))
	}
	if c.TimerMode != timer.AuthorityHost && c.TimerMode != timer.AuthorityActingTeam {
		errs = append(errs, fmt.Errorf("config: unknown timer mode %q", c.TimerMode))
	}
	if c.RetryAttempts == 0 {
		errs = append(errs, fmt.Errorf("config: %sRETRY_ATTEMPTS must be at least 1", Prefix))
	}
	if c.ReconcileInterval <= 0 || c.SessionTTL <= 0 || c.LeaseTTL <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("config: intervals and ttls must be positive"))
	}
	if (c.PrivateKeyPath == "") != (c.PublicKeyPath == "") {
		errs = append(errs, errors.New("config: private and public key paths must be set together"))
	}
	if _, err := auth.ParseTTL(c.TokenTTL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TurnDuration is the length of one turn.
func (c Config) TurnDuration() time.Duration {
	return time.Duration(c.TurnSeconds) * time.Second
}

// RetryPolicy is retry.DefaultPolicy with the configured attempt count.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy
	p.Attempts = c.RetryAttempts
	return p
}

// Issuer builds the device token issuer, from key files when configured.
func (c Config) Issuer() (*auth.Issuer, error) {
	ttl, err := auth.ParseTTL(c.TokenTTL)
	if err != nil {
		return nil, err
	}
	if c.PrivateKeyPath != "" {
		return auth.LoadIssuer(c.PrivateKeyPath, c.PublicKeyPath, ttl)
	}
	return auth.NewIssuer(ttl)
}
