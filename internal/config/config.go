// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"mileage/internal/model"
	"mileage/internal/tracking"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	Debug       string `mapstructure:"DEBUG"`

	MaxAccuracyM       float64 `mapstructure:"MAX_ACCURACY_M"`
	MinMovingSpeedMps  float64 `mapstructure:"MIN_MOVING_SPEED_MPS"`
	UnknownSpeedPolicy string  `mapstructure:"UNKNOWN_SPEED_POLICY"`
	FixQueueSize       int     `mapstructure:"FIX_QUEUE_SIZE"`
	RateRPS            float64 `mapstructure:"RATE_RPS"`
	RateBurst          int     `mapstructure:"RATE_BURST"`

	LedgerWebhookURL    string `mapstructure:"LEDGER_WEBHOOK_URL"`
	LedgerWebhookSecret string `mapstructure:"LEDGER_WEBHOOK_SECRET"`
	WebhookMaxAttempts  int    `mapstructure:"WEBHOOK_MAX_ATTEMPTS"`

	InitialAuthorization string `mapstructure:"INITIAL_AUTHORIZATION"`
	AutoGrantPermission  bool   `mapstructure:"AUTO_GRANT_PERMISSION"`
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"DATABASE_URL":          "",
	"REDIS_URL":             "",
	"LOG_FORMAT":            "CONSOLE",
	"DEBUG":                 "NO",
	"MAX_ACCURACY_M":        50.0,
	"MIN_MOVING_SPEED_MPS":  1.0,
	"UNKNOWN_SPEED_POLICY":  string(tracking.AssumeMoving),
	"FIX_QUEUE_SIZE":        256,
	"RATE_RPS":              20.0,
	"RATE_BURST":            40,
	"LEDGER_WEBHOOK_URL":    "",
	"LEDGER_WEBHOOK_SECRET": "",
	"WEBHOOK_MAX_ATTEMPTS":  10,
	"INITIAL_AUTHORIZATION": string(model.AuthNotDetermined),
	"AUTO_GRANT_PERMISSION": true,
}

// Read loads the environment over the defaults without validating it.
func Read() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load reads the environment over the defaults and validates the result.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateFilter checks only the settings the sample filter depends on.
func (c Config) ValidateFilter() error {
	if _, err := tracking.ParseUnknownSpeedPolicy(c.UnknownSpeedPolicy); err != nil {
		return fmt.Errorf("config: UNKNOWN_SPEED_POLICY: %w", err)
	}
	if c.MaxAccuracyM <= 0 {
		return fmt.Errorf("config: MAX_ACCURACY_M must be positive")
	}
	if c.MinMovingSpeedMps < 0 {
		return fmt.Errorf("config: MIN_MOVING_SPEED_MPS must not be negative")
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.ValidateFilter(); err != nil {
		return err
	}
	if _, err := model.ParseAuthorizationState(c.InitialAuthorization); err != nil {
		return fmt.Errorf("config: INITIAL_AUTHORIZATION: %w", err)
	}
	if c.RateRPS <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("config: RATE_RPS and RATE_BURST must be positive")
	}
	return nil
}

// DebugEnabled accepts YES, TRUE or 1.
func (c Config) DebugEnabled() bool {
	switch strings.ToUpper(strings.TrimSpace(c.Debug)) {
	case "YES", "TRUE", "1":
		return true
	}
	return false
}

func (c Config) JSONLogs() bool { return strings.EqualFold(c.LogFormat, "JSON") }

func (c Config) Filter() tracking.FilterConfig {
	p, _ := tracking.ParseUnknownSpeedPolicy(c.UnknownSpeedPolicy)
	return tracking.FilterConfig{MaxAccuracyM: c.MaxAccuracyM, MinMovingSpeedMps: c.MinMovingSpeedMps, UnknownSpeed: p}
}

func (c Config) Authorization() model.AuthorizationState {
	st, _ := model.ParseAuthorizationState(c.InitialAuthorization)
	return st
}

// LedgerURLs splits LEDGER_WEBHOOK_URL on commas.
func (c Config) LedgerURLs() []string {
	var out []string
	for _, u := range strings.Split(c.LedgerWebhookURL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
