// Package config loads bankgate settings from defaults, an optional YAML
// file, the environment and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "BANKGATE_"

type Config struct {
	Listen         string   `koanf:"listen"`
	DataDir        string   `koanf:"data_dir"`
	StaticDir      string   `koanf:"static_dir"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	TrustedProxies []string `koanf:"trusted_proxies"`
	CookieInsecure bool     `koanf:"cookie_insecure"`
	TLSCert        string   `koanf:"tls_cert"`
	TLSKey         string   `koanf:"tls_key"`

	Session   SessionConfig   `koanf:"session"`
	Operator  OperatorConfig  `koanf:"operator"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Vault     VaultConfig     `koanf:"vault"`
	Secret    SecretConfig    `koanf:"secret"`
	Banking   BankingConfig   `koanf:"banking"`
	FX        FXConfig        `koanf:"fx"`
	Cache     CacheConfig     `koanf:"cache"`
	Demo      DemoConfig      `koanf:"demo"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type SessionConfig struct {
	Lifetime time.Duration `koanf:"lifetime"`
}

type OperatorConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type RateLimitConfig struct {
	Window      time.Duration `koanf:"window"`
	MaxRequests int           `koanf:"max_requests"`
}

type VaultConfig struct {
	URL          string        `koanf:"url"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	ItemName     string        `koanf:"item_name"`
	Timeout      time.Duration `koanf:"timeout"`
	Attempts     int           `koanf:"attempts"`
}

// Enabled reports whether enough is configured to query the vault.
func (v VaultConfig) Enabled() bool {
	return v.URL != "" && v.ClientID != "" && v.ClientSecret != ""
}

type SecretConfig struct {
	Fallback string        `koanf:"fallback"`
	TTL      time.Duration `koanf:"ttl"`
}

type BankingConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxPages    int           `koanf:"max_pages"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type FXConfig struct {
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxLookbackDays int           `koanf:"max_lookback_days"`
	RedisAddr       string        `koanf:"redis_addr"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type DemoConfig struct {
	Fallback bool `koanf:"fallback"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen":                 ":5000",
		"data_dir":               "./data",
		"static_dir":             "",
		"allowed_origins":        []string{"http://localhost:8000"},
		"trusted_proxies":        []string{},
		"cookie_insecure":        false,
		"session.lifetime":       "8h",
		"operator.username":      "admin",
		"operator.password":      "",
		"ratelimit.window":       "1m",
		"ratelimit.max_requests": 30,
		"vault.item_name":        "Bunq API Key",
		"vault.timeout":          "10s",
		"vault.attempts":         3,
		"secret.ttl":             "15m",
		"banking.base_url":       "https://api.bunq.com",
		"banking.timeout":        "15s",
		"banking.max_pages":      50,
		"banking.max_attempts":   3,
		"fx.base_url":            "https://api.frankfurter.app",
		"fx.timeout":             "5s",
		"fx.max_lookback_days":   7,
		"cache.ttl":              "5m",
		"demo.fallback":          false,
		"log.level":              "info",
		"log.format":             "json",
		"metrics.enabled":        true,
	}
}

// legacyEnv maps the variable names used by earlier deployments of the
// dashboard proxy onto config keys. BANKGATE_* variables take precedence.
var legacyEnv = map[string]string{
	"BUNQ_API_KEY":              "secret.fallback",
	"VAULTWARDEN_URL":           "vault.url",
	"VAULTWARDEN_CLIENT_ID":     "vault.client_id",
	"VAULTWARDEN_CLIENT_SECRET": "vault.client_secret",
	"VAULTWARDEN_ITEM_NAME":     "vault.item_name",
	"BASIC_AUTH_USERNAME":       "operator.username",
	"BASIC_AUTH_PASSWORD":       "operator.password",
	"ALLOWED_ORIGINS":           "allowed_origins",
}

// Load builds a Config. path may be empty. overrides holds values from
// explicitly set command-line flags, keyed like the YAML file.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := k.Load(confmap.Provider(legacyValues(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading legacy environment: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns BANKGATE_VAULT__CLIENT_ID into vault.client_id. A double
// underscore separates nesting levels so keys may keep single underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func legacyValues() map[string]any {
	out := make(map[string]any)
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			out[key] = v
		}
	}
	return out
}

// splitList accepts both YAML lists and comma-separated strings.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	if c.Session.Lifetime <= 0 {
		errs = append(errs, errors.New("session.lifetime must be positive"))
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("ratelimit.window and ratelimit.max_requests must be positive"))
	}
	if c.Secret.TTL <= 0 {
		errs = append(errs, errors.New("secret.ttl must be positive"))
	}
	if c.Vault.Attempts <= 0 || c.Banking.MaxAttempts <= 0 {
		errs = append(errs, errors.New("vault.attempts and banking.max_attempts must be positive"))
	}
	if c.Banking.MaxPages <= 0 {
		errs = append(errs, errors.New("banking.max_pages must be positive"))
	}
	if c.FX.MaxLookbackDays < 0 {
		errs = append(errs, errors.New("fx.max_lookback_days must not be negative"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err != nil {
			errs = append(errs, fmt.Errorf("trusted_proxies: %w", err))
		}
	}
	return errors.Join(errs...)
}
