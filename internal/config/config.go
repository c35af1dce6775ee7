// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the resolved server configuration.
type Config struct {
	Host    string
	Port    string
	BaseURL string

	PCOClientID     string
	PCOClientSecret string
	PCOAPIBaseURL   string
	JWTSigningKey   string

	StoreBackend string
	RedisURL     string
	DatabaseURL  string

	TokenCacheTTL        time.Duration
	TokenCacheSize       int
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AcceptUpstreamTokens bool

	RateLimitPerSecond int
	ToolTimeout        time.Duration

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	Loki LokiConfig
}

// LokiConfig enables the Loki push client when URL, User and APIKey are set.
type LokiConfig struct {
	URL            string
	User           string
	APIKey         string
	AppEnv         string
	InstanceID     string
	InstanceRegion string
}

var defaults = map[string]any{
	"host":                   "0.0.0.0",
	"port":                   "8000",
	"base_url":               "http://localhost:8000",
	"pco_api_base_url":       "https://api.planningcenteronline.com",
	"store_backend":          StoreMemory,
	"token_cache_ttl":        5 * time.Minute,
	"token_cache_size":       1024,
	"access_token_ttl":       time.Hour,
	"refresh_token_ttl":      30 * 24 * time.Hour,
	"accept_upstream_tokens": false,
	"rate_limit_per_second":  10,
	"tool_timeout":           30 * time.Second,
	"log_level":              "info",
	"log_format":             "json",
	"app_env":                "pco-services-mcp",
}

// keys without a default still have to be known to viper for AutomaticEnv.
var envOnly = []string{
	"pco_client_id", "pco_client_secret", "jwt_signing_key",
	"redis_url", "database_url", "otel_exporter_otlp_endpoint",
	"grafana_loki_url", "grafana_loki_user", "grafana_loki_api_key",
	"instance_id", "instance_region",
	"render_instance_id", "render_region", "koyeb_instance_id", "koyeb_region",
}

// Load reads ./.env (if present) and the environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads envFile (if present) and the environment. Environment
// variables take precedence over the file.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envOnly {
		if err := v.BindEnv(k); err != nil {
			return nil, errors.Wrapf(err, "bind %s", k)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "read %s", envFile)
			}
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		Host:                 v.GetString("host"),
		Port:                 v.GetString("port"),
		BaseURL:              strings.TrimRight(v.GetString("base_url"), "/"),
		PCOClientID:          v.GetString("pco_client_id"),
		PCOClientSecret:      v.GetString("pco_client_secret"),
		PCOAPIBaseURL:        strings.TrimRight(v.GetString("pco_api_base_url"), "/"),
		JWTSigningKey:        v.GetString("jwt_signing_key"),
		StoreBackend:         strings.ToLower(v.GetString("store_backend")),
		RedisURL:             v.GetString("redis_url"),
		DatabaseURL:          v.GetString("database_url"),
		TokenCacheTTL:        v.GetDuration("token_cache_ttl"),
		TokenCacheSize:       v.GetInt("token_cache_size"),
		AccessTokenTTL:       v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:      v.GetDuration("refresh_token_ttl"),
		AcceptUpstreamTokens: v.GetBool("accept_upstream_tokens"),
		RateLimitPerSecond:   v.GetInt("rate_limit_per_second"),
		ToolTimeout:          v.GetDuration("tool_timeout"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            v.GetString("log_format"),
		OTLPEndpoint:         v.GetString("otel_exporter_otlp_endpoint"),
		Loki: LokiConfig{
			URL:    v.GetString("grafana_loki_url"),
			User:   v.GetString("grafana_loki_user"),
			APIKey: v.GetString("grafana_loki_api_key"),
			AppEnv: v.GetString("app_env"),
			InstanceID: firstNonEmpty(
				v.GetString("instance_id"),
				v.GetString("render_instance_id"),
				v.GetString("koyeb_instance_id"),
				"local",
			),
			InstanceRegion: firstNonEmpty(
				v.GetString("instance_region"),
				v.GetString("render_region"),
				v.GetString("koyeb_region"),
				"local",
			),
		},
	}
	return cfg, nil
}

// Validate reports the first configuration problem that prevents startup.
func (c *Config) Validate() error {
	if c.PCOClientID == "" {
		return errors.New("PCO_CLIENT_ID is required")
	}
	if c.PCOClientSecret == "" {
		return errors.New("PCO_CLIENT_SECRET is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return errors.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RateLimitPerSecond <= 0 {
		return errors.New("RATE_LIMIT_PER_SECOND must be positive")
	}
	if c.ToolTimeout <= 0 {
		return errors.New("TOOL_TIMEOUT must be positive")
	}
	if c.TokenCacheSize <= 0 {
		return errors.New("TOKEN_CACHE_SIZE must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// CallbackURL is the redirect URI registered with the upstream provider.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/auth/callback"
}

// ResourceURL is the protected MCP endpoint.
func (c *Config) ResourceURL() string {
	return c.BaseURL + "/mcp"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
