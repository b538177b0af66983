package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinJWTSecretLength はセッショントークン署名鍵の最小バイト長。
const MinJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OpenID Connect
	OAuthServer         string        `env:"OAUTH_SERVER,required,notEmpty"`
	OAuthClientID       string        `env:"OAUTH_CLIENT_ID,required,notEmpty"`
	OAuthClientSecret   string        `env:"OAUTH_CLIENT_SECRET,required,notEmpty"`
	OAuthRedirectURL    string        `env:"OAUTH_REDIRECT_URL,required,notEmpty"`
	AllowedRedirectURIs []string      `env:"ALLOWED_REDIRECT_URIS" envSeparator:","`
	DiscoveryTimeout    time.Duration `env:"DISCOVERY_TIMEOUT" envDefault:"10s"`
	DiscoveryAttempts   int           `env:"DISCOVERY_ATTEMPTS" envDefault:"3"`
	ExchangeTimeout     time.Duration `env:"EXCHANGE_TIMEOUT" envDefault:"10s"`

	// Session
	JWTSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer  string        `env:"JWT_ISSUER" envDefault:"iceblink"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"72h"`

	// Redis（未設定の場合はプロセス内メモリを使用）
	RedisURL string `env:"REDIS_URL"`

	// Icon
	IconFetchTimeout time.Duration `env:"ICON_FETCH_TIMEOUT" envDefault:"5s"`
	IconMaxSize      int64         `env:"ICON_MAX_SIZE" envDefault:"2097152"`
	IconCacheTTL     time.Duration `env:"ICON_CACHE_TTL" envDefault:"24h"`

	// Rate Limit（req/min/user）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Server
	ServerPort     string        `env:"SERVER_PORT" envDefault:"8085"`
	BaseURL        string        `env:"BASE_URL,required,notEmpty"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if len(cfg.JWTSecret) < MinJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}
	if cfg.DiscoveryAttempts < 1 {
		cfg.DiscoveryAttempts = 1
	}

	// 派生値
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = strings.TrimRight(cfg.BaseURL, "/")
	}
	if len(cfg.AllowedRedirectURIs) == 0 {
		cfg.AllowedRedirectURIs = []string{cfg.OAuthRedirectURL}
	}

	return cfg, nil
}

// IsAllowedRedirectURI はredirect_uriが許可リストに含まれるかを判定する。
func (c *Config) IsAllowedRedirectURI(uri string) bool {
	for _, allowed := range c.AllowedRedirectURIs {
		if uri == allowed {
			return true
		}
	}
	return false
}
