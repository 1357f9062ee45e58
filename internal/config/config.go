// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/authgate/internal/provider"
	"github.com/hitoshi/authgate/internal/security"
)

// 組み込みプロバイダーのディスカバリ文書URL。
const (
	GoogleWellKnownURL    = "https://accounts.google.com/.well-known/openid-configuration"
	MicrosoftWellKnownURL = "https://login.microsoftonline.com/common/v2.0/.well-known/openid-configuration"
	GitHubWellKnownURL    = "https://token.actions.githubusercontent.com/.well-known/openid-configuration"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// OAuth
	// OAuthProvidersJSON はプロバイダー名から設定へのJSONオブジェクト。
	// 未設定の場合は google/microsoft/github の組み込み設定を使う。
	OAuthProvidersJSON   string `env:"OAUTH_PROVIDERS"`
	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	MicrosoftClientID    string `env:"MICROSOFT_CLIENT_ID"`
	GitHubClientID       string `env:"GITHUB_CLIENT_ID"`
	DefaultOAuthProvider string `env:"DEFAULT_OAUTH_PROVIDER" envDefault:"google"`

	// Upstream
	UpstreamTimeout         time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"5s"`
	UpstreamMaxResponseSize int64         `env:"UPSTREAM_MAX_RESPONSE_SIZE" envDefault:"1048576"`

	// Auth
	RefreshTTLDays int `env:"AUTH_REFRESH_TTL_DAYS" envDefault:"7"`
	BcryptCost     int `env:"BCRYPT_COST" envDefault:"10"`

	// Mail
	FrontURL     string        `env:"FRONT_URL" envDefault:"http://localhost:3000"`
	AppName      string        `env:"APP_NAME" envDefault:"authgate"`
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM" envDefault:"no-reply@localhost"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"20"`

	// Cleanup
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupRetention time.Duration `env:"VERIFICATION_TOKEN_RETENTION" envDefault:"168h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORSAllowedOrigin はカンマ区切りの許可オリジン。"*" で全オリジンを許可する。
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Providers はOAuthProvidersJSONまたは組み込み設定から構築したプロバイダー設定。
	Providers map[string]provider.Config `env:"-"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	providers, err := cfg.buildProviders()
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	if err := cfg.validate(security.NewEndpointGuard()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildProviders はOAUTH_PROVIDERSを解析する。未設定の場合は組み込み設定を返す。
func (c *Config) buildProviders() (map[string]provider.Config, error) {
	if c.OAuthProvidersJSON == "" {
		return map[string]provider.Config{
			"google": {
				WellKnownURL: GoogleWellKnownURL,
				Audience:     c.GoogleClientID,
				DisplayName:  "Google",
				Enabled:      c.GoogleClientID != "",
			},
			"microsoft": {
				WellKnownURL: MicrosoftWellKnownURL,
				Audience:     c.MicrosoftClientID,
				DisplayName:  "Microsoft Outlook",
				Enabled:      c.MicrosoftClientID != "",
			},
			"github": {
				WellKnownURL: GitHubWellKnownURL,
				Audience:     c.GitHubClientID,
				DisplayName:  "GitHub",
				Enabled:      false,
			},
		}, nil
	}

	var providers map[string]provider.Config
	if err := json.Unmarshal([]byte(c.OAuthProvidersJSON), &providers); err != nil {
		return nil, fmt.Errorf("invalid OAUTH_PROVIDERS: %w", err)
	}
	return providers, nil
}

// urlValidator は設定URLの検証インターフェース。
type urlValidator interface {
	ValidateEndpointURL(rawURL string) error
}

func (c *Config) validate(guard urlValidator) error {
	if c.RefreshTTLDays <= 0 {
		return fmt.Errorf("AUTH_REFRESH_TTL_DAYS must be positive: %d", c.RefreshTTLDays)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.Providers[name]
		if !p.Enabled {
			continue
		}
		if !provider.IsSupported(name) {
			return fmt.Errorf("unsupported provider in OAUTH_PROVIDERS: %s", name)
		}
		if p.Audience == "" {
			return fmt.Errorf("provider %s is enabled without audience", name)
		}
		if err := guard.ValidateEndpointURL(p.WellKnownURL); err != nil {
			return fmt.Errorf("provider %s well_known_url: %w", name, err)
		}
	}
	return nil
}
