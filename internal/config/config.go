// Package config は設定ファイルと環境変数から起動時設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ストレージエンジン。
const (
	DriverPostgres = "postgres" // database/sql + lib/pq
	DriverPgx      = "pgx"      // pgxpool
	DriverMemory   = "memory"   // プロセス内メモリ（開発・テスト用）
)

// DefaultSettingsFile は設定ファイルの既定パス。存在しない場合は環境変数のみを使う。
const DefaultSettingsFile = "settings.env"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver   string
	DatabaseURL      string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBAcquireTimeout time.Duration

	// GitHub OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
	GitHubRequiredOrg  string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
	CookieMaxAge int

	// CORS
	CORSAllowedOrigin string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitShaft   int

	// API
	RecentTransactionsLimit int

	// Logging
	LogLevel string
}

// Load は既定の設定ファイル（SHAFT_SETTINGS_FILEで変更可）と環境変数からConfigを読み込む。
func Load() (*Config, error) {
	path := os.Getenv("SHAFT_SETTINGS_FILE")
	if path == "" {
		path = DefaultSettingsFile
	}
	return LoadFile(path)
}

// LoadFile は指定したenv形式の設定ファイルと環境変数からConfigを読み込む。
// 環境変数はファイルの値より優先される。ファイルが存在しない場合は環境変数のみを使う。
// 必須項目が未設定の場合はエラーを返す。
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat settings file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_ACQUIRE_TIMEOUT", "5s")
	v.SetDefault("SERVER_PORT", "8975")
	v.SetDefault("COOKIE_MAX_AGE", 1209600) // 2週間
	v.SetDefault("CORS_ALLOWED_ORIGIN", "")
	v.SetDefault("RATE_LIMIT_GENERAL", 120)
	v.SetDefault("RATE_LIMIT_SHAFT", 30)
	v.SetDefault("RECENT_TRANSACTIONS_LIMIT", 20)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		DatabaseDriver:     strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		GitHubClientID:     v.GetString("GITHUB_CLIENT_ID"),
		GitHubClientSecret: v.GetString("GITHUB_CLIENT_SECRET"),
		GitHubRedirectURL:  v.GetString("GITHUB_REDIRECT_URL"),
		GitHubRequiredOrg:  v.GetString("GITHUB_REQUIRED_ORG"),
		BaseURL:            v.GetString("BASE_URL"),
		ServerPort:         v.GetString("SERVER_PORT"),
		CookieDomain:       v.GetString("COOKIE_DOMAIN"),
		CORSAllowedOrigin:  v.GetString("CORS_ALLOWED_ORIGIN"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverPgx, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q (want %s, %s or %s)",
			cfg.DatabaseDriver, DriverPostgres, DriverPgx, DriverMemory)
	}

	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"GITHUB_CLIENT_ID", cfg.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", cfg.GitHubClientSecret},
		{"GITHUB_REDIRECT_URL", cfg.GitHubRedirectURL},
		{"GITHUB_REQUIRED_ORG", cfg.GitHubRequiredOrg},
		{"BASE_URL", cfg.BaseURL},
	}
	if cfg.DatabaseDriver != DriverMemory {
		required = append([]struct {
			key   string
			value string
		}{{"DATABASE_URL", cfg.DatabaseURL}}, required...)
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required settings are not set: %v", missing)
	}

	// 不正な数値は既定値にフォールバックする
	cfg.DBMaxOpenConns = positiveInt(v, "DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = positiveInt(v, "DB_MAX_IDLE_CONNS", 5)
	cfg.DBAcquireTimeout = positiveDuration(v, "DB_ACQUIRE_TIMEOUT", 5*time.Second)
	cfg.CookieMaxAge = positiveInt(v, "COOKIE_MAX_AGE", 1209600)
	cfg.RateLimitGeneral = positiveInt(v, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitShaft = positiveInt(v, "RATE_LIMIT_SHAFT", 30)
	cfg.RecentTransactionsLimit = positiveInt(v, "RECENT_TRANSACTIONS_LIMIT", 20)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

func positiveInt(v *viper.Viper, key string, defaultVal int) int {
	if i := v.GetInt(key); i > 0 {
		return i
	}
	return defaultVal
}

func positiveDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaultVal
}
