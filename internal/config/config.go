// Package config は環境変数と任意のTOMLファイルからアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Session
	SessionMaxAge int
	CookieSecure  bool
	CookieDomain  string

	// Remote
	RemoteBaseURL      string
	RemoteTimeout      time.Duration
	RemoteMaxSize      int64
	RemoteRateLimit    float64 // req/sec。0以下は無制限
	RemoteAllowPrivate bool

	// Paging
	PageSize      int
	MaxPageSize   int
	PrefetchPages int

	// Favorites
	FavoritesLimit  int
	UndoHistorySize int

	// Search
	SearchHistorySize int

	// Refresh
	RefreshMinInterval time.Duration
	RefreshMaxRetries  int

	// Worker
	CacheRetention       time.Duration
	CleanupInterval      time.Duration
	ConnectivityInterval time.Duration

	// Rate Limit
	RateLimitGeneral int // req/min
}

// source は環境変数を優先し、なければ設定ファイルの値を返す。
type source struct {
	file map[string]string
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILEが指定されている場合はTOMLファイルを読み込み、環境変数が未設定のキーに使う。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src := &source{file: map[string]string{}}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = src.getString("DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "")
	cfg.SessionMaxAge = src.getInt("SESSION_MAX_AGE", 86400)
	cfg.CookieSecure = src.getBool("COOKIE_SECURE", false)
	cfg.CookieDomain = src.getString("COOKIE_DOMAIN", "")
	cfg.RemoteBaseURL = strings.TrimRight(src.getString("REMOTE_BASE_URL", "https://jsonplaceholder.typicode.com"), "/")
	cfg.RemoteTimeout = src.getDuration("REMOTE_TIMEOUT", 10*time.Second)
	cfg.RemoteMaxSize = src.getInt64("REMOTE_MAX_SIZE", 5242880)
	cfg.RemoteRateLimit = src.getFloat("REMOTE_RATE_LIMIT", 5)
	cfg.RemoteAllowPrivate = src.getBool("REMOTE_ALLOW_PRIVATE", false)
	cfg.PageSize = src.getInt("PAGE_SIZE", 20)
	cfg.MaxPageSize = src.getInt("MAX_PAGE_SIZE", 100)
	cfg.PrefetchPages = src.getInt("PREFETCH_PAGES", 3)
	cfg.FavoritesLimit = src.getInt("FAVORITES_LIMIT", 100)
	cfg.UndoHistorySize = src.getInt("UNDO_HISTORY_SIZE", 20)
	cfg.SearchHistorySize = src.getInt("SEARCH_HISTORY_SIZE", 50)
	cfg.RefreshMinInterval = src.getDuration("REFRESH_MIN_INTERVAL", 30*time.Second)
	cfg.RefreshMaxRetries = src.getInt("REFRESH_MAX_RETRIES", 3)
	cfg.CacheRetention = src.getDuration("CACHE_RETENTION", 168*time.Hour)
	cfg.CleanupInterval = src.getDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ConnectivityInterval = src.getDuration("CONNECTIVITY_INTERVAL", 30*time.Second)
	cfg.RateLimitGeneral = src.getInt("RATE_LIMIT_GENERAL", 120)

	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive: %d", cfg.PageSize)
	}
	if cfg.MaxPageSize < cfg.PageSize {
		return nil, fmt.Errorf("MAX_PAGE_SIZE (%d) must not be smaller than PAGE_SIZE (%d)", cfg.MaxPageSize, cfg.PageSize)
	}

	return cfg, nil
}

// loadFile はTOMLファイルを読み込み、キーを大文字の環境変数名に揃えて返す。
// ネストしたテーブルは扱わない。
func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file key %q must be a scalar value", k)
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s *source) getString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *source) getInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s *source) getInt64(key string, defaultVal int64) int64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s *source) getFloat(key string, defaultVal float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func (s *source) getBool(key string, defaultVal bool) bool {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
