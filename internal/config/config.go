// Package config builds the single configuration object the rest of
// the pipeline is constructed from. Everything comes from the
// environment (with defaults), optionally overlaid by the operator
// settings file edited through the control bot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Telegram settings (primary publish target)
	TelegramToken   string
	TelegramChatID  string
	TelegramAdminID int64 // operator allowed to drive the control bot

	// Operator settings file mutated through the control bot
	SettingsPath string

	// Facebook settings (secondary publish target)
	FacebookPageID string
	FacebookToken  string

	// Feed / scanner settings
	FeedURL     string // fallback when FeedsPath is absent
	FeedsPath   string // YAML feed list
	ArticlesDir string
	ScanLimit   int

	// Publication settings
	LedgerPath      string
	LedgerLimit     int
	BatchLimit      int
	ArticleDelay    time.Duration
	ChunkSize       int
	MediaBatchSize  int
	CatalogRetained int // retention sweep window, in article records

	// AI rewrite / translation settings
	OpenRouterAPIKey string
	OpenRouterModel  string
	OpenAIAPIKey     string
	GeminiAPIKey     string
	TargetLang       string

	// Media processing
	WatermarkPath  string
	WatermarkScale float64

	// Ledger backend: "file" (default) or "postgres"
	LedgerBackend string
	PostgresDSN   string

	// App settings
	Debug          bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		FeedURL:         "https://www.khmertimeskh.com/category/national/feed/",
		FeedsPath:       "feeds.yaml",
		ArticlesDir:     "articles",
		ScanLimit:       10,
		LedgerPath:      "articles/posted.json",
		LedgerLimit:     200,
		BatchLimit:      0, // 0 = no cap
		ArticleDelay:    10 * time.Second,
		ChunkSize:       4096,
		MediaBatchSize:  10,
		CatalogRetained: 300,
		OpenRouterModel: "google/gemini-2.0-flash-lite-preview-02-05:free",
		TargetLang:      "ru",
		WatermarkPath:   "watermark.png",
		WatermarkScale:  0.35,
		LedgerBackend:   "file",
		RequestTimeout:  30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      5 * time.Second,
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	if v := os.Getenv("TELEGRAM_ADMIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramAdminID = id
		}
	}
	cfg.SettingsPath = getEnvOrDefault("SETTINGS_PATH", "settings.json")
	cfg.FacebookPageID = os.Getenv("FACEBOOK_PAGE_ID")
	cfg.FacebookToken = os.Getenv("FACEBOOK_TOKEN")

	cfg.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	cfg.FeedURL = getEnvOrDefault("FEED_URL", cfg.FeedURL)
	cfg.FeedsPath = getEnvOrDefault("FEEDS_PATH", cfg.FeedsPath)
	cfg.ArticlesDir = getEnvOrDefault("ARTICLES_DIR", cfg.ArticlesDir)
	cfg.LedgerPath = getEnvOrDefault("LEDGER_PATH", cfg.LedgerPath)
	cfg.LedgerBackend = getEnvOrDefault("LEDGER_BACKEND", cfg.LedgerBackend)
	cfg.PostgresDSN = os.Getenv("DATABASE_URL")
	cfg.TargetLang = getEnvOrDefault("TARGET_LANG", cfg.TargetLang)
	cfg.OpenRouterModel = getEnvOrDefault("OPENROUTER_MODEL", cfg.OpenRouterModel)
	cfg.WatermarkPath = getEnvOrDefault("WATERMARK_PATH", cfg.WatermarkPath)

	cfg.ScanLimit = getEnvIntOrDefault("SCAN_LIMIT", cfg.ScanLimit)
	cfg.LedgerLimit = getEnvIntOrDefault("LEDGER_LIMIT", cfg.LedgerLimit)
	cfg.BatchLimit = getEnvIntOrDefault("BATCH_LIMIT", cfg.BatchLimit)
	cfg.ChunkSize = getEnvIntOrDefault("CHUNK_SIZE", cfg.ChunkSize)
	cfg.MediaBatchSize = getEnvIntOrDefault("MEDIA_BATCH_SIZE", cfg.MediaBatchSize)
	cfg.CatalogRetained = getEnvIntOrDefault("CATALOG_RETAINED", cfg.CatalogRetained)
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)

	if v := os.Getenv("ARTICLE_DELAY_SECONDS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			cfg.ArticleDelay = time.Duration(val) * time.Second
		}
	}
	if v := os.Getenv("WATERMARK_SCALE"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 && val < 1 {
			cfg.WatermarkScale = val
		}
	}
	if os.Getenv("DEBUG") == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

// Settings is the operator-editable subset persisted to settings.json
// and mutated through the control bot.
type Settings struct {
	Channel        string `json:"telegram_channel,omitempty"`
	BatchLimit     int    `json:"limit,omitempty"`
	DelaySeconds   int    `json:"delay_seconds,omitempty"`
	PublishedReset bool   `json:"published_reset,omitempty"`
}

// ApplySettings overlays the operator settings file on top of the
// environment config. A missing file is not an error.
func (c *Config) ApplySettings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings: %v", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse settings: %v", err)
	}

	if s.Channel != "" {
		c.TelegramChatID = s.Channel
	}
	if s.BatchLimit > 0 {
		c.BatchLimit = s.BatchLimit
	}
	if s.DelaySeconds > 0 {
		c.ArticleDelay = time.Duration(s.DelaySeconds) * time.Second
	}
	return nil
}

// TelegramEnabled reports whether the Telegram adapter has credentials.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// FacebookEnabled reports whether the Facebook adapter has credentials.
func (c *Config) FacebookEnabled() bool {
	return c.FacebookPageID != "" && c.FacebookToken != ""
}

// Validate checks presence of the inputs the run cannot start without.
// A single missing platform only disables that adapter; missing
// credentials for every platform abort before any state is touched.
func (c *Config) Validate() error {
	if c.ArticlesDir == "" {
		return fmt.Errorf("ARTICLES_DIR is required")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("LEDGER_PATH is required")
	}
	if !c.TelegramEnabled() && !c.FacebookEnabled() {
		return fmt.Errorf("no publish destination configured: set TELEGRAM_TOKEN/TELEGRAM_CHAT_ID or FACEBOOK_PAGE_ID/FACEBOOK_TOKEN")
	}
	if c.LedgerBackend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
