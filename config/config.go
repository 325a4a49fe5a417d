package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Files
	TargetsFile    string
	StrategyConfig string
	FlagDir        string
	DataDir        string

	// Storage
	SQLitePath     string
	SignalDBDriver string // sqlite | postgres
	SignalDBDSN    string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HTTPAddr      string
	JWTSecret     string
	PyroscopeAddr string

	// Market data
	Provider      string // smartapi | alpaca | twelvedata
	FetchBars     int
	MarketHours   bool
	ProviderCreds ProviderCreds

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxMB      int64
	LogMaxBackups int

	// Notifications
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	WebhookSecret  string
}

// ProviderCreds are the credentials of every supported market data provider.
// Only the selected provider's are required.
type ProviderCreds struct {
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	AlpacaKey    string
	AlpacaSecret string
	AlpacaFeed   string

	TwelveDataKey string
}

// Load reads a .env file if present, then the environment, with sensible
// defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using process environment")
	}

	return &Config{
		TargetsFile:    getEnv("TARGETS_FILE", "config/targets.csv"),
		StrategyConfig: getEnv("STRATEGY_CONFIG", "config/strategy_config.json"),
		FlagDir:        getEnv("FLAG_DIR", "config"),
		DataDir:        getEnv("DATA_DIR", "data"),

		SQLitePath:     getEnv("SQLITE_PATH", "data/bars.db"),
		SignalDBDriver: getEnv("SIGNAL_DB_DRIVER", "sqlite"),
		SignalDBDSN:    getEnv("SIGNAL_DB_DSN", "data/signals.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9090"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		PyroscopeAddr: getEnv("PYROSCOPE_ADDR", ""),

		Provider:    strings.ToLower(getEnv("MARKET_PROVIDER", "smartapi")),
		FetchBars:   getEnvInt("FETCH_BARS", 240),
		MarketHours: getEnvBool("MARKET_HOURS", true),
		ProviderCreds: ProviderCreds{
			AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
			AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
			AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
			AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),
			AlpacaKey:       getEnv("APCA_API_KEY_ID", ""),
			AlpacaSecret:    getEnv("APCA_API_SECRET_KEY", ""),
			AlpacaFeed:      getEnv("APCA_FEED", "iex"),
			TwelveDataKey:   getEnv("TWELVE_DATA_API_KEY", ""),
		},

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxMB:      int64(getEnvInt("LOG_MAX_MB", 10)),
		LogMaxBackups: getEnvInt("LOG_BACKUPS", 3),

		TelegramToken:  getEnv("NOTIFY_TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("NOTIFY_TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("NOTIFY_WEBHOOK_SECRET", ""),
	}
}

// Validate checks that the selected provider has its credentials.
func (c *Config) Validate() error {
	var missing []string
	need := func(key, v string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	p := c.ProviderCreds
	switch c.Provider {
	case "smartapi":
		need("ANGEL_API_KEY", p.AngelAPIKey)
		need("ANGEL_CLIENT_CODE", p.AngelClientCode)
		need("ANGEL_PASSWORD", p.AngelPassword)
		need("ANGEL_TOTP_SECRET", p.AngelTOTPSecret)
	case "alpaca":
		need("APCA_API_KEY_ID", p.AlpacaKey)
		need("APCA_API_SECRET_KEY", p.AlpacaSecret)
	case "twelvedata":
		need("TWELVE_DATA_API_KEY", p.TwelveDataKey)
	default:
		return fmt.Errorf("unknown MARKET_PROVIDER %q", c.Provider)
	}
	if c.FetchBars <= 0 {
		return fmt.Errorf("FETCH_BARS must be positive, got %d", c.FetchBars)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars for %s: %s", c.Provider, strings.Join(missing, ", "))
	}
	return nil
}

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
