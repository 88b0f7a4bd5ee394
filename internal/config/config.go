package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/collector"
	"github.com/maltedev/price-scraper/internal/dispatcher"
)

const (
	ProviderEngine   = "engine"
	ProviderFallback = "fallback"
)

type Config struct {
	Server     ServerConfig
	Collection CollectionConfig
	Browser    BrowserConfig
	Provider   string
	History    HistoryConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type CollectionConfig struct {
	Stores           []string
	CollectorTimeout time.Duration
	RenderWait       time.Duration
	MaxListings      int
	Concurrency      int
	StoreRateLimit   float64
	StoreRateBurst   int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type HistoryConfig struct {
	Enabled       bool
	RelayInterval time.Duration
	RelayBatch    int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file, then the environment, and validates
// the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	defaults := browser.DefaultOptions()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			Host:            getEnv("HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Collection: CollectionConfig{
			Stores:           getEnvSlice("STORES", []string{"walmart"}),
			CollectorTimeout: getEnvDuration("COLLECTOR_TIMEOUT", 20*time.Second),
			RenderWait:       getEnvDuration("RENDER_WAIT", 10*time.Second),
			MaxListings:      getEnvInt("MAX_LISTINGS", 3),
			Concurrency:      getEnvInt("COLLECTOR_CONCURRENCY", 0),
			StoreRateLimit:   getEnvFloat("STORE_RATE_LIMIT", 1),
			StoreRateBurst:   getEnvInt("STORE_RATE_BURST", 1),
		},
		Browser: BrowserConfig{
			Headless:       getEnvBool("BROWSER_HEADLESS", true),
			Timeout:        getEnvDuration("BROWSER_TIMEOUT", defaults.Timeout),
			UserAgent:      getEnv("BROWSER_USER_AGENT", defaults.UserAgent),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", defaults.ViewportWidth),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", defaults.ViewportHeight),
			AcceptLanguage: getEnv("BROWSER_ACCEPT_LANGUAGE", defaults.AcceptLanguage),
			TimezoneID:     getEnv("BROWSER_TIMEZONE", defaults.TimezoneID),
			Locale:         getEnv("BROWSER_LOCALE", defaults.Locale),
			ProxyServer:    getEnv("BROWSER_PROXY", ""),
		},
		Provider: strings.ToLower(getEnv("PRICE_PROVIDER", ProviderEngine)),
		History: HistoryConfig{
			Enabled:       getEnvBool("HISTORY_ENABLED", false),
			RelayInterval: getEnvDuration("RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getEnvInt("RELAY_BATCH_SIZE", 100),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "price_scraper"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Provider != ProviderEngine && c.Provider != ProviderFallback {
		return fmt.Errorf("PRICE_PROVIDER must be %q or %q, got %q", ProviderEngine, ProviderFallback, c.Provider)
	}

	if c.Provider == ProviderEngine {
		if len(c.Collection.Stores) == 0 {
			return fmt.Errorf("STORES must name at least one store")
		}
		for _, s := range c.Collection.Stores {
			if _, err := collector.LookupRetailer(s); err != nil {
				return fmt.Errorf("STORES: %w", err)
			}
		}
	}

	if c.Collection.CollectorTimeout <= 0 {
		return fmt.Errorf("COLLECTOR_TIMEOUT must be positive")
	}

	if c.Collection.RenderWait <= 0 {
		return fmt.Errorf("RENDER_WAIT must be positive")
	}

	if c.Collection.RenderWait > c.Collection.CollectorTimeout {
		return fmt.Errorf("RENDER_WAIT cannot be greater than COLLECTOR_TIMEOUT")
	}

	if c.Collection.MaxListings < 1 {
		return fmt.Errorf("MAX_LISTINGS must be at least 1")
	}

	if c.Collection.Concurrency < 0 {
		return fmt.Errorf("COLLECTOR_CONCURRENCY cannot be negative")
	}

	if c.History.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required when history is enabled")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required when history is enabled")
		}
		if c.History.RelayBatch < 1 {
			return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
		}
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.UserAgent = c.Browser.UserAgent
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.ProxyServer
	return opts
}

func (c *Config) CollectorOptions() collector.Options {
	return collector.Options{
		MaxListings: c.Collection.MaxListings,
		RenderWait:  c.Collection.RenderWait,
	}
}

func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Timeout:     c.Collection.CollectorTimeout,
		Concurrency: c.Collection.Concurrency,
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
