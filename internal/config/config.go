package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Crawl    CrawlConfig
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig
}

type CrawlConfig struct {
	Country       string
	BaseURL       string
	SiteDomain    string
	CategoryLimit int
	OutputPath    string
	OutputDir     string
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	FetchMode         string
	RateLimitMode     string
	RateLimitMin      time.Duration
	RateLimitMax      time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
	ConcurrentLimit   int
	UserAgents        []string
	Proxy             string
	ProxyList         []string
	ProxyFile         string
	HTTPSProxy        string
	HTTPProxy         string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Locale         string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PollInterval time.Duration
	BatchSize    int
}

type ScheduleConfig struct {
	Cron      string
	Countries []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

// Load reads configuration from the environment. A .env file in the working
// directory, when present, fills variables that are not already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Crawl: CrawlConfig{
			Country:       strings.ToUpper(getEnvOrDefault("COUNTRY", "DE")),
			BaseURL:       getEnvOrDefault("BASE_URL", "https://www.trustpilot.com"),
			SiteDomain:    getEnvOrDefault("SITE_DOMAIN", "trustpilot.com"),
			CategoryLimit: getIntOrDefault("CATEGORY_LIMIT", 2),
			OutputPath:    getEnvOrDefault("OUTPUT_PATH", ""),
			OutputDir:     getEnvOrDefault("OUTPUT_DIR", "output"),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			FetchMode:         strings.ToLower(getEnvOrDefault("FETCH_MODE", FetchModeHTTP)),
			RateLimitMode:     getEnvOrDefault("SCRAPER_RATE_LIMIT_MODE", "adaptive"),
			RateLimitMin:      getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", time.Second),
			RateLimitMax:      getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 3*time.Second),
			RequestsPerSecond: getFloatOrDefault("SCRAPER_REQUESTS_PER_SECOND", 1),
			Burst:             getIntOrDefault("SCRAPER_BURST", 1),
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:        getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			Timeout:           getDurationOrDefault("SCRAPER_TIMEOUT", 30*time.Second),
			ConcurrentLimit:   getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 4),
			UserAgents:        getStringSliceOrDefault("SCRAPER_USER_AGENTS", nil),
			Proxy:             getEnvOrDefault("PROXY", ""),
			ProxyList:         getStringSliceOrDefault("PROXY_LIST", nil),
			ProxyFile:         getEnvOrDefault("PROXY_FILE", ""),
			HTTPSProxy:        getEnvOrDefault("HTTPS_PROXY", os.Getenv("https_proxy")),
			HTTPProxy:         getEnvOrDefault("HTTP_PROXY", os.Getenv("http_proxy")),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "trustpilot_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Schedule: ScheduleConfig{
			Cron:      getEnvOrDefault("SCHEDULE_CRON", ""),
			Countries: getStringSliceOrDefault("SCHEDULE_COUNTRIES", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Crawl.Country) != 2 {
		return fmt.Errorf("COUNTRY must be a two-letter country code, got %q", c.Crawl.Country)
	}

	if u, err := url.Parse(c.Crawl.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute URL, got %q", c.Crawl.BaseURL)
	}

	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	switch c.Scraper.FetchMode {
	case FetchModeHTTP, FetchModeBrowser:
	default:
		return fmt.Errorf("FETCH_MODE must be %q or %q, got %q", FetchModeHTTP, FetchModeBrowser, c.Scraper.FetchMode)
	}

	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("SCHEDULE_CRON is invalid: %w", err)
		}
		if len(c.Schedule.Countries) == 0 {
			return fmt.Errorf("SCHEDULE_COUNTRIES is required when SCHEDULE_CRON is set")
		}
	}

	return nil
}

// OutputFor is the export path for a crawl of country. OUTPUT_PATH wins;
// otherwise output_<cc>.json in OutputDir.
func (c *CrawlConfig) OutputFor(country string) string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	name := fmt.Sprintf("output_%s.json", strings.ToLower(country))
	if c.OutputDir == "" {
		return name
	}
	return strings.TrimRight(c.OutputDir, "/") + "/" + name
}

func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
