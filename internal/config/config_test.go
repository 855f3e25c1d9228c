package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"COUNTRY", "CATEGORY_LIMIT", "FETCH_MODE", "SCRAPER_CONCURRENT_LIMIT", "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "DB_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DE", cfg.Crawl.Country)
	assert.Equal(t, "https://www.trustpilot.com", cfg.Crawl.BaseURL)
	assert.Equal(t, 2, cfg.Crawl.CategoryLimit)
	assert.Equal(t, FetchModeHTTP, cfg.Scraper.FetchMode)
	assert.Equal(t, 4, cfg.Scraper.ConcurrentLimit)
	assert.False(t, cfg.Database.Enabled)
	assert.Empty(t, cfg.Scraper.HTTPSProxy)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COUNTRY", "gb")
	t.Setenv("CATEGORY_LIMIT", "-1")
	t.Setenv("FETCH_MODE", "Browser")
	t.Setenv("SCRAPER_RATE_LIMIT_MIN", "200ms")
	t.Setenv("SCRAPER_RATE_LIMIT_MAX", "1s")
	t.Setenv("PROXY_LIST", "http://p1:1, http://p2:1,,")
	t.Setenv("SCHEDULE_CRON", "0 3 * * *")
	t.Setenv("SCHEDULE_COUNTRIES", "DE,GB")
	t.Setenv("DB_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "GB", cfg.Crawl.Country)
	assert.Equal(t, -1, cfg.Crawl.CategoryLimit)
	assert.Equal(t, FetchModeBrowser, cfg.Scraper.FetchMode)
	assert.Equal(t, 200*time.Millisecond, cfg.Scraper.RateLimitMin)
	assert.Equal(t, []string{"http://p1:1", "http://p2:1"}, cfg.Scraper.ProxyList)
	assert.Equal(t, []string{"DE", "GB"}, cfg.Schedule.Countries)
	assert.True(t, cfg.Database.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SCRAPER_CONCURRENT_LIMIT", "many")
	t.Setenv("SCRAPER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scraper.ConcurrentLimit)
	assert.Equal(t, 30*time.Second, cfg.Scraper.Timeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Crawl: CrawlConfig{Country: "DE", BaseURL: "https://www.trustpilot.com"},
			Scraper: ScraperConfig{
				FetchMode:       FetchModeHTTP,
				RateLimitMin:    time.Second,
				RateLimitMax:    3 * time.Second,
				ConcurrentLimit: 4,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad country", func(c *Config) { c.Crawl.Country = "DEU" }, "COUNTRY"},
		{"relative base url", func(c *Config) { c.Crawl.BaseURL = "/categories" }, "BASE_URL"},
		{"no workers", func(c *Config) { c.Scraper.ConcurrentLimit = 0 }, "SCRAPER_CONCURRENT_LIMIT"},
		{"inverted delays", func(c *Config) { c.Scraper.RateLimitMin = time.Minute }, "SCRAPER_RATE_LIMIT_MIN"},
		{"negative retries", func(c *Config) { c.Scraper.MaxRetries = -1 }, "SCRAPER_MAX_RETRIES"},
		{"unknown fetch mode", func(c *Config) { c.Scraper.FetchMode = "curl" }, "FETCH_MODE"},
		{"bad cron", func(c *Config) { c.Schedule = ScheduleConfig{Cron: "every day", Countries: []string{"DE"}} }, "SCHEDULE_CRON"},
		{"cron without countries", func(c *Config) { c.Schedule = ScheduleConfig{Cron: "@daily"} }, "SCHEDULE_COUNTRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestOutputFor(t *testing.T) {
	c := CrawlConfig{OutputDir: "output/"}
	assert.Equal(t, "output/output_de.json", c.OutputFor("DE"))

	c.OutputDir = ""
	assert.Equal(t, "output_gb.json", c.OutputFor("GB"))

	c.OutputPath = "custom.jsonl"
	assert.Equal(t, "custom.jsonl", c.OutputFor("DE"))
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "scraper", Password: "p@ss", DBName: "reviews", SSLMode: "disable"}
	assert.Equal(t, "postgres://scraper:p%40ss@db:5432/reviews?sslmode=disable", c.DSN())
}
