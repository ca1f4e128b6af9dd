package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// TMDB holds the metadata API settings
type TMDB struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Language          string  `toml:"language"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Embed holds the embed provider settings
type Embed struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// Cache holds the freshness and retention windows of cached records
type Cache struct {
	Freshness Duration `toml:"freshness"`
	Retention Duration `toml:"retention"`
}

// Crawl holds the full-catalog crawl settings
type Crawl struct {
	Lookahead    int `toml:"lookahead"`
	Concurrency  int `toml:"concurrency"`
	MaxPages     int `toml:"max_pages"`
	SeedMaxPages int `toml:"seed_max_pages"`
	FilterBatch  int `toml:"filter_batch"`
}

// Backfill holds the episode/season backfill worker settings
type Backfill struct {
	InitialConcurrency int      `toml:"initial_concurrency"`
	MinConcurrency     int      `toml:"min_concurrency"`
	MaxConcurrency     int      `toml:"max_concurrency"`
	BatchSize          int      `toml:"batch_size"`
	FlushSize          int      `toml:"flush_size"`
	RetryAttempts      int      `toml:"retry_attempts"`
	RetryDelay         Duration `toml:"retry_delay"`
	RateLimitWait      Duration `toml:"rate_limit_wait"`
	MonitorInterval    Duration `toml:"monitor_interval"`
}

// Schedule holds cron specs (seconds field included) for maintenance jobs
type Schedule struct {
	Popular string `toml:"popular"`
	Cleanup string `toml:"cleanup"`
}

// Admin holds the admin panel credentials
type Admin struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordHash string `toml:"password_hash"`
}

// Email holds SMTP settings for maintenance reports
type Email struct {
	SMTPHost       string `toml:"smtp_host"`
	SMTPPort       int    `toml:"smtp_port"`
	SenderEmail    string `toml:"sender"`
	SenderPassword string `toml:"password"`
	RecipientEmail string `toml:"recipient"`
}

// Log holds log file rotation settings
type Log struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config is the full application configuration
type Config struct {
	DataPath     string  `toml:"data_path"`
	HTTPAddr     string  `toml:"http_addr"`
	RunMode      string  `toml:"run_mode"`
	CronSecret   string  `toml:"cron_secret"`
	APIRateLimit float64 `toml:"api_rate_limit"`
	// TrustedProxies are the addresses or CIDR ranges of reverse proxies
	// whose X-Forwarded-For and X-Real-IP headers name the client
	TrustedProxies []string `toml:"trusted_proxies"`

	TMDB     TMDB     `toml:"tmdb"`
	Embed    Embed    `toml:"embed"`
	Cache    Cache    `toml:"cache"`
	Crawl    Crawl    `toml:"crawl"`
	Backfill Backfill `toml:"backfill"`
	Schedule Schedule `toml:"schedule"`
	Admin    Admin    `toml:"admin"`
	Email    Email    `toml:"email"`
	Log      Log      `toml:"log"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		DataPath:     "./data",
		HTTPAddr:     ":3000",
		RunMode:      "server",
		APIRateLimit: 10,
		TMDB: TMDB{
			BaseURL:           "https://api.themoviedb.org/3",
			Language:          "en-US",
			RequestsPerSecond: 40,
		},
		Embed: Embed{
			BaseURL: "https://vidsrc.xyz",
			Timeout: Duration(10 * time.Second),
		},
		Cache: Cache{
			Freshness: Duration(24 * time.Hour),
			Retention: Duration(7 * 24 * time.Hour),
		},
		Crawl: Crawl{
			Lookahead:    3,
			Concurrency:  5,
			MaxPages:     500,
			SeedMaxPages: 100,
			FilterBatch:  10,
		},
		Backfill: Backfill{
			InitialConcurrency: 25,
			MinConcurrency:     10,
			MaxConcurrency:     50,
			BatchSize:          50,
			FlushSize:          100,
			RetryAttempts:      3,
			RetryDelay:         Duration(200 * time.Millisecond),
			RateLimitWait:      Duration(time.Second),
			MonitorInterval:    Duration(30 * time.Second),
		},
		Schedule: Schedule{
			Popular: "0 0 */6 * * *",
			Cleanup: "0 30 3 * * *",
		},
		Admin: Admin{
			Username: "admin",
		},
		Email: Email{
			SMTPPort: 587,
		},
		Log: Log{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	log.Printf("Loaded configuration from %s", path)
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.DataPath, "DATA_PATH")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.RunMode, "RUN_MODE")
	setString(&c.CronSecret, "CRON_SECRET")
	setFloat(&c.APIRateLimit, "API_RATE_LIMIT")
	setList(&c.TrustedProxies, "TRUSTED_PROXIES")

	setString(&c.TMDB.APIKey, "TMDB_API_KEY")
	setString(&c.TMDB.BaseURL, "TMDB_BASE_URL")
	setString(&c.TMDB.Language, "TMDB_LANGUAGE")
	setFloat(&c.TMDB.RequestsPerSecond, "TMDB_RPS")

	setString(&c.Embed.BaseURL, "EMBED_BASE_URL")
	setDuration(&c.Embed.Timeout, "EMBED_TIMEOUT")

	setDuration(&c.Cache.Freshness, "CACHE_FRESHNESS")
	setDuration(&c.Cache.Retention, "CACHE_RETENTION")

	setInt(&c.Crawl.Lookahead, "CRAWL_LOOKAHEAD")
	setInt(&c.Crawl.Concurrency, "CRAWL_CONCURRENCY")
	setInt(&c.Crawl.MaxPages, "CRAWL_MAX_PAGES")
	setInt(&c.Crawl.SeedMaxPages, "SEED_MAX_PAGES")
	setInt(&c.Crawl.FilterBatch, "CHECK_BATCH_SIZE")

	setInt(&c.Backfill.InitialConcurrency, "BACKFILL_CONCURRENCY")
	setInt(&c.Backfill.MinConcurrency, "BACKFILL_MIN_CONCURRENCY")
	setInt(&c.Backfill.MaxConcurrency, "BACKFILL_MAX_CONCURRENCY")
	setInt(&c.Backfill.BatchSize, "BACKFILL_BATCH_SIZE")
	setInt(&c.Backfill.FlushSize, "BACKFILL_FLUSH_SIZE")
	setInt(&c.Backfill.RetryAttempts, "BACKFILL_RETRY_ATTEMPTS")
	setDuration(&c.Backfill.RetryDelay, "BACKFILL_RETRY_DELAY")
	setDuration(&c.Backfill.RateLimitWait, "BACKFILL_RATE_LIMIT_WAIT")
	setDuration(&c.Backfill.MonitorInterval, "BACKFILL_MONITOR_INTERVAL")

	setString(&c.Schedule.Popular, "POPULAR_SCHEDULE")
	setString(&c.Schedule.Cleanup, "CLEANUP_SCHEDULE")

	setString(&c.Admin.Username, "ADMIN_USERNAME")
	setString(&c.Admin.Password, "ADMIN_PASSWORD")
	setString(&c.Admin.PasswordHash, "ADMIN_PASSWORD_HASH")

	setString(&c.Email.SMTPHost, "EMAIL_SMTP_HOST")
	setInt(&c.Email.SMTPPort, "EMAIL_SMTP_PORT")
	setString(&c.Email.SenderEmail, "EMAIL_SENDER")
	setString(&c.Email.SenderPassword, "EMAIL_PASSWORD")
	setString(&c.Email.RecipientEmail, "EMAIL_RECIPIENT")

	setString(&c.Log.File, "LOG_FILE")
	setInt(&c.Log.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&c.Log.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&c.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	setBool(&c.Log.Compress, "LOG_COMPRESS")
}

// Validate checks the settings a process needs before it starts working.
// Maintenance commands pass requireCatalog so a missing API key is fatal.
func (c Config) Validate(requireCatalog bool) error {
	var problems []string
	if strings.TrimSpace(c.DataPath) == "" {
		problems = append(problems, "DATA_PATH is not set")
	}
	if requireCatalog && strings.TrimSpace(c.TMDB.APIKey) == "" {
		problems = append(problems, "TMDB_API_KEY is not set")
	}
	if c.Backfill.MinConcurrency <= 0 || c.Backfill.MinConcurrency > c.Backfill.MaxConcurrency {
		problems = append(problems, "backfill concurrency bounds are invalid")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// EmailEnabled reports whether maintenance reports can be mailed
func (c Config) EmailEnabled() bool {
	return c.Email.SMTPHost != "" && c.Email.RecipientEmail != ""
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("Invalid %s '%s', keeping %d", key, v, *dst)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("Invalid %s '%s', keeping %v", key, v, *dst)
		return
	}
	*dst = f
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("Invalid %s '%s', keeping %v", key, v, *dst)
		return
	}
	*dst = b
}

func setDuration(dst *Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := parseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Printf("Invalid %s '%s', keeping %s", key, v, time.Duration(*dst))
		return
	}
	*dst = Duration(d)
}
