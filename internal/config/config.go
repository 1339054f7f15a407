// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// exits with an error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"jobmate/pipeline-service/internal/secrets"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all runtime configuration for the pipeline service.
type Config struct {
	StoreDriver       string
	DatabaseURL       string
	SQLitePath        string
	RedisURL          string // empty selects the in-process queue broker
	Port              string
	GRPCPort          string
	ScrapeInterval    time.Duration
	AdzunaAppID       string
	AdzunaAppKey      string
	AdzunaCountry     string // e.g. "gb", "us", "fr"
	ProxyURL          string
	CaptchaAPIKey     string
	SchedulerLockFile string
	SlackWebhookURL   string
	LogLevel          slog.Level
	IMAP              IMAP

	// File is the optional overlay named by CONFIG_FILE.
	File File
}

// IMAP configures the inbox watcher.
type IMAP struct {
	Addr              string
	Username          string
	Password          string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
	OAuthTokenURL     string
	Poll              time.Duration
}

// Enabled reports whether enough is configured to log in.
func (i IMAP) Enabled() bool {
	return i.Addr != "" && i.Username != "" && (i.Password != "" || i.UsesOAuth())
}

// UsesOAuth reports whether the inbox authenticates with a refresh token.
func (i IMAP) UsesOAuth() bool {
	return i.OAuthRefreshToken != "" && i.OAuthClientID != ""
}

// Load reads environment variables, overlaid by CONFIG_FILE when set, and
// returns a validated Config. Environment variables always win over file
// values.
func Load() (*Config, error) {
	var file File
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file = *f
	}
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(file.Env[key])
	}
	or := func(key, def string) string {
		if v := get(key); v != "" {
			return v
		}
		return def
	}

	driver := strings.ToLower(or("STORE_DRIVER", DriverPostgres))
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, driver)
	}

	dbURL := get("DATABASE_URL")
	if driver == DriverPostgres && dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	interval, err := positiveInt(get("SCRAPE_INTERVAL_MINUTES"), 45, "SCRAPE_INTERVAL_MINUTES")
	if err != nil {
		return nil, err
	}
	imapPoll, err := positiveInt(get("IMAP_POLL_SECONDS"), 120, "IMAP_POLL_SECONDS")
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if s := get("LOG_LEVEL"); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
		}
	}

	for q, n := range file.Concurrency {
		if n < 1 {
			return nil, fmt.Errorf("concurrency for queue %q must be positive, got %d", q, n)
		}
	}

	imapUser := get("IMAP_USERNAME")
	imapAddr := get("IMAP_ADDR")

	return &Config{
		StoreDriver:       driver,
		DatabaseURL:       dbURL,
		SQLitePath:        or("SQLITE_PATH", "./pipeline.db"),
		RedisURL:          get("REDIS_URL"),
		Port:              or("PIPELINE_PORT", "8083"),
		GRPCPort:          or("GRPC_PORT", "9093"),
		ScrapeInterval:    time.Duration(interval) * time.Minute,
		AdzunaAppID:       get("ADZUNA_APP_ID"),
		AdzunaAppKey:      get("ADZUNA_APP_KEY"),
		AdzunaCountry:     or("ADZUNA_COUNTRY", "gb"),
		ProxyURL:          secrets.Optional(get("SCRAPER_PROXY_URL"), secrets.AccountProxy),
		CaptchaAPIKey:     secrets.Optional(get("CAPTCHA_API_KEY"), secrets.AccountCaptcha),
		SchedulerLockFile: get("SCHEDULER_LOCK_FILE"),
		SlackWebhookURL:   get("SLACK_WEBHOOK_URL"),
		LogLevel:          level,
		IMAP: IMAP{
			Addr:              imapAddr,
			Username:          imapUser,
			Password:          imapPassword(get("IMAP_PASSWORD"), imapUser, imapAddr),
			OAuthClientID:     get("IMAP_OAUTH_CLIENT_ID"),
			OAuthClientSecret: get("IMAP_OAUTH_CLIENT_SECRET"),
			OAuthRefreshToken: get("IMAP_OAUTH_REFRESH_TOKEN"),
			OAuthTokenURL:     get("IMAP_OAUTH_TOKEN_URL"),
			Poll:              time.Duration(imapPoll) * time.Second,
		},
		File: file,
	}, nil
}

func imapPassword(env, user, addr string) string {
	if env != "" || user == "" || addr == "" {
		return env
	}
	return secrets.Optional("", secrets.IMAPAccount(user, addr))
}

func positiveInt(s string, def int, name string) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}
