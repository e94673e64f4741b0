package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from an optional TOML file and
// environment variables. Environment variables take precedence.
type Config struct {
	SlackWebhookURL       string
	CalendarID            string
	CalendarICSURL        string
	GoogleCredentialsPath string
	GoogleTokenPath       string
	GoogleAccount         string
	GoogleAuthCode        string
	DatabaseURL           string
	SQLitePath            string
	LocalTimezone         *time.Location
	ReminderOffset        time.Duration
	DigestSchedule        string
	Notifier              string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioWhatsAppNumber  string
	TwilioWhatsAppTo      string
	HTTPTimeout           time.Duration
	LogLevel              string
}

// fileConfig mirrors the keys accepted in the TOML config file.
type fileConfig struct {
	SlackWebhookURL       string `toml:"slack_webhook_url"`
	CalendarID            string `toml:"calendar_id"`
	CalendarICSURL        string `toml:"calendar_ics_url"`
	GoogleCredentialsPath string `toml:"google_credentials_path"`
	GoogleTokenPath       string `toml:"google_token_path"`
	GoogleAccount         string `toml:"google_account"`
	DatabaseURL           string `toml:"database_url"`
	SQLitePath            string `toml:"sqlite_path"`
	LocalTimezone         string `toml:"local_timezone"`
	ReminderOffsetMinutes int    `toml:"reminder_offset_minutes"`
	DigestSchedule        string `toml:"digest_schedule"`
	Notifier              string `toml:"notifier"`
	TwilioAccountSID      string `toml:"twilio_account_sid"`
	TwilioAuthToken       string `toml:"twilio_auth_token"`
	TwilioWhatsAppNumber  string `toml:"twilio_whatsapp_number"`
	TwilioWhatsAppTo      string `toml:"twilio_whatsapp_to"`
	HTTPTimeoutSeconds    int    `toml:"http_timeout_seconds"`
	LogLevel              string `toml:"log_level"`
}

// Accepted NOTIFIER values.
const (
	NotifierSlack  = "slack"
	NotifierTwilio = "twilio"

	defaultReminderOffsetMinutes = 2
	defaultHTTPTimeoutSeconds    = 30
)

// Load reads configuration values and prepares defaults where applicable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	file, err := readFile(getenvDefault("CONFIG_FILE", "mtgnotif.toml"))
	if err != nil {
		return nil, err
	}

	timezoneName := getenvDefault("LOCAL_TIMEZONE", fallback(file.LocalTimezone, "Local"))
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	offset := ParseIntEnv("REMINDER_OFFSET_MINUTES", positiveOr(file.ReminderOffsetMinutes, defaultReminderOffsetMinutes))
	if offset <= 0 {
		offset = defaultReminderOffsetMinutes
	}
	timeout := positiveOr(ParseIntEnv("HTTP_TIMEOUT_SECONDS", positiveOr(file.HTTPTimeoutSeconds, defaultHTTPTimeoutSeconds)), defaultHTTPTimeoutSeconds)

	cfg := &Config{
		SlackWebhookURL:       getenvDefault("SLACK_WEBHOOK_URL", file.SlackWebhookURL),
		CalendarID:            getenvDefault("CALENDAR_ID", file.CalendarID),
		CalendarICSURL:        getenvDefault("CALENDAR_ICS_URL", file.CalendarICSURL),
		GoogleCredentialsPath: getenvDefault("GOOGLE_CREDENTIALS_PATH", fallback(file.GoogleCredentialsPath, "credentials.json")),
		GoogleTokenPath:       getenvDefault("GOOGLE_TOKEN_PATH", fallback(file.GoogleTokenPath, "token.json")),
		GoogleAccount:         getenvDefault("GOOGLE_ACCOUNT", fallback(file.GoogleAccount, "default")),
		GoogleAuthCode:        os.Getenv("GOOGLE_AUTH_CODE"),
		DatabaseURL:           getenvDefault("DATABASE_URL", file.DatabaseURL),
		SQLitePath:            getenvDefault("SQLITE_PATH", fallback(file.SQLitePath, "mtgnotif.db")),
		LocalTimezone:         location,
		ReminderOffset:        time.Duration(offset) * time.Minute,
		DigestSchedule:        getenvDefault("DIGEST_SCHEDULE", file.DigestSchedule),
		Notifier:              strings.ToLower(getenvDefault("NOTIFIER", fallback(file.Notifier, NotifierSlack))),
		TwilioAccountSID:      getenvDefault("TWILIO_ACCOUNT_SID", file.TwilioAccountSID),
		TwilioAuthToken:       getenvDefault("TWILIO_AUTH_TOKEN", file.TwilioAuthToken),
		TwilioWhatsAppNumber:  getenvDefault("TWILIO_WHATSAPP_NUMBER", file.TwilioWhatsAppNumber),
		TwilioWhatsAppTo:      getenvDefault("TWILIO_WHATSAPP_TO", file.TwilioWhatsAppTo),
		HTTPTimeout:           time.Duration(timeout) * time.Second,
		LogLevel:              getenvDefault("LOG_LEVEL", fallback(file.LogLevel, "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings required by the selected calendar source
// and notifier are present.
func (c *Config) Validate() error {
	var problems []string

	if c.CalendarICSURL == "" && c.CalendarID == "" {
		problems = append(problems, "CALENDAR_ID or CALENDAR_ICS_URL is required")
	}

	switch c.Notifier {
	case NotifierSlack:
		if c.SlackWebhookURL == "" {
			problems = append(problems, "SLACK_WEBHOOK_URL is required")
		}
	case NotifierTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioWhatsAppNumber == "" || c.TwilioWhatsAppTo == "" {
			problems = append(problems, "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_WHATSAPP_NUMBER and TWILIO_WHATSAPP_TO are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NOTIFIER %q", c.Notifier))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return fc, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

func fallback(primary, secondary string) string {
	if strings.TrimSpace(primary) == "" {
		return secondary
	}
	return primary
}

func positiveOr(value, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}
