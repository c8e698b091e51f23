package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kistrader/internal/adapters/logger" // Import the logger package for LogLevel
)

// TimeOfDay is a wall-clock moment within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// On anchors the time of day onto the date of t, in t's location.
func (d TimeOfDay) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, d.Second, 0, t.Location())
}

// String renders the time of day as HH:MM:SS.
func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", d.Hour, d.Minute, d.Second)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("time of day must be HH:MM or HH:MM:SS, got %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		nums[i] = n
	}
	d := TimeOfDay{Hour: nums[0], Minute: nums[1], Second: nums[2]}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return d, nil
}

// Config holds all application configuration.
type Config struct {
	// KIS API
	AppKey    string
	AppSecret string
	AccountNo string
	BaseURL   string
	Virtual   bool

	// Files
	DBPath      string
	SignalsPath string

	// Exchange clock
	Location *time.Location

	// Daily windows (exchange-local)
	PreloadStart    TimeOfDay // Signal preload window opens
	AdmissionTime   TimeOfDay // Session open; one-shot admission at/after
	ForceCloseStart TimeOfDay // Closing window opens
	HardDeadline    TimeOfDay // Forced closure relaxes the band
	MarketDeadline  TimeOfDay // Forced closure falls back to market orders
	MarketClose     TimeOfDay // EOD observe-only pass at/after
	ExitTime        TimeOfDay // Process terminates

	// Intervals
	CheckInterval      time.Duration // Mid-session reconcile + exit-monitor cadence
	ForceCloseInterval time.Duration // Closing-window cadence
	PollInterval       time.Duration // Scheduler loop sleep
	LoopBackoff        time.Duration // Pause after a failed loop iteration
	HTTPTimeout        time.Duration

	// Notifications (optional; empty disables)
	TelegramBotToken string
	TelegramChatID   string

	// Telemetry (optional; empty disables)
	MetricsAddr string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env if present; plain environment variables work too.
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.AppKey = getEnv("KIS_APP_KEY", "")
	cfg.AppSecret = getEnv("KIS_APP_SECRET", "")
	cfg.AccountNo = getEnv("KIS_ACCOUNT_NO", "")
	cfg.BaseURL = getEnv("KIS_BASE_URL", "")
	cfg.Virtual = getEnvAsBool("KIS_VIRTUAL", true) // Default to paper trading for safety

	if cfg.AppKey == "" {
		errs = append(errs, "KIS_APP_KEY must be set")
	}
	if cfg.AppSecret == "" {
		errs = append(errs, "KIS_APP_SECRET must be set")
	}
	if !strings.Contains(cfg.AccountNo, "-") {
		errs = append(errs, "KIS_ACCOUNT_NO must be set as 12345678-01")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/positions.db")
	cfg.SignalsPath = getEnv("SIGNALS_PATH", "")

	tzName := getEnv("EXCHANGE_TZ", "Asia/Seoul")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_TZ %q: %v", tzName, err))
	} else {
		cfg.Location = loc
	}

	windows := []struct {
		key string
		def string
		dst *TimeOfDay
	}{
		{"PRELOAD_START", "08:30", &cfg.PreloadStart},
		{"ADMISSION_TIME", "09:00", &cfg.AdmissionTime},
		{"FORCE_CLOSE_START", "15:15", &cfg.ForceCloseStart},
		{"HARD_DEADLINE", "15:29:30", &cfg.HardDeadline},
		{"MARKET_DEADLINE", "15:29:50", &cfg.MarketDeadline},
		{"MARKET_CLOSE", "15:30", &cfg.MarketClose},
		{"EXIT_TIME", "16:00", &cfg.ExitTime},
	}
	for _, w := range windows {
		tod, err := ParseTimeOfDay(getEnv(w.key, w.def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", w.key, err))
			continue
		}
		*w.dst = tod
	}

	cfg.CheckInterval = getEnvAsSeconds("CHECK_INTERVAL_SECONDS", 60, &errs)
	cfg.ForceCloseInterval = getEnvAsSeconds("FORCE_CLOSE_INTERVAL_SECONDS", 15, &errs)
	cfg.PollInterval = getEnvAsSeconds("POLL_INTERVAL_SECONDS", 5, &errs)
	cfg.LoopBackoff = getEnvAsSeconds("LOOP_BACKOFF_SECONDS", 5, &errs)
	cfg.HTTPTimeout = getEnvAsSeconds("HTTP_TIMEOUT_SECONDS", 5, &errs)

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultSeconds int, errs *[]string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer, got %q", key, valueStr))
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(value) * time.Second
}
