package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envCheckInterval  = "CHECK_INTERVAL"
	envTelegramToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID = "TELEGRAM_CHAT_ID"
	envTelegramAPIURL = "TELEGRAM_API_URL"
	envAppsConfigPath = "APPS_CONFIG_PATH"
	envFetchTimeout   = "FETCH_TIMEOUT"
	envFetchUserAgent = "FETCH_USER_AGENT"
	envLogLevel       = "LOG_LEVEL"
	envLogFile        = "LOG_FILE"
	envLogMaxSizeMB   = "LOG_MAX_SIZE_MB"
	envLogMaxFiles    = "LOG_MAX_FILES"
	envDryRun         = "DRY_RUN"
	envHealthPort     = "HEALTH_PORT"
	envMetricsPort    = "METRICS_PORT"
)

const (
	defaultCheckInterval  = 60 * time.Second
	defaultTelegramAPIURL = "https://api.telegram.org"
	defaultAppsConfigPath = "apps_config.json"
	defaultFetchTimeout   = 10 * time.Second
	defaultFetchUserAgent = "Mozilla/5.0"
	defaultLogLevel       = "info"
	defaultLogFile        = "testflight_checker.log"
	defaultLogMaxSizeMB   = 1
	defaultLogMaxFiles    = 5
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	CheckInterval  time.Duration
	TelegramToken  string
	TelegramChatID string
	TelegramAPIURL string
	AppsConfigPath string
	FetchTimeout   time.Duration
	FetchUserAgent string
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxFiles    int
	DryRun         bool
	HealthPort     int
	MetricsPort    int
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		CheckInterval:  defaultCheckInterval,
		TelegramAPIURL: defaultTelegramAPIURL,
		AppsConfigPath: defaultAppsConfigPath,
		FetchTimeout:   defaultFetchTimeout,
		FetchUserAgent: defaultFetchUserAgent,
		LogLevel:       defaultLogLevel,
		LogFile:        defaultLogFile,
		LogMaxSizeMB:   defaultLogMaxSizeMB,
		LogMaxFiles:    defaultLogMaxFiles,
	}

	// CHECK_INTERVAL is expressed in milliseconds.
	if value, ok := lookupTrimmed(envCheckInterval); ok {
		millis, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envCheckInterval, err)
		}
		if millis <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envCheckInterval)
		}
		cfg.CheckInterval = time.Duration(millis) * time.Millisecond
	}

	if value, ok := lookupTrimmed(envTelegramToken); ok {
		cfg.TelegramToken = value
	}

	if value, ok := lookupTrimmed(envTelegramChatID); ok {
		cfg.TelegramChatID = value
	}

	if value, ok := lookupTrimmed(envTelegramAPIURL); ok {
		cfg.TelegramAPIURL = strings.TrimRight(value, "/")
	}

	if value, ok := lookupTrimmed(envAppsConfigPath); ok {
		cfg.AppsConfigPath = value
	}

	if value, ok := lookupTrimmed(envFetchTimeout); ok {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envFetchTimeout, err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envFetchTimeout)
		}
		cfg.FetchTimeout = timeout
	}

	if value, ok := lookupTrimmed(envFetchUserAgent); ok {
		cfg.FetchUserAgent = value
	}

	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	// LOG_FILE set to an empty value disables file logging.
	if value, ok := os.LookupEnv(envLogFile); ok {
		cfg.LogFile = strings.TrimSpace(value)
	}

	var err error
	if cfg.LogMaxSizeMB, err = lookupPositiveInt(envLogMaxSizeMB, cfg.LogMaxSizeMB); err != nil {
		return Config{}, err
	}
	if cfg.LogMaxFiles, err = lookupPositiveInt(envLogMaxFiles, cfg.LogMaxFiles); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envDryRun); ok {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	if cfg.HealthPort, err = lookupPort(envHealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = lookupPort(envMetricsPort); err != nil {
		return Config{}, err
	}

	if err := validateURL(cfg.TelegramAPIURL, envTelegramAPIURL); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// TelegramConfigured reports whether both delivery credentials are present.
func (c Config) TelegramConfigured() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// lookupTrimmed treats blank values as unset.
func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func lookupPositiveInt(key string, def int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func lookupPort(key string) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return 0, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", key)
	}
	return port, nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
