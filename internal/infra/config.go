package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// Config represents client configuration loaded from an optional YAML file
// and environment variables. Environment variables win over the file.
type Config struct {
	AppEnv          string        `yaml:"app_env"`
	APIBaseURL      string        `yaml:"api_base_url"`
	APITimeout      time.Duration `yaml:"-"`
	Locale          string        `yaml:"locale"`
	StorageDriver   string        `yaml:"storage_driver"`
	StoragePath     string        `yaml:"storage_path"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisURL        string        `yaml:"redis_url"`
	PollInterval    time.Duration `yaml:"-"`
	SearchDebounce  time.Duration `yaml:"-"`
	PageLimit       int           `yaml:"page_limit"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"-"`
	MockAPIPort     string        `yaml:"mock_api_port"`
	MockAPISecret   string        `yaml:"mock_api_secret"`

	// Durations are expressed in whole units in the file.
	APITimeoutSeconds      int `yaml:"api_timeout_seconds"`
	PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
	SearchDebounceMillis   int `yaml:"search_debounce_ms"`
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds"`
}

// LoadConfig loads the client configuration and applies defaults where
// needed. API_BASE_URL is required.
func LoadConfig() (*Config, error) {
	return loadConfig(true)
}

// LoadMockConfig is LoadConfig for cmd/mockapi, which serves the API rather
// than calling it.
func LoadMockConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(requireAPI bool) (*Config, error) {
	file := Config{}
	if path := strings.TrimSpace(os.Getenv("LIFELINE_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", orDefault(file.AppEnv, "development")),
		APIBaseURL:      strings.TrimRight(getEnv("API_BASE_URL", file.APIBaseURL), "/"),
		APITimeout:      time.Second * time.Duration(getEnvInt("API_TIMEOUT_SECONDS", orDefaultInt(file.APITimeoutSeconds, 15))),
		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", orDefault(file.StorageDriver, StorageFile))),
		StoragePath:     getEnv("STORAGE_PATH", orDefault(file.StoragePath, defaultStoragePath())),
		DatabaseURL:     getEnv("DATABASE_URL", file.DatabaseURL),
		RedisURL:        getEnv("REDIS_URL", file.RedisURL),
		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", orDefaultInt(file.PollIntervalSeconds, 30))),
		SearchDebounce:  time.Millisecond * time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", orDefaultInt(file.SearchDebounceMillis, 400))),
		PageLimit:       getEnvInt("PAGE_LIMIT", orDefaultInt(file.PageLimit, 10)),
		BreakerFailures: getEnvInt("BREAKER_FAILURES", orDefaultInt(file.BreakerFailures, 5)),
		BreakerCooldown: time.Second * time.Duration(getEnvInt("BREAKER_COOLDOWN_SECONDS", orDefaultInt(file.BreakerCooldownSeconds, 30))),
		MockAPIPort:     getEnv("MOCK_API_PORT", orDefault(file.MockAPIPort, "8088")),
		MockAPISecret:   getEnv("MOCK_API_SECRET", orDefault(file.MockAPISecret, "dev-secret")),
	}
	cfg.Locale = NormalizeLocale(getEnv("LOCALE", orDefault(file.Locale, "en")))

	if requireAPI {
		if cfg.APIBaseURL == "" {
			return nil, fmt.Errorf("API_BASE_URL is required")
		}
		if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("API_BASE_URL must be an absolute URL")
		}
	}

	switch cfg.StorageDriver {
	case StorageFile, StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres storage")
		}
	case StorageRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for redis storage")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return cfg, nil
}

// NormalizeLocale reduces a BCP 47 tag such as "en-US" to its base language.
func NormalizeLocale(raw string) string {
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "en"
	}
	base, _ := tag.Base()
	return base.String()
}

func defaultStoragePath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir + string(os.PathSeparator) + "lifeline"
	}
	return "./.lifeline"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orDefaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
