package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"optiondesk/internal/domain"
)

const (
	// DefaultUserAgent identifies the client to the backend
	DefaultUserAgent = "optiondesk/1.0"

	// DefaultConfigPath is where cmd/app looks for the config file
	DefaultConfigPath = "configs/config.yaml"
)

// Config holds every setting of the client. LoadConfig fills it from the yaml
// file and then lets environment variables override credentials and URLs.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Backend struct {
		BaseURL           string `yaml:"base_url"` // http(s) root for request/response commands
		FeedURL           string `yaml:"feed_url"` // event stream root for the three feeds; ws(s) for a websocket bridge
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	} `yaml:"backend"`

	Credentials struct {
		Login    string `yaml:"login"`
		Password string `yaml:"password"`
	} `yaml:"credentials"`

	Feed struct {
		MaxBackoffSec   int `yaml:"max_backoff_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
		PingIntervalSec int `yaml:"ping_interval_sec"`
	} `yaml:"feed"`

	Gateway struct {
		CoalesceRefetch bool `yaml:"coalesce_refetch"`
	} `yaml:"gateway"`

	Startup struct {
		Symbol string `yaml:"symbol"` // option chain loaded after login; empty skips it
	} `yaml:"startup"`

	Storage struct {
		Enabled     bool   `yaml:"enabled"`
		JournalPath string `yaml:"journal_path"`
	} `yaml:"storage"`

	Metrics struct {
		Listen string `yaml:"listen"` // e.g. "localhost:9464"; empty disables the endpoint
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads the yaml file at path, applies .env and environment
// overrides, fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Field: "path", Err: err}
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file read.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", slog.Any("error", err))
	}
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "optiondesk"
	}
	if c.Backend.RequestTimeoutSec <= 0 {
		c.Backend.RequestTimeoutSec = 10
	}
	if c.Feed.MaxBackoffSec <= 0 {
		c.Feed.MaxBackoffSec = 60
	}
	if c.Feed.ReadTimeoutSec <= 0 {
		c.Feed.ReadTimeoutSec = 60
	}
	if c.Feed.PingIntervalSec <= 0 {
		c.Feed.PingIntervalSec = 30
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/journal.db"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasAnyPrefix(c.Backend.BaseURL, "http://", "https://") {
		return &domain.ConfigError{Field: "backend.base_url", Err: fmt.Errorf("invalid URL %q", c.Backend.BaseURL)}
	}
	if !hasAnyPrefix(c.Backend.FeedURL, "http://", "https://", "ws://", "wss://") {
		return &domain.ConfigError{Field: "backend.feed_url", Err: fmt.Errorf("invalid URL %q", c.Backend.FeedURL)}
	}
	if c.Feed.PingIntervalSec >= c.Feed.ReadTimeoutSec {
		return &domain.ConfigError{Field: "feed.ping_interval_sec", Err: errors.New("must be shorter than read_timeout_sec")}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}
	return nil
}

// RequestTimeout is the per-request deadline for backend commands
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSec) * time.Second
}

// Creds returns the configured login credentials.
func (c *Config) Creds() domain.Credentials {
	return domain.Credentials{Login: c.Credentials.Login, Password: c.Credentials.Password}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// overrideWithEnv overwrites secrets and endpoints from the environment when set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("OPTIONDESK_LOGIN"); v != "" {
		cfg.Credentials.Login = v
	}
	if v := os.Getenv("OPTIONDESK_PASSWORD"); v != "" {
		cfg.Credentials.Password = v
	}
	if v := os.Getenv("OPTIONDESK_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("OPTIONDESK_FEED_URL"); v != "" {
		cfg.Backend.FeedURL = v
	}
}
