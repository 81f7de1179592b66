// Package config loads the service configuration from an optional YAML
// file and overlays environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/agentcheck/captcha"
	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/trello"
)

// DefaultTriggerKeyword selects the annual-plan application cards.
const DefaultTriggerKeyword = "年繳方案申請"

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig      `yaml:"server"`
	Browser lia.BrowserConfig `yaml:"browser"`
	Query   QueryConfig       `yaml:"query"`
	OCR     captcha.Config    `yaml:"ocr"`
	Trello  trello.Config     `yaml:"trello"`
	Queue   QueueConfig       `yaml:"queue"`
}

// ServerConfig controls the HTTP front-end.
type ServerConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	// DebugRoutes enables /debug/ocr.
	DebugRoutes bool `yaml:"debug_routes"`
	// ConsoleUser and ConsolePasswordHash (bcrypt) protect the console
	// pages with Basic Auth. Empty disables it.
	ConsoleUser         string `yaml:"console_user"`
	ConsolePasswordHash string `yaml:"console_password_hash"`
}

// QueryConfig embeds the orchestrator settings and adds the service-level
// knobs around it.
type QueryConfig struct {
	lia.Config `yaml:",inline"`
	// MaxConcurrent bounds simultaneous browser sessions.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Timeout bounds one whole query, every attempt included.
	Timeout time.Duration `yaml:"timeout"`
	// Timezone anchors the 365-day rule.
	Timezone string `yaml:"timezone"`
}

// QueueConfig controls the card job consumer.
type QueueConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8080",
			LogLevel: "info",
			DataDir:  "data",
		},
		Browser: lia.BrowserConfig{
			Headless:         true,
			XvfbDisplay:      ":99",
			ResourceBlocking: []string{"fonts", "media"},
		},
		Query: QueryConfig{
			Config:        lia.DefaultConfig(),
			MaxConcurrent: 1,
			Timeout:       3 * time.Minute,
			Timezone:      "Asia/Taipei",
		},
		OCR: captcha.Config{
			Endpoint: "http://127.0.0.1:9898/ocr",
			Timeout:  10 * time.Second,
		},
		Trello: trello.Config{
			BaseURL:        trello.DefaultBaseURL,
			TriggerKeyword: DefaultTriggerKeyword,
		},
		Queue: QueueConfig{
			Visibility:   10 * time.Minute,
			PollInterval: 2 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: time.Minute,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment variables are not applied; call ApplyEnv.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays the environment on c.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Server.LogLevel)
	str("DATA_DIR", &c.Server.DataDir)
	boolean("DEBUG_ROUTES", &c.Server.DebugRoutes)
	str("CONSOLE_USER", &c.Server.ConsoleUser)
	str("CONSOLE_PASSWORD_HASH", &c.Server.ConsolePasswordHash)

	boolean("HEADLESS", &c.Browser.Headless)
	str("CHROME_REMOTE_URL", &c.Browser.RemoteURL)
	str("CHROME_BIN", &c.Browser.Bin)

	str("OCR_URL", &c.OCR.Endpoint)

	integer("MAX_RETRIES", &c.Query.MaxRetries)
	integer("MAX_CONCURRENT_QUERIES", &c.Query.MaxConcurrent)
	str("TIMEZONE", &c.Query.Timezone)

	str("TRELLO_API_KEY", &c.Trello.APIKey)
	str("TRELLO_TOKEN", &c.Trello.Token)
	str("TRELLO_APP_SECRET", &c.Trello.AppSecret)
	str("TRELLO_BOARD_ID", &c.Trello.BoardID)
	str("TRELLO_WEBHOOK_CALLBACK", &c.Trello.CallbackURL)
	str("TRIGGER_KEYWORD", &c.Trello.TriggerKeyword)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return c.Validate()
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Query.MaxRetries < 1 {
		errs = append(errs, errors.New("config: query.max_retries must be at least 1"))
	}
	if c.Query.MaxConcurrent < 1 {
		errs = append(errs, errors.New("config: query.max_concurrent must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Query.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: query.timezone: %w", err))
	}
	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Server.ConsolePasswordHash != "" && c.Server.ConsoleUser == "" {
		errs = append(errs, errors.New("config: console_password_hash set without console_user"))
	}
	return errors.Join(errs...)
}

// Location returns the timezone of the recency rule.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Query.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DBPath is the SQLite file shared by the card queue and the shield
// tables.
func (c *Config) DBPath() string {
	return filepath.Join(c.Server.DataDir, "agentcheck.db")
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
