// Package config loads the monitor's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mhrishan/desco-monitor/monitor"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config.yaml"

// Storage backends.
const (
	BackendCSV    = "csv"
	BackendXLSX   = "xlsx"
	BackendSQLite = "sqlite"
)

// Config holds the monitor configuration.
type Config struct {
	Env      string          `yaml:"env"` // local, dev, prod (selects the logger)
	Account  monitor.Account `yaml:"account"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Storage  StorageConfig   `yaml:"storage"`
	History  HistoryConfig   `yaml:"history"`
	Fetch    FetchConfig     `yaml:"fetch"`
	Email    EmailConfig     `yaml:"email"`
	Webhook  WebhookConfig   `yaml:"webhook"`
	HTTP     HTTPConfig      `yaml:"http"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ScheduleConfig holds the daily trigger.
type ScheduleConfig struct {
	Time            string `yaml:"time"`     // HH:MM, 24h
	Timezone        string `yaml:"timezone"` // IANA name
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	AutoStart       bool   `yaml:"auto_start"` // start the scheduler with `serve`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // csv (default), xlsx, sqlite
	Path         string `yaml:"path"`
	Sheet        string `yaml:"sheet"`         // xlsx only
	ReferenceURL string `yaml:"reference_url"` // link sent instead of the local path
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// HistoryConfig holds the check-run database.
type HistoryConfig struct {
	Path string `yaml:"path"` // SQLite file; shares storage.path when backend is sqlite
}

// FetchConfig holds balance API settings.
type FetchConfig struct {
	BaseURL            string `yaml:"base_url"`
	TimeoutSec         int    `yaml:"timeout_sec"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	StartTLS            bool     `yaml:"starttls"` // false means implicit TLS
	Username            string   `yaml:"username"`
	Password            string   `yaml:"password"`
	PasswordFromKeyring bool     `yaml:"password_from_keyring"`
	From                string   `yaml:"from"`
	To                  []string `yaml:"to"`
	Subject             string   `yaml:"subject"`
	AttachLedger        bool     `yaml:"attach_ledger"`
	TimeoutSec          int      `yaml:"timeout_sec"`
}

// WebhookConfig holds the optional JSON webhook.
type WebhookConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// HTTPConfig holds control surface settings.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads, expands, defaults and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = GetEnv()
	}
	if c.Schedule.Time == "" {
		c.Schedule.Time = "17:50"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Dhaka"
	}
	if c.Schedule.PollIntervalSec <= 0 {
		c.Schedule.PollIntervalSec = int(monitor.DefaultPollInterval / time.Second)
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendCSV
	}
	if c.Storage.Path == "" {
		switch c.Storage.Backend {
		case BackendXLSX:
			c.Storage.Path = "desco_ledger.xlsx"
		case BackendSQLite:
			c.Storage.Path = "desco.db"
		default:
			c.Storage.Path = "desco_consumption_log.csv"
		}
	}
	if c.Storage.TimeoutSec <= 0 {
		c.Storage.TimeoutSec = int(monitor.DefaultStoreTimeout / time.Second)
	}
	if c.History.Path == "" {
		if c.Storage.Backend == BackendSQLite {
			c.History.Path = c.Storage.Path
		} else {
			c.History.Path = "desco_history.db"
		}
	}
	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = int(monitor.DefaultFetchTimeout / time.Second)
	}
	if c.Email.Host == "" {
		c.Email.Host = "smtp.gmail.com"
	}
	if c.Email.Port <= 0 {
		c.Email.Port = 465
	}
	if c.Email.Subject == "" {
		c.Email.Subject = "DESCO Balance & Daily Usage"
	}
	if c.Email.Username == "" {
		c.Email.Username = c.Email.From
	}
	if c.Email.TimeoutSec <= 0 {
		c.Email.TimeoutSec = int(monitor.DefaultNotifyTimeout / time.Second)
	}
	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = 10
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 15
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 90
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks structure. The account is checked per run so the control
// surface can start before it is filled in.
func (c *Config) Validate() error {
	if _, _, err := ParseClock(c.Schedule.Time); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return &monitor.ConfigError{Field: "schedule.timezone", Reason: err.Error()}
	}
	if c.Schedule.PollIntervalSec > int(monitor.MaxPollInterval/time.Second) {
		return &monitor.ConfigError{Field: "schedule.poll_interval_sec", Reason: "must be at most 60"}
	}
	switch c.Storage.Backend {
	case BackendCSV, BackendXLSX, BackendSQLite:
	default:
		return &monitor.ConfigError{
			Field:  "storage.backend",
			Reason: fmt.Sprintf("must be csv, xlsx or sqlite, got %q", c.Storage.Backend),
		}
	}
	if c.Email.Enabled {
		if c.Email.From == "" {
			return &monitor.ConfigError{Field: "email.from", Reason: "is required when email is enabled"}
		}
		if len(c.Email.To) == 0 {
			return &monitor.ConfigError{Field: "email.to", Reason: "is required when email is enabled"}
		}
		if c.Email.Port > 65535 {
			return &monitor.ConfigError{Field: "email.port", Reason: "must be between 1 and 65535"}
		}
	}
	return nil
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok {
		hour, err = strconv.Atoi(h)
		if err == nil {
			minute, err = strconv.Atoi(m)
		}
	}
	if !ok || err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, &monitor.ConfigError{Field: "schedule.time", Reason: fmt.Sprintf("must be HH:MM, got %q", s)}
	}
	return hour, minute, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ScheduleConfig builds the scheduler's runtime config.
func (c *Config) ScheduleConfig() (monitor.ScheduleConfig, error) {
	hour, minute, err := ParseClock(c.Schedule.Time)
	if err != nil {
		return monitor.ScheduleConfig{}, err
	}
	return monitor.NewScheduleConfig(hour, minute, c.Schedule.Timezone,
		time.Duration(c.Schedule.PollIntervalSec)*time.Second)
}

// CheckConfig builds the per-run config.
func (c *Config) CheckConfig() monitor.CheckConfig {
	return monitor.CheckConfig{
		Account:   c.Account,
		Reference: c.Storage.ReferenceURL,
		Location:  c.Location(),
	}
}

// Location resolves the schedule timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Schedule.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	if c.Email.Password != "" {
		c.Email.Password = "********"
	}
	c.Email.To = append([]string(nil), c.Email.To...)
	c.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	return c
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path atomically.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
