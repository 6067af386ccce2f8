package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the event monitor
type Config struct {
	// Instagram session used by the direct-scrape client
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Remote scraping-actor integration
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Fetch orchestration tuning
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Background monitor loop
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Storage settings
	Database DatabaseConfig `yaml:"database" json:"database"`

	// HTTP server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Image cache settings
	Images ImageConfig `yaml:"images" json:"images"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds the direct-scrape session configuration
type InstagramConfig struct {
	SessionID         string        `yaml:"session_id" json:"session_id"`
	CSRFToken         string        `yaml:"csrf_token" json:"csrf_token"`
	DSUserID          string        `yaml:"ds_user_id" json:"ds_user_id"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RemoteConfig holds the scraping-actor API configuration
type RemoteConfig struct {
	APIToken string `yaml:"api_token" json:"api_token"`
	ActorID  string `yaml:"actor_id" json:"actor_id"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	// Enabled permits remote fallback in auto mode
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	JobTimeout        time.Duration `yaml:"job_timeout" json:"job_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	Bridge            string        `yaml:"bridge" json:"bridge"` // auto|on|off
	BridgeCommand     string        `yaml:"bridge_command" json:"bridge_command"`
	BridgeRunnerPath  string        `yaml:"bridge_runner_path" json:"bridge_runner_path"`
	BridgeTimeoutSlop time.Duration `yaml:"bridge_timeout_slop" json:"bridge_timeout_slop"`
}

// FetchConfig holds sweep orchestration tuning
type FetchConfig struct {
	// Mode selects the source policy: direct, remote or auto
	Mode                string        `yaml:"mode" json:"mode"`
	ResultsLimit        int           `yaml:"results_limit" json:"results_limit"`
	AccountDelaySeconds int           `yaml:"account_delay_seconds" json:"account_delay_seconds"`
	BackoffMinutes      int           `yaml:"backoff_minutes" json:"backoff_minutes"`
	KnownBreakThreshold int           `yaml:"known_break_threshold" json:"known_break_threshold"`
	KnownIDWindow       int           `yaml:"known_id_window" json:"known_id_window"`
	LookbackSlack       time.Duration `yaml:"lookback_slack" json:"lookback_slack"`
}

// MonitorConfig holds the periodic sweep loop configuration
type MonitorConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes" json:"interval_minutes"`
	// DeferToManual skips scheduled sweeps while a manual one is running
	DeferToManual bool `yaml:"defer_to_manual" json:"defer_to_manual"`
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL string `yaml:"url" json:"url"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// ImageConfig holds the local poster image cache settings
type ImageConfig struct {
	Directory       string        `yaml:"directory" json:"directory"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
	PrefetchWorkers int           `yaml:"prefetch_workers" json:"prefetch_workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// Fetch modes accepted by FetchConfig.Mode
const (
	ModeDirect = "direct"
	ModeRemote = "remote"
	ModeAuto   = "auto"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 30,
		},
		Remote: RemoteConfig{
			BaseURL:           "https://api.apify.com/v2",
			BatchSize:         8,
			JobTimeout:        180 * time.Second,
			PollInterval:      5 * time.Second,
			RequestTimeout:    30 * time.Second,
			Bridge:            "auto",
			BridgeCommand:     "node",
			BridgeTimeoutSlop: 30 * time.Second,
		},
		Fetch: FetchConfig{
			Mode:                ModeAuto,
			ResultsLimit:        30,
			AccountDelaySeconds: 2,
			BackoffMinutes:      15,
			KnownBreakThreshold: 2,
			KnownIDWindow:       20,
			LookbackSlack:       5 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:         true,
			IntervalMinutes: 45,
			DeferToManual:   true,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/eventscout?sslmode=disable",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Images: ImageConfig{
			Directory:       "./data/images",
			DownloadTimeout: 30 * time.Second,
			PrefetchWorkers: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	setString(&c.Instagram.SessionID, "EVENTSCOUT_SESSION_ID")
	setString(&c.Instagram.CSRFToken, "EVENTSCOUT_CSRF_TOKEN")
	setString(&c.Instagram.DSUserID, "EVENTSCOUT_DS_USER_ID")
	setString(&c.Instagram.UserAgent, "EVENTSCOUT_USER_AGENT")

	setString(&c.Remote.APIToken, "EVENTSCOUT_REMOTE_TOKEN")
	setString(&c.Remote.ActorID, "EVENTSCOUT_REMOTE_ACTOR_ID")
	setString(&c.Remote.BaseURL, "EVENTSCOUT_REMOTE_BASE_URL")
	setBool(&c.Remote.Enabled, "EVENTSCOUT_REMOTE_ENABLED")
	setInt(&c.Remote.BatchSize, "EVENTSCOUT_REMOTE_BATCH_SIZE")
	setSeconds(&c.Remote.JobTimeout, "EVENTSCOUT_REMOTE_TIMEOUT_SECONDS")
	setString(&c.Remote.Bridge, "EVENTSCOUT_REMOTE_BRIDGE")
	setString(&c.Remote.BridgeCommand, "EVENTSCOUT_REMOTE_BRIDGE_COMMAND")
	setString(&c.Remote.BridgeRunnerPath, "EVENTSCOUT_REMOTE_BRIDGE_RUNNER")

	setString(&c.Fetch.Mode, "EVENTSCOUT_FETCH_MODE")
	setInt(&c.Fetch.ResultsLimit, "EVENTSCOUT_RESULTS_LIMIT")
	setInt(&c.Fetch.AccountDelaySeconds, "EVENTSCOUT_ACCOUNT_DELAY_SECONDS")
	setInt(&c.Fetch.BackoffMinutes, "EVENTSCOUT_BACKOFF_MINUTES")
	setInt(&c.Fetch.KnownBreakThreshold, "EVENTSCOUT_KNOWN_BREAK_THRESHOLD")
	setInt(&c.Fetch.KnownIDWindow, "EVENTSCOUT_KNOWN_ID_WINDOW")

	setBool(&c.Monitor.Enabled, "EVENTSCOUT_MONITOR_ENABLED")
	setInt(&c.Monitor.IntervalMinutes, "EVENTSCOUT_MONITOR_INTERVAL_MINUTES")
	setBool(&c.Monitor.DeferToManual, "EVENTSCOUT_DEFER_TO_MANUAL")

	setString(&c.Database.URL, "EVENTSCOUT_DATABASE_URL")
	setString(&c.Server.ListenAddr, "EVENTSCOUT_LISTEN_ADDR")
	setString(&c.Images.Directory, "EVENTSCOUT_IMAGES_DIR")
	setString(&c.Logging.Level, "EVENTSCOUT_LOG_LEVEL")
	setString(&c.Logging.File, "EVENTSCOUT_LOG_FILE")

	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setSeconds(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*target = time.Duration(n) * time.Second
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = strings.ToLower(v) == "true" || v == "1"
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".eventscout.yaml",
		".eventscout.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "eventscout", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "eventscout", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch c.Fetch.Mode {
	case ModeDirect, ModeRemote, ModeAuto:
	default:
		errs = append(errs, fmt.Errorf("invalid fetch mode %q", c.Fetch.Mode))
	}

	if c.Fetch.ResultsLimit <= 0 {
		errs = append(errs, errors.New("results limit must be positive"))
	}
	if c.Fetch.KnownBreakThreshold < 1 {
		errs = append(errs, errors.New("known break threshold must be at least 1"))
	}
	if c.Fetch.KnownIDWindow <= 0 {
		errs = append(errs, errors.New("known id window must be positive"))
	}
	if c.Fetch.BackoffMinutes < 1 {
		errs = append(errs, errors.New("backoff minutes must be at least 1"))
	}

	if c.Remote.BatchSize < 1 {
		errs = append(errs, errors.New("remote batch size must be at least 1"))
	}
	if c.Remote.JobTimeout <= 0 {
		errs = append(errs, errors.New("remote job timeout must be positive"))
	}
	switch c.Remote.Bridge {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("invalid remote bridge setting %q", c.Remote.Bridge))
	}

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: environment variables > .env file > config file > defaults
func Load(configPath string) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".eventscout.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
