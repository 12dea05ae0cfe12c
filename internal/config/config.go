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

	"github.com/pelletier/go-toml/v2"

	"github.com/micro-ha/transmission-sync/internal/model"
)

const (
	defaultServerURL           = "http://localhost:5000"
	defaultHTTPAddr            = ":8099"
	defaultDataDir             = "/data"
	defaultConfigPath          = "~/.config/txsync/config.toml"
	defaultStatePollInterval   = 5 * time.Second
	defaultUpdatesPollInterval = 5 * time.Second
	defaultReconnectBase       = time.Second
	defaultReconnectAttempts   = 5
	defaultRequestRetryBase    = 500 * time.Millisecond
	defaultRequestAttempts     = 3
	defaultRequestTimeout      = 10 * time.Second
	defaultRateLimit           = 10.0
	defaultRateBurst           = 5
	defaultJournalKeep         = 1000

	TransportAuto    = "auto"
	TransportPolling = "polling"
)

// Config stores runtime settings. Values come from defaults, then an optional
// TOML file, then TXSYNC_* environment variables.
type Config struct {
	Server               model.ServerConfig
	Devices              []model.DeviceID
	ConnectionID         model.DeviceID
	StatePollInterval    time.Duration
	UpdatesPollInterval  time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	RequestRetryBase     time.Duration
	RequestMaxAttempts   int
	RequestTimeout       time.Duration
	RateLimit            float64
	RateBurst            int
	TransportMode        string
	HTTPAddr             string
	DataDir              string
	DBPath               string
	ExportDir            string
	JournalKeep          int
	LogLevel             slog.Level
	LogFormat            string
}

// fileConfig mirrors the TOML layout. Durations are strings such as "5s".
type fileConfig struct {
	Server struct {
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"server"`
	Devices      []string `toml:"devices"`
	ConnectionID string   `toml:"connection_id"`
	Transport    struct {
		Mode                string `toml:"mode"`
		PollInterval        string `toml:"poll_interval"`
		ReconnectBaseDelay  string `toml:"reconnect_base_delay"`
		ReconnectMaxAttempt int    `toml:"reconnect_max_attempts"`
	} `toml:"transport"`
	Requests struct {
		RetryBase   string  `toml:"retry_base"`
		MaxAttempts int     `toml:"max_attempts"`
		Timeout     string  `toml:"timeout"`
		RateLimit   float64 `toml:"rate_limit"`
		RateBurst   int     `toml:"rate_burst"`
	} `toml:"requests"`
	StatePollInterval string `toml:"state_poll_interval"`
	HTTPAddr          string `toml:"http_addr"`
	DataDir           string `toml:"data_dir"`
	DBPath            string `toml:"db_path"`
	ExportDir         string `toml:"export_dir"`
	JournalKeep       int    `toml:"journal_keep"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:               model.ServerConfig{URL: defaultServerURL, PollIntervalSec: int(defaultUpdatesPollInterval / time.Second)},
		StatePollInterval:    defaultStatePollInterval,
		UpdatesPollInterval:  defaultUpdatesPollInterval,
		ReconnectBaseDelay:   defaultReconnectBase,
		ReconnectMaxAttempts: defaultReconnectAttempts,
		RequestRetryBase:     defaultRequestRetryBase,
		RequestMaxAttempts:   defaultRequestAttempts,
		RequestTimeout:       defaultRequestTimeout,
		RateLimit:            defaultRateLimit,
		RateBurst:            defaultRateBurst,
		TransportMode:        TransportAuto,
		HTTPAddr:             defaultHTTPAddr,
		DataDir:              defaultDataDir,
		JournalKeep:          defaultJournalKeep,
		LogLevel:             slog.LevelInfo,
		LogFormat:            "auto",
	}
}

// Load builds Config. path may be empty, in which case TXSYNC_CONFIG or the
// default location is tried; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if fromEnv := getenv("TXSYNC_CONFIG", ""); fromEnv != "" {
			path, explicit = fromEnv, true
		} else {
			path = defaultConfigPath
		}
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyFile(resolved, explicit); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, required bool) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(contents, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	c.Server.URL = pick(raw.Server.URL, c.Server.URL)
	c.Server.Token = pick(raw.Server.Token, c.Server.Token)
	if len(raw.Devices) > 0 {
		c.Devices = toDeviceIDs(raw.Devices)
	}
	c.ConnectionID = model.DeviceID(pick(raw.ConnectionID, c.ConnectionID.String()))
	c.TransportMode = pick(raw.Transport.Mode, c.TransportMode)
	c.UpdatesPollInterval = pickDuration(raw.Transport.PollInterval, c.UpdatesPollInterval)
	c.ReconnectBaseDelay = pickDuration(raw.Transport.ReconnectBaseDelay, c.ReconnectBaseDelay)
	c.ReconnectMaxAttempts = pickInt(raw.Transport.ReconnectMaxAttempt, c.ReconnectMaxAttempts)
	c.RequestRetryBase = pickDuration(raw.Requests.RetryBase, c.RequestRetryBase)
	c.RequestMaxAttempts = pickInt(raw.Requests.MaxAttempts, c.RequestMaxAttempts)
	c.RequestTimeout = pickDuration(raw.Requests.Timeout, c.RequestTimeout)
	if raw.Requests.RateLimit > 0 {
		c.RateLimit = raw.Requests.RateLimit
	}
	c.RateBurst = pickInt(raw.Requests.RateBurst, c.RateBurst)
	c.StatePollInterval = pickDuration(raw.StatePollInterval, c.StatePollInterval)
	c.HTTPAddr = pick(raw.HTTPAddr, c.HTTPAddr)
	c.DataDir = pick(raw.DataDir, c.DataDir)
	c.DBPath = pick(raw.DBPath, c.DBPath)
	c.ExportDir = pick(raw.ExportDir, c.ExportDir)
	c.JournalKeep = pickInt(raw.JournalKeep, c.JournalKeep)
	if strings.TrimSpace(raw.LogLevel) != "" {
		c.LogLevel = parseLogLevel(raw.LogLevel)
	}
	c.LogFormat = pick(raw.LogFormat, c.LogFormat)
	return nil
}

func (c *Config) applyEnv() {
	c.Server.URL = getenv("TXSYNC_SERVER_URL", c.Server.URL)
	c.Server.Token = getenv("TXSYNC_TOKEN", c.Server.Token)
	if raw := getenv("TXSYNC_DEVICES", ""); raw != "" {
		c.Devices = toDeviceIDs(strings.Split(raw, ","))
	}
	c.ConnectionID = model.DeviceID(getenv("TXSYNC_CONNECTION_ID", c.ConnectionID.String()))
	c.TransportMode = getenv("TXSYNC_TRANSPORT", c.TransportMode)
	c.UpdatesPollInterval = parseDuration("TXSYNC_POLL_INTERVAL", c.UpdatesPollInterval)
	c.StatePollInterval = parseDuration("TXSYNC_STATE_POLL_INTERVAL", c.StatePollInterval)
	c.ReconnectBaseDelay = parseDuration("TXSYNC_RECONNECT_BASE_DELAY", c.ReconnectBaseDelay)
	c.ReconnectMaxAttempts = parseInt("TXSYNC_RECONNECT_MAX_ATTEMPTS", c.ReconnectMaxAttempts)
	c.RequestRetryBase = parseDuration("TXSYNC_REQUEST_RETRY_BASE", c.RequestRetryBase)
	c.RequestMaxAttempts = parseInt("TXSYNC_REQUEST_MAX_ATTEMPTS", c.RequestMaxAttempts)
	c.RequestTimeout = parseDuration("TXSYNC_REQUEST_TIMEOUT", c.RequestTimeout)
	c.RateLimit = parseFloat("TXSYNC_RATE_LIMIT", c.RateLimit)
	c.RateBurst = parseInt("TXSYNC_RATE_BURST", c.RateBurst)
	c.HTTPAddr = getenv("TXSYNC_HTTP_ADDR", c.HTTPAddr)
	c.DataDir = getenv("TXSYNC_DATA_DIR", c.DataDir)
	c.DBPath = getenv("TXSYNC_DB_PATH", c.DBPath)
	c.ExportDir = getenv("TXSYNC_EXPORT_DIR", c.ExportDir)
	c.JournalKeep = parseInt("TXSYNC_JOURNAL_KEEP", c.JournalKeep)
	if raw, ok := os.LookupEnv("TXSYNC_LOG_LEVEL"); ok && strings.TrimSpace(raw) != "" {
		c.LogLevel = parseLogLevel(raw)
	}
	c.LogFormat = getenv("TXSYNC_LOG_FORMAT", c.LogFormat)
}

// Resolve returns c with paths derived from DataDir filled in.
func (c Config) Resolve() Config {
	c.normalize()
	return c
}

func (c *Config) normalize() {
	c.TransportMode = strings.ToLower(strings.TrimSpace(c.TransportMode))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Server.PollIntervalSec = int(c.UpdatesPollInterval / time.Second)
	c.DataDir = mustExpand(c.DataDir)
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "transmission_sync.db")
	} else {
		c.DBPath = mustExpand(c.DBPath)
	}
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(c.DataDir, "exports")
	} else {
		c.ExportDir = mustExpand(c.ExportDir)
	}
}

// Validate rejects settings the agent cannot run with.
func (c Config) Validate() error {
	switch c.TransportMode {
	case TransportAuto, TransportPolling:
	default:
		return fmt.Errorf("transport mode must be %q or %q, got %q", TransportAuto, TransportPolling, c.TransportMode)
	}
	switch c.LogFormat {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("log format must be auto, json or text, got %q", c.LogFormat)
	}
	if c.ReconnectMaxAttempts <= 0 || c.RequestMaxAttempts <= 0 {
		return errors.New("attempt limits must be positive")
	}
	for _, id := range c.Devices {
		if !id.Valid() {
			return fmt.Errorf("invalid device id %q", id)
		}
	}
	if c.ConnectionID != "" && !c.ConnectionID.Valid() {
		return fmt.Errorf("invalid connection id %q", c.ConnectionID)
	}
	return nil
}

// ForcePolling reports whether the live channel is disabled.
func (c Config) ForcePolling() bool {
	return c.TransportMode == TransportPolling
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

// LockPath is the session lock guarding the transport for this data dir.
func (c Config) LockPath() string {
	return filepath.Join(c.DataDir, "txsync.lock")
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return pickDuration(raw, fallback)
}

func parseInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func pick(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func pickInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func pickDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func toDeviceIDs(values []string) []model.DeviceID {
	var ids []model.DeviceID
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			ids = append(ids, model.DeviceID(trimmed))
		}
	}
	return ids
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
