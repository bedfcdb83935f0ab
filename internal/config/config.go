package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fsqcal/internal/atomicfile"
	appLog "fsqcal/internal/log"
)

// NOTE: configuration is layered. DefaultConfig, then an optional YAML
// file, then environment variables, then Normalize. A missing YAML file is
// not an error and is never created implicitly; use Save for that.

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config is the top-level application configuration.
type Config struct {
	// RemoteToken is the Foursquare OAuth token.
	RemoteToken string `yaml:"remote_token" json:"-"`

	// CalendarDisplayName is published as X-WR-CALNAME.
	CalendarDisplayName string `yaml:"calendar_display_name" json:"calendar_display_name"`

	// Timezone is the IANA zone advertised to calendar clients (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	PartialSyncIntervalMinutes int `yaml:"partial_sync_interval_minutes" json:"partial_sync_interval_minutes"`
	FullSyncIntervalMinutes    int `yaml:"full_sync_interval_minutes" json:"full_sync_interval_minutes"`

	// PartialWindowDays is the look-back window of a partial sync.
	PartialWindowDays int `yaml:"partial_window_days" json:"partial_window_days"`

	WebhookDebounceSeconds int `yaml:"webhook_debounce_seconds" json:"webhook_debounce_seconds"`

	StorageDir     string `yaml:"storage_dir" json:"storage_dir"`
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"`

	// Google Calendar propagation.
	ExternalCalendarID      string `yaml:"external_calendar_id" json:"external_calendar_id"`
	ExternalCredentialsPath string `yaml:"external_credentials_path" json:"external_credentials_path"`
	EnableExternalPush      bool   `yaml:"enable_external_push" json:"enable_external_push"`
	EnableHistoryBackfill   bool   `yaml:"enable_history_backfill" json:"enable_history_backfill"`
	PushRatePerSecond       int    `yaml:"push_rate_per_second" json:"push_rate_per_second"`
	PushWorkers             int    `yaml:"push_workers" json:"push_workers"`
	BackfillDelayMS         int    `yaml:"backfill_delay_ms" json:"backfill_delay_ms"`

	// ResetStoreOnStartup ignores the persisted state at boot.
	ResetStoreOnStartup bool `yaml:"reset_store_on_startup" json:"reset_store_on_startup"`

	// AccessSecret, if set, is required on every HTTP request.
	AccessSecret string `yaml:"access_secret" json:"-"`

	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		CalendarDisplayName:        "My Foursquare History",
		Timezone:                   "Asia/Seoul",
		PartialSyncIntervalMinutes: 1440,
		FullSyncIntervalMinutes:    10080,
		PartialWindowDays:          7,
		WebhookDebounceSeconds:     5,
		StorageDir:                 "/data",
		StorageBackend:             BackendJSON,
		PushRatePerSecond:          5,
		PushWorkers:                2,
		BackfillDelayMS:            200,
		Listen:                     "0.0.0.0:5000",
		LogLevel:                   "info",
	}
}

// Normalize fills in missing/zero values with defaults and turns off
// external push when it cannot work.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if strings.TrimSpace(c.CalendarDisplayName) == "" {
		c.CalendarDisplayName = d.CalendarDisplayName
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.PartialSyncIntervalMinutes <= 0 {
		c.PartialSyncIntervalMinutes = d.PartialSyncIntervalMinutes
	}
	if c.FullSyncIntervalMinutes <= 0 {
		c.FullSyncIntervalMinutes = d.FullSyncIntervalMinutes
	}
	if c.PartialWindowDays <= 0 {
		c.PartialWindowDays = d.PartialWindowDays
	}
	// 0 is allowed: webhook syncs fire immediately.
	if c.WebhookDebounceSeconds < 0 {
		c.WebhookDebounceSeconds = d.WebhookDebounceSeconds
	}
	if c.StorageDir == "" {
		c.StorageDir = d.StorageDir
	}

	switch strings.ToLower(c.StorageBackend) {
	case BackendJSON, BackendSQLite:
		c.StorageBackend = strings.ToLower(c.StorageBackend)
	case "":
		c.StorageBackend = d.StorageBackend
	default:
		appLog.Warn("unknown storage backend; falling back to json", "backend", c.StorageBackend)
		c.StorageBackend = d.StorageBackend
	}

	if c.PushRatePerSecond <= 0 {
		c.PushRatePerSecond = d.PushRatePerSecond
	}
	if c.PushWorkers <= 0 {
		c.PushWorkers = d.PushWorkers
	}
	if c.BackfillDelayMS < 0 {
		c.BackfillDelayMS = d.BackfillDelayMS
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	if c.EnableExternalPush && (c.ExternalCalendarID == "" || c.ExternalCredentialsPath == "") {
		appLog.Warn("google push disabled: calendar id or credentials path missing")
		c.EnableExternalPush = false
	}
	if c.EnableHistoryBackfill && !c.EnableExternalPush {
		c.EnableHistoryBackfill = false
	}
}

func (c *Config) PartialInterval() time.Duration {
	return time.Duration(c.PartialSyncIntervalMinutes) * time.Minute
}

func (c *Config) FullInterval() time.Duration {
	return time.Duration(c.FullSyncIntervalMinutes) * time.Minute
}

func (c *Config) DebounceQuiet() time.Duration {
	return time.Duration(c.WebhookDebounceSeconds) * time.Second
}

func (c *Config) BackfillDelay() time.Duration {
	return time.Duration(c.BackfillDelayMS) * time.Millisecond
}

// Load builds the effective configuration from the process environment and
// the optional YAML file at path.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			appLog.Info("config file not found; using defaults", "path", path)
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg, lookup)
	cfg.Normalize()
	return cfg, nil
}

func applyEnv(c *Config, lookup func(string) (string, bool)) {
	env := envReader{lookup: lookup}

	env.getString("FS_OAUTH_TOKEN", &c.RemoteToken)
	env.getString("CALENDAR_NAME", &c.CalendarDisplayName)
	env.getString("TIMEZONE", &c.Timezone)
	env.getInt("PARTIAL_SYNC_MINUTES", &c.PartialSyncIntervalMinutes)
	env.getInt("FULL_SYNC_MINUTES", &c.FullSyncIntervalMinutes)
	env.getInt("PARTIAL_WINDOW_DAYS", &c.PartialWindowDays)
	env.getInt("WEBHOOK_DEBOUNCE_SECONDS", &c.WebhookDebounceSeconds)
	env.getString("DATA_DIR", &c.StorageDir)
	env.getString("STORAGE_BACKEND", &c.StorageBackend)
	env.getString("GOOGLE_CALENDAR_ID", &c.ExternalCalendarID)
	env.getString("GOOGLE_CREDENTIALS_PATH", &c.ExternalCredentialsPath)
	env.getBool("ENABLE_GOOGLE_PUSH", &c.EnableExternalPush)
	env.getBool("ENABLE_HISTORY_BACKFILL", &c.EnableHistoryBackfill)
	env.getBool("RESET_STORE_ON_STARTUP", &c.ResetStoreOnStartup)
	env.getString("ACCESS_SECRET", &c.AccessSecret)
	env.getInt("PUSH_RATE_PER_SECOND", &c.PushRatePerSecond)
	env.getInt("PUSH_WORKERS", &c.PushWorkers)
	env.getInt("BACKFILL_DELAY_MS", &c.BackfillDelayMS)
	env.getString("LOG_LEVEL", &c.LogLevel)
	env.getString("LOG_FILE", &c.LogFile)

	// LISTEN wins over PORT.
	var port string
	env.getString("PORT", &port)
	if port != "" {
		c.Listen = ":" + port
	}
	env.getString("LISTEN", &c.Listen)
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e envReader) getString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e envReader) getInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		appLog.Warn("ignoring non-integer env value", "key", key, "value", v)
		return
	}
	*dst = n
}

func (e envReader) getBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		appLog.Warn("ignoring non-boolean env value", "key", key, "value", v)
		return
	}
	*dst = b
}

// Save writes the given configuration to the specified path.
//
// The file is written atomically with 0600 permissions since it holds
// secrets. Missing parent directories are created.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, 0o600)
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.RemoteToken != "" {
		out.RemoteToken = "***"
	}
	if out.AccessSecret != "" {
		out.AccessSecret = "***"
	}
	return &out
}
