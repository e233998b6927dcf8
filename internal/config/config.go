// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	RemoteBaseURL string // empty disables the remote store for the whole engine
	RecognizerURL string
	Locale        string

	DBPath    string
	DataDir   string
	ExportDir string // empty disables docx export

	DebounceWait     time.Duration
	SaveThrottle     time.Duration
	StatusRevert     time.Duration
	SummaryInterval  time.Duration
	RestartDelay     time.Duration
	MeetingIdleTTL   time.Duration
	ArchiveRetention time.Duration // 0 keeps archived meetings forever

	AllowedOrigins []string

	GeminiAPIKeys []string
	GeminiModel   string
}

// Load reads configuration from an optional YAML file named by
// QUIRE_CONFIG, then from environment variables. Env wins over file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080",
		RecognizerURL:   "ws://127.0.0.1:8764/stream",
		Locale:          "en-US",
		DBPath:          "./data/quire.db",
		DataDir:         "./data",
		ExportDir:       "./data/exports",
		DebounceWait:    800 * time.Millisecond,
		SaveThrottle:    250 * time.Millisecond,
		StatusRevert:    2 * time.Second,
		SummaryInterval: 3 * time.Minute,
		RestartDelay:    time.Second,
		MeetingIdleTTL:  60 * time.Minute,
		AllowedOrigins:  []string{"http://localhost:5173"},
		GeminiModel:     "gemini-2.0-flash",
	}

	if path := os.Getenv("QUIRE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config with YAML tags. Durations are strings in
// time.ParseDuration form.
type fileConfig struct {
	Port          *string `yaml:"port"`
	RemoteBaseURL *string `yaml:"remote_base_url"`
	RecognizerURL *string `yaml:"recognizer_url"`
	Locale        *string `yaml:"locale"`

	DBPath    *string `yaml:"db_path"`
	DataDir   *string `yaml:"data_dir"`
	ExportDir *string `yaml:"export_dir"`

	DebounceWait     *string `yaml:"debounce_wait"`
	SaveThrottle     *string `yaml:"save_throttle"`
	StatusRevert     *string `yaml:"status_revert"`
	SummaryInterval  *string `yaml:"summary_interval"`
	RestartDelay     *string `yaml:"restart_delay"`
	MeetingIdleTTL   *string `yaml:"meeting_idle_ttl"`
	ArchiveRetention *string `yaml:"archive_retention"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	GeminiAPIKeys []string `yaml:"gemini_api_keys"`
	GeminiModel   *string  `yaml:"gemini_model"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", *src, err)
		}
		*dst = d
		return nil
	}

	setString(&c.Port, fc.Port)
	setString(&c.RemoteBaseURL, fc.RemoteBaseURL)
	setString(&c.RecognizerURL, fc.RecognizerURL)
	setString(&c.Locale, fc.Locale)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.ExportDir, fc.ExportDir)
	setString(&c.GeminiModel, fc.GeminiModel)

	for dst, src := range map[*time.Duration]*string{
		&c.DebounceWait:     fc.DebounceWait,
		&c.SaveThrottle:     fc.SaveThrottle,
		&c.StatusRevert:     fc.StatusRevert,
		&c.SummaryInterval:  fc.SummaryInterval,
		&c.RestartDelay:     fc.RestartDelay,
		&c.MeetingIdleTTL:   fc.MeetingIdleTTL,
		&c.ArchiveRetention: fc.ArchiveRetention,
	} {
		if err := setDuration(dst, src); err != nil {
			return err
		}
	}

	if fc.AllowedOrigins != nil {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.GeminiAPIKeys != nil {
		c.GeminiAPIKeys = fc.GeminiAPIKeys
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.RemoteBaseURL = getEnv("REMOTE_BASE_URL", c.RemoteBaseURL)
	c.RecognizerURL = getEnv("RECOGNIZER_URL", c.RecognizerURL)
	c.Locale = getEnv("CAPTURE_LOCALE", c.Locale)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.ExportDir = getEnv("EXPORT_DIR", c.ExportDir)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)

	c.DebounceWait = getEnvDuration("AUTOSAVE_DEBOUNCE", c.DebounceWait)
	c.SaveThrottle = getEnvDuration("SAVE_THROTTLE", c.SaveThrottle)
	c.StatusRevert = getEnvDuration("STATUS_REVERT", c.StatusRevert)
	c.SummaryInterval = getEnvDuration("SUMMARY_INTERVAL", c.SummaryInterval)
	c.RestartDelay = getEnvDuration("RESTART_DELAY", c.RestartDelay)
	c.MeetingIdleTTL = getEnvDuration("MEETING_IDLE_TTL", c.MeetingIdleTTL)
	c.ArchiveRetention = getEnvDuration("ARCHIVE_RETENTION", c.ArchiveRetention)

	if v := getEnvList("ALLOWED_ORIGINS"); v != nil {
		c.AllowedOrigins = v
	}
	if v := getEnvList("GEMINI_API_KEYS"); v != nil {
		c.GeminiAPIKeys = v
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if c.Locale == "" {
		return fmt.Errorf("CAPTURE_LOCALE cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"AUTOSAVE_DEBOUNCE": c.DebounceWait,
		"SAVE_THROTTLE":     c.SaveThrottle,
		"STATUS_REVERT":     c.StatusRevert,
		"SUMMARY_INTERVAL":  c.SummaryInterval,
		"RESTART_DELAY":     c.RestartDelay,
		"MEETING_IDLE_TTL":  c.MeetingIdleTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.ArchiveRetention < 0 {
		return fmt.Errorf("ARCHIVE_RETENTION cannot be negative")
	}
	return nil
}

// RemoteEnabled reports whether the engine has a remote store to sync
// against. Without one every document runs in local-only mode.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteBaseURL != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, origin := range c.AllowedOrigins {
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated env value. Returns nil when the
// variable is unset so callers can keep their current value.
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
