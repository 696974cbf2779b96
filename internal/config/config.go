// Package config loads pane-pilot configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PANE_PILOT_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .pane-pilot.yaml in current directory
//  2. ~/.config/pane-pilot/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/pane-pilot/internal/health"
	"github.com/timvw/pane-pilot/internal/prompt"
)

// LogConfig controls the structured log output.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// AdvisorConfig configures the optional LLM pane advisor.
type AdvisorConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// HealthConfig overrides the health scorer weights and bands.
type HealthConfig struct {
	// Weights are relative; they are normalized to sum to 1.0.
	Weights map[string]float64 `yaml:"weights"`
	Bands   *health.Bands      `yaml:"bands"`
}

// Config holds all pane-pilot configuration.
type Config struct {
	// Multiplexer name; empty auto-detects.
	Mux string `yaml:"mux"`

	// Controller loop
	PollInterval    string           `yaml:"poll_interval"`   // Go duration string, e.g. "1s"
	CaptureLines    int              `yaml:"capture_lines"`   // lines of scrollback per capture
	CaptureTimeout  string           `yaml:"capture_timeout"` // Go duration string
	MaxFailures     int              `yaml:"max_failures"`    // consecutive capture failures before ERROR
	ClassifyWindow  int              `yaml:"classify_window"` // non-empty bottom lines examined
	AutoRespond     *bool            `yaml:"auto_respond"`    // nil means default (true)
	Overrides       prompt.Overrides `yaml:"overrides"`
	ExcludeSessions []string         `yaml:"exclude_sessions"`

	// Dispatcher
	SendTimeout   string  `yaml:"send_timeout"`
	SendAttempts  int     `yaml:"send_attempts"`
	SendBackoff   string  `yaml:"send_backoff"`
	DispatchRate  float64 `yaml:"dispatch_rate"` // sends per second
	DispatchBurst int     `yaml:"dispatch_burst"`
	HistorySize   int     `yaml:"history_size"`

	// Session cache
	CacheTTL   string `yaml:"cache_ttl"`
	CacheGrace string `yaml:"cache_grace"`

	Health HealthConfig `yaml:"health"`
	Log    LogConfig    `yaml:"log"`

	// AuditDB is the SQLite file receiving dispatch records. Empty disables auditing.
	AuditDB string `yaml:"audit_db"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs

	Advisor AdvisorConfig `yaml:"advisor"`

	// EventSocket is the unixgram socket for hook wake-ups. "off" disables it.
	EventSocket string `yaml:"event_socket"`

	// Parsed durations (not from YAML, set after loading)
	PollDuration           time.Duration `yaml:"-"`
	CaptureTimeoutDuration time.Duration `yaml:"-"`
	SendTimeoutDuration    time.Duration `yaml:"-"`
	SendBackoffDuration    time.Duration `yaml:"-"`
	CacheTTLDuration       time.Duration `yaml:"-"`
	CacheGraceDuration     time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	autoRespond := true
	return &Config{
		PollInterval:   "1s",
		CaptureLines:   50,
		CaptureTimeout: "2s",
		MaxFailures:    5,
		ClassifyWindow: prompt.DefaultWindow,
		AutoRespond:    &autoRespond,
		SendTimeout:    "2s",
		SendAttempts:   3,
		SendBackoff:    "200ms",
		DispatchRate:   5,
		DispatchBurst:  5,
		HistorySize:    500,
		CacheTTL:       "5s",
		CacheGrace:     "30s",
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Advisor: AdvisorConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 1024,
		},
	}
}

// Load reads configuration from the default file locations and environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from path (or the default locations when path
// is empty) and the environment. Environment variables always override file
// values.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		path, data, err = findConfigFile()
	}
	if err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) parseDurations() error {
	durations := []struct {
		name     string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"poll interval", cfg.PollInterval, time.Second, &cfg.PollDuration},
		{"capture timeout", cfg.CaptureTimeout, 2 * time.Second, &cfg.CaptureTimeoutDuration},
		{"send timeout", cfg.SendTimeout, 2 * time.Second, &cfg.SendTimeoutDuration},
		{"send backoff", cfg.SendBackoff, 200 * time.Millisecond, &cfg.SendBackoffDuration},
		{"cache TTL", cfg.CacheTTL, 5 * time.Second, &cfg.CacheTTLDuration},
		{"cache grace", cfg.CacheGrace, 30 * time.Second, &cfg.CacheGraceDuration},
	}
	for _, d := range durations {
		v, err := parseDurationOrDisable(d.raw, d.fallback)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate rejects settings the controllers cannot run with.
func (cfg *Config) Validate() error {
	var errs []error
	positiveDur := map[string]time.Duration{
		"poll_interval":   cfg.PollDuration,
		"capture_timeout": cfg.CaptureTimeoutDuration,
		"send_timeout":    cfg.SendTimeoutDuration,
	}
	for name, d := range positiveDur {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if cfg.SendBackoffDuration < 0 || cfg.CacheTTLDuration < 0 || cfg.CacheGraceDuration < 0 {
		errs = append(errs, fmt.Errorf("send_backoff, cache_ttl and cache_grace must not be negative"))
	}
	positiveInt := map[string]int{
		"capture_lines":   cfg.CaptureLines,
		"max_failures":    cfg.MaxFailures,
		"classify_window": cfg.ClassifyWindow,
		"send_attempts":   cfg.SendAttempts,
		"dispatch_burst":  cfg.DispatchBurst,
		"history_size":    cfg.HistorySize,
	}
	for name, n := range positiveInt {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if cfg.DispatchRate <= 0 {
		errs = append(errs, fmt.Errorf("dispatch_rate must be positive, got %v", cfg.DispatchRate))
	}
	switch cfg.Advisor.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown advisor provider %q (supported: anthropic, openai)", cfg.Advisor.Provider))
	}
	if _, err := cfg.HealthScorer(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AutoRespondEnabled reports the effective auto-respond setting.
func (cfg *Config) AutoRespondEnabled() bool {
	return cfg.AutoRespond == nil || *cfg.AutoRespond
}

// HealthScorer builds the health scorer from the configured weights and bands.
func (cfg *Config) HealthScorer() (*health.Scorer, error) {
	weights := health.DefaultWeights()
	if len(cfg.Health.Weights) > 0 {
		relative := health.Weights{}
		for k, v := range cfg.Health.Weights {
			relative[health.Category(k)] = v
		}
		var err error
		if weights, err = health.Normalize(relative); err != nil {
			return nil, fmt.Errorf("health weights: %w", err)
		}
	}
	bands := health.DefaultBands()
	if cfg.Health.Bands != nil {
		bands = *cfg.Health.Bands
	}
	s, err := health.NewScorer(weights, bands)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return s, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	if data, err := os.ReadFile(".pane-pilot.yaml"); err == nil {
		return ".pane-pilot.yaml", data, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "pane-pilot", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	setString(&cfg.Mux, file.Mux)
	setString(&cfg.PollInterval, file.PollInterval)
	setInt(&cfg.CaptureLines, file.CaptureLines)
	setString(&cfg.CaptureTimeout, file.CaptureTimeout)
	setInt(&cfg.MaxFailures, file.MaxFailures)
	setInt(&cfg.ClassifyWindow, file.ClassifyWindow)
	if file.AutoRespond != nil {
		v := *file.AutoRespond
		cfg.AutoRespond = &v
	}
	setString(&cfg.Overrides.YesNo, file.Overrides.YesNo)
	setString(&cfg.Overrides.SelectTwo, file.Overrides.SelectTwo)
	setString(&cfg.Overrides.SelectMany, file.Overrides.SelectMany)
	if len(file.ExcludeSessions) > 0 {
		cfg.ExcludeSessions = file.ExcludeSessions
	}

	setString(&cfg.SendTimeout, file.SendTimeout)
	setInt(&cfg.SendAttempts, file.SendAttempts)
	setString(&cfg.SendBackoff, file.SendBackoff)
	if file.DispatchRate > 0 {
		cfg.DispatchRate = file.DispatchRate
	}
	setInt(&cfg.DispatchBurst, file.DispatchBurst)
	setInt(&cfg.HistorySize, file.HistorySize)

	setString(&cfg.CacheTTL, file.CacheTTL)
	setString(&cfg.CacheGrace, file.CacheGrace)

	if len(file.Health.Weights) > 0 {
		cfg.Health.Weights = file.Health.Weights
	}
	if file.Health.Bands != nil {
		cfg.Health.Bands = file.Health.Bands
	}

	setString(&cfg.Log.File, file.Log.File)
	setString(&cfg.Log.Level, file.Log.Level)
	setString(&cfg.Log.Format, file.Log.Format)
	setInt(&cfg.Log.MaxSizeMB, file.Log.MaxSizeMB)
	setInt(&cfg.Log.MaxBackups, file.Log.MaxBackups)

	setString(&cfg.AuditDB, file.AuditDB)
	setString(&cfg.OTELEndpoint, file.OTELEndpoint)
	setString(&cfg.OTELHeaders, file.OTELHeaders)

	setString(&cfg.Advisor.Provider, file.Advisor.Provider)
	setString(&cfg.Advisor.Model, file.Advisor.Model)
	setString(&cfg.Advisor.BaseURL, file.Advisor.BaseURL)
	setString(&cfg.Advisor.APIKey, file.Advisor.APIKey)
	if file.Advisor.MaxTokens > 0 {
		cfg.Advisor.MaxTokens = file.Advisor.MaxTokens
	}

	setString(&cfg.EventSocket, file.EventSocket)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	strs := map[string]*string{
		"PANE_PILOT_MUX":                  &cfg.Mux,
		"PANE_PILOT_POLL_INTERVAL":        &cfg.PollInterval,
		"PANE_PILOT_CAPTURE_TIMEOUT":      &cfg.CaptureTimeout,
		"PANE_PILOT_SEND_TIMEOUT":         &cfg.SendTimeout,
		"PANE_PILOT_SEND_BACKOFF":         &cfg.SendBackoff,
		"PANE_PILOT_CACHE_TTL":            &cfg.CacheTTL,
		"PANE_PILOT_CACHE_GRACE":          &cfg.CacheGrace,
		"PANE_PILOT_OVERRIDE_YES_NO":      &cfg.Overrides.YesNo,
		"PANE_PILOT_OVERRIDE_SELECT_TWO":  &cfg.Overrides.SelectTwo,
		"PANE_PILOT_OVERRIDE_SELECT_MANY": &cfg.Overrides.SelectMany,
		"PANE_PILOT_LOG_FILE":             &cfg.Log.File,
		"PANE_PILOT_LOG_LEVEL":            &cfg.Log.Level,
		"PANE_PILOT_LOG_FORMAT":           &cfg.Log.Format,
		"PANE_PILOT_AUDIT_DB":             &cfg.AuditDB,
		"PANE_PILOT_OTEL_ENDPOINT":        &cfg.OTELEndpoint,
		"PANE_PILOT_OTEL_HEADERS":         &cfg.OTELHeaders,
		"PANE_PILOT_ADVISOR_PROVIDER":     &cfg.Advisor.Provider,
		"PANE_PILOT_ADVISOR_MODEL":        &cfg.Advisor.Model,
		"PANE_PILOT_ADVISOR_BASE_URL":     &cfg.Advisor.BaseURL,
		"PANE_PILOT_ADVISOR_API_KEY":      &cfg.Advisor.APIKey,
		"PANE_PILOT_EVENT_SOCKET":         &cfg.EventSocket,
	}
	for key, dst := range strs {
		setString(dst, os.Getenv(key))
	}

	ints := map[string]*int{
		"PANE_PILOT_CAPTURE_LINES":   &cfg.CaptureLines,
		"PANE_PILOT_MAX_FAILURES":    &cfg.MaxFailures,
		"PANE_PILOT_CLASSIFY_WINDOW": &cfg.ClassifyWindow,
		"PANE_PILOT_SEND_ATTEMPTS":   &cfg.SendAttempts,
		"PANE_PILOT_HISTORY_SIZE":    &cfg.HistorySize,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	if v := os.Getenv("PANE_PILOT_AUTO_RESPOND"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PANE_PILOT_AUTO_RESPOND %q: %w", v, err)
		}
		cfg.AutoRespond = &b
	}
	if v := os.Getenv("PANE_PILOT_EXCLUDE_SESSIONS"); v != "" {
		cfg.ExcludeSessions = splitList(v)
	}

	// Standard OTEL variables apply when pane-pilot's own are unset.
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.OTELHeaders == "" {
		cfg.OTELHeaders = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	}

	// API key fallbacks
	if cfg.Advisor.APIKey == "" {
		for _, key := range []string{"AZURE_OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
			if v := os.Getenv(key); v != "" {
				cfg.Advisor.APIKey = v
				break
			}
		}
	}

	// Azure base URL fallback
	if cfg.Advisor.BaseURL == "" {
		if rn := os.Getenv("AZURE_RESOURCE_NAME"); rn != "" {
			switch cfg.Advisor.Provider {
			case "anthropic":
				cfg.Advisor.BaseURL = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
			case "openai":
				cfg.Advisor.BaseURL = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// MatchesExcludeList reports whether name matches any pattern. A trailing "*"
// matches by prefix; otherwise the match is exact.
func MatchesExcludeList(name string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}

// IsAzureEndpoint returns true if the URL is an Azure endpoint.
func IsAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}
