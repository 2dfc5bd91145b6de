package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"exambridge/internal/browser"
	"exambridge/internal/match"
	"exambridge/internal/session"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "exambridge.yaml"

// Config holds all exambridge configuration.
type Config struct {
	// Question bank sources
	Bank BankConfig `yaml:"bank"`

	// Matching engine parameters
	Matching MatchingConfig `yaml:"matching"`

	// Session store lifetime
	Session SessionConfig `yaml:"session"`

	// Browser host
	Browser BrowserConfig `yaml:"browser"`

	// Unmatched-question journal
	Journal JournalConfig `yaml:"journal"`

	// Local status API
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BankConfig configures where questions are loaded from.
type BankConfig struct {
	Paths         []string `yaml:"paths"` // files or directories of *.json
	Watch         bool     `yaml:"watch"` // reload on change
	WatchDebounce string   `yaml:"watch_debounce"`
	LintDistance  int      `yaml:"lint_distance"` // edit distance for `bank lint`
}

// MatchingConfig configures the matching engine.
type MatchingConfig struct {
	Threshold            float64 `yaml:"threshold"`
	QuestionWeight       float64 `yaml:"question_weight"`
	OptionWeight         float64 `yaml:"option_weight"`
	OptionMatchFloor     float64 `yaml:"option_match_floor"`
	OptionCountTolerance int     `yaml:"option_count_tolerance"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	TTL           string `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
}

// BrowserConfig configures the browser host.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"` // connect instead of launching
	Launch              []string `yaml:"launch"`       // binary followed by flags
	Headless            bool     `yaml:"headless"`
	StartURL            string   `yaml:"start_url"`
	SessionStore        string   `yaml:"session_store"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	InterceptPattern    string   `yaml:"intercept_pattern"` // hijack pattern for exam API calls
}

// JournalConfig configures the unmatched-question journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Buffer  int    `yaml:"buffer"`
}

// APIConfig configures the status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	m := match.DefaultConfig()
	return &Config{
		Bank: BankConfig{
			Paths:         []string{"bank"},
			Watch:         true,
			WatchDebounce: "500ms",
			LintDistance:  2,
		},

		Matching: MatchingConfig{
			Threshold:            m.Threshold,
			QuestionWeight:       m.QuestionWeight,
			OptionWeight:         m.OptionWeight,
			OptionMatchFloor:     m.OptionMatchFloor,
			OptionCountTolerance: m.OptionCountTolerance,
		},

		Session: SessionConfig{
			TTL:           "3h",
			SweepInterval: "1m",
		},

		Browser: BrowserConfig{
			Headless:            false,
			SessionStore:        "data/browser_sessions.json",
			NavigationTimeoutMs: 30000,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			InterceptPattern:    browser.DefaultInterceptPattern,
		},

		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/journal.db",
			Buffer:  256,
		},

		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8765",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Bank paths, list separated like PATH
	if paths := os.Getenv("EXAMBRIDGE_BANK"); paths != "" {
		c.Bank.Paths = filepath.SplitList(paths)
	}

	// Browser
	if url := os.Getenv("EXAMBRIDGE_START_URL"); url != "" {
		c.Browser.StartURL = url
	}
	if url := os.Getenv("EXAMBRIDGE_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}

	// API and journal
	if addr := os.Getenv("EXAMBRIDGE_API_ADDR"); addr != "" {
		c.API.Addr = addr
	}
	if path := os.Getenv("EXAMBRIDGE_JOURNAL"); path != "" {
		c.Journal.Path = path
	}

	if level := os.Getenv("EXAMBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.TTL)
	if err != nil || d <= 0 {
		return 3 * time.Hour
	}
	return d
}

// GetSweepInterval returns the session sweep interval as a duration.
func (c *Config) GetSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Session.SweepInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// GetWatchDebounce returns the bank watcher debounce as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Bank.WatchDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// MatchConfig returns the matching parameters in engine form.
func (c *Config) MatchConfig() match.Config {
	return match.Config{
		Threshold:            c.Matching.Threshold,
		QuestionWeight:       c.Matching.QuestionWeight,
		OptionWeight:         c.Matching.OptionWeight,
		OptionMatchFloor:     c.Matching.OptionMatchFloor,
		OptionCountTolerance: c.Matching.OptionCountTolerance,
	}
}

// SessionStoreConfig returns the session parameters in store form.
func (c *Config) SessionStoreConfig() session.Config {
	return session.Config{
		TTL:           c.GetSessionTTL(),
		SweepInterval: c.GetSweepInterval(),
	}
}

// BrowserSettings converts the browser block for browser.NewSessionManager.
func (c *Config) BrowserSettings() browser.Config {
	return browser.Config{
		DebuggerURL:         c.Browser.DebuggerURL,
		Launch:              c.Browser.Launch,
		Headless:            c.Browser.Headless,
		ViewportWidth:       c.Browser.ViewportWidth,
		ViewportHeight:      c.Browser.ViewportHeight,
		NavigationTimeoutMs: c.Browser.NavigationTimeoutMs,
		SessionStore:        c.Browser.SessionStore,
		InterceptPattern:    c.Browser.InterceptPattern,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Bank.Paths) == 0 {
		errs = append(errs, errors.New("bank.paths: at least one question bank path is required"))
	}
	if err := c.MatchConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		errs = append(errs, fmt.Errorf("session.ttl: %w", err))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path: required when the journal is enabled"))
	}
	if c.API.Enabled && c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr: required when the API is enabled"))
	}
	if err := c.Logging.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
