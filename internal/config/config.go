package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the YAML file.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvHeatUsername  = "HEAT_USERNAME"
	EnvHeatPassword  = "HEAT_PASSWORD"
	EnvPort          = "PORT"
	EnvEnvironment   = "HEATBOT_ENV"
)

// Config captures all tunable settings for the HEAT case bot.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Target    TargetConfig    `yaml:"target"`
	Browser   BrowserConfig   `yaml:"browser"`
	Session   SessionConfig   `yaml:"session"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retry     RetryConfig     `yaml:"retry"`
	Fields    []FieldConfig   `yaml:"fields"`
	Health    HealthConfig    `yaml:"health"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// BotConfig configures the Telegram side.
type BotConfig struct {
	// Bot API token. Normally supplied through TELEGRAM_TOKEN.
	Token string `yaml:"token"`
	// Report format for case answers: text | document.
	Format string `yaml:"format"`
	// Upper bound on updates handled at the same time.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
	// Restart attempts when polling cannot be started.
	PollRestarts int  `yaml:"poll_restarts"`
	Debug        bool `yaml:"debug"`
}

// LocatorConfig is the YAML form of a locator: kind plus value.
type LocatorConfig struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

// TargetConfig describes the ticketing system being scraped.
type TargetConfig struct {
	// Driver selects how pages are loaded: browser (Chrome via Rod) | webform (plain HTTP).
	Driver  string `yaml:"driver"`
	BaseURL string `yaml:"base_url"`
	// Login pages tried in order until one shows a login form.
	LoginPaths []string `yaml:"login_paths"`
	// Form endpoint used by the webform driver.
	LoginAction string `yaml:"login_action"`
	SearchPath  string `yaml:"search_path"`
	// Query parameter carrying the case number for the webform driver.
	SearchParam string `yaml:"search_param"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UserAgent   string `yaml:"user_agent"`

	UsernameLocators []LocatorConfig `yaml:"username_locators"`
	PasswordLocators []LocatorConfig `yaml:"password_locators"`
	SubmitLocators   []LocatorConfig `yaml:"submit_locators"`
	SearchLocators   []LocatorConfig `yaml:"search_locators"`
	ResultLocators   []LocatorConfig `yaml:"result_locators"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When empty, Chrome is launched.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (binary followed by flags). Empty lets Rod find or download Chrome.
	Launch   []string `yaml:"launch"`
	Headless *bool    `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
}

type SessionConfig struct {
	Timeout string `yaml:"timeout"`
}

type FetchConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	AttemptTimeout string `yaml:"attempt_timeout"`
	// Fixed wait after submitting a search so results can render.
	SettleWait string `yaml:"settle_wait"`
	// Minimum number of resolved fields before an extraction is trusted.
	MinFields int `yaml:"min_fields"`
	// Substitute a disclosed placeholder record when every attempt failed transiently.
	SyntheticFallback bool `yaml:"synthetic_fallback"`
}

type RetryConfig struct {
	InitialInterval string  `yaml:"initial_interval"`
	MaxInterval     string  `yaml:"max_interval"`
	Multiplier      float64 `yaml:"multiplier"`
}

// FieldConfig overrides the locator chain for one logical field.
type FieldConfig struct {
	Field    string          `yaml:"field"`
	Label    string          `yaml:"label"`
	Locators []LocatorConfig `yaml:"locators"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TelemetryConfig struct {
	// OTLP/HTTP endpoint URL for traces. Empty keeps tracing as a no-op.
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Headers      map[string]string `yaml:"headers"`
	ServiceName  string            `yaml:"service_name"`
}

// RecorderConfig controls the per-request attempt trace files.
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Keep    int    `yaml:"keep"`
}

// ConfigurationError lists every required value that is absent.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required configuration: " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		return "invalid configuration: " + e.Err.Error()
	}
	return "invalid configuration"
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DefaultConfig provides defaults matching the production HEAT deployment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:        "heatbot",
			Version:     "0.3.0",
			Environment: "production",
			LogLevel:    "info",
		},
		Bot: BotConfig{
			Format:        "text",
			MaxConcurrent: 4,
			PollTimeout:   60,
			PollRestarts:  5,
		},
		Target: TargetConfig{
			Driver:      "browser",
			BaseURL:     "https://judit.ramajudicial.gov.co/HEAT/",
			LoginPaths:  []string{"", "Default.aspx", "login.asp"},
			LoginAction: "login.asp",
			SearchPath:  "Default.aspx",
			SearchParam: "search",
			UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "20s",
			ViewportWidth:            1366,
			ViewportHeight:           900,
		},
		Session: SessionConfig{Timeout: "30m"},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			AttemptTimeout: "60s",
			SettleWait:     "3s",
			MinFields:      2,
		},
		Retry: RetryConfig{
			InitialInterval: "2s",
			MaxInterval:     "10s",
			Multiplier:      2,
		},
		Health: HealthConfig{Enabled: true, Port: 8080},
		Telemetry: TelemetryConfig{
			ServiceName: "heatbot",
		},
		Recorder: RecorderConfig{
			Dir:  "data/traces",
			Keep: 20,
		},
	}
}

// Load reads YAML config from disk and overlays defaults. An empty path yields the defaults.
// Environment overrides are applied separately by ApplyEnv so callers can validate once.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, &ConfigurationError{Err: fmt.Errorf("parsing config %s: %w", path, err)}
	}
	return cfg, nil
}

// ApplyEnv overlays process environment values. lookup is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTelegramToken); ok && v != "" {
		c.Bot.Token = v
	}
	if v, ok := lookup(EnvHeatUsername); ok && v != "" {
		c.Target.Username = v
	}
	if v, ok := lookup(EnvHeatPassword); ok && v != "" {
		c.Target.Password = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Health.Port = port
		}
	}
	if v, ok := lookup(EnvEnvironment); ok && v != "" {
		c.Server.Environment = v
	}
}

// Validate ensures required fields exist so the bot can start deterministically.
// requireToken is false for the one-shot fetch command, which never talks to Telegram.
func (c *Config) Validate(requireToken bool) error {
	var missing []string
	if requireToken && c.Bot.Token == "" {
		missing = append(missing, EnvTelegramToken)
	}
	if c.Target.Username == "" {
		missing = append(missing, EnvHeatUsername)
	}
	if c.Target.Password == "" {
		missing = append(missing, EnvHeatPassword)
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	if c.Server.Name == "" {
		return &ConfigurationError{Err: errors.New("server.name is required")}
	}
	if c.Target.BaseURL == "" {
		return &ConfigurationError{Err: errors.New("target.base_url is required")}
	}
	switch c.Target.Driver {
	case "browser", "webform":
	default:
		return &ConfigurationError{Err: fmt.Errorf("target.driver must be browser or webform, got %q", c.Target.Driver)}
	}
	// html is an alias for document.
	switch strings.ToLower(strings.TrimSpace(c.Bot.Format)) {
	case "", "text", "document", "html":
	default:
		return &ConfigurationError{Err: fmt.Errorf("bot.format must be text, document or html, got %q", c.Bot.Format)}
	}
	for _, f := range c.Fields {
		if f.Field == "" {
			return &ConfigurationError{Err: errors.New("fields[].field is required")}
		}
	}
	return nil
}

// Presence reports, per required variable, whether a value is configured. Values are never returned.
func (c *Config) Presence() map[string]bool {
	return map[string]bool{
		EnvTelegramToken: c.Bot.Token != "",
		EnvHeatUsername:  c.Target.Username != "",
		EnvHeatPassword:  c.Target.Password != "",
	}
}

// MarshalLogObject lets the config be logged with zap.Object without leaking secrets.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", c.Server.Name)
	enc.AddString("version", c.Server.Version)
	enc.AddString("environment", c.Server.Environment)
	enc.AddString("driver", c.Target.Driver)
	enc.AddString("base_url", c.Target.BaseURL)
	enc.AddString("format", c.Bot.Format)
	enc.AddInt("max_attempts", c.Fetch.MaxAttempts)
	enc.AddDuration("session_timeout", c.Session.TimeoutDuration())
	enc.AddBool("synthetic_fallback", c.Fetch.SyntheticFallback)
	enc.AddBool("health", c.Health.Enabled)
	enc.AddInt("health_port", c.Health.Port)
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 20*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1366
	}
	return b.ViewportWidth
}

func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 900
	}
	return b.ViewportHeight
}

// TimeoutDuration is how long an authenticated session is reused.
func (s SessionConfig) TimeoutDuration() time.Duration {
	return parseDuration(s.Timeout, 30*time.Minute)
}

func (f FetchConfig) AttemptTimeoutDuration() time.Duration {
	return parseDuration(f.AttemptTimeout, 60*time.Second)
}

func (f FetchConfig) SettleWaitDuration() time.Duration {
	return parseDuration(f.SettleWait, 3*time.Second)
}

func (f FetchConfig) GetMaxAttempts() int {
	if f.MaxAttempts <= 0 {
		return 3
	}
	return f.MaxAttempts
}

func (r RetryConfig) InitialIntervalDuration() time.Duration {
	return parseDuration(r.InitialInterval, 2*time.Second)
}

func (r RetryConfig) MaxIntervalDuration() time.Duration {
	return parseDuration(r.MaxInterval, 10*time.Second)
}

// Level maps log_level onto a zap level, defaulting to info.
func (s ServerConfig) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
