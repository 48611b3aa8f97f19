package config

import "time"

// Config represents the complete application configuration. Values come
// from defaults, an optional YAML file and the environment, in that order.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Roster   RosterConfig   `mapstructure:"roster"`
	Stats    StatsConfig    `mapstructure:"stats"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the answer archive database. Driver is "libsql"
// (local file or Turso URL) or "postgres".
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// QuotaConfig holds the upstream generation limits.
type QuotaConfig struct {
	RPMLimit     int           `mapstructure:"rpm_limit"`
	RPDLimit     int           `mapstructure:"rpd_limit"`
	PacingMargin time.Duration `mapstructure:"pacing_margin"`
}

// DispatchConfig controls bulk fan-out.
type DispatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
}

// RosterConfig locates the respondent roster file.
type RosterConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// StatsConfig selects where per-day outcome counters go. Backend is
// "memory", "redis" or "none".
type StatsConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ThrottleConfig limits how often a single client may start bulk runs.
type ThrottleConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format of server log lines: json or console.
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port of the dedicated exporter; /metrics on the main port proxies it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
