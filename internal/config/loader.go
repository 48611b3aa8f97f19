// Package config loads panelsim configuration from viper into typed
// structs.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName is used for XDG paths when no app identity is available.
const AppName = "panelsim"

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv lists environment names accepted in addition to the prefixed
// form, for deployments configured before the prefix existed.
var legacyEnv = map[string][]string{
	"quota.rpm_limit":      {"GEMINI_RPM_LIMIT"},
	"quota.rpd_limit":      {"GEMINI_RPD_LIMIT"},
	"llm.api_key":          {"GEMINI_API_KEY"},
	"llm.model":            {"GEMINI_MODEL"},
	"dispatch.concurrency": {"BULK_CONCURRENCY"},
	"cors.allowed_origins": {"FRONTEND_ORIGIN"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	// Bulk runs stream for minutes under tight quotas.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("quota.rpm_limit", 15)
	v.SetDefault("quota.rpd_limit", 1500)
	v.SetDefault("quota.pacing_margin", "500ms")

	v.SetDefault("dispatch.concurrency", 5)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.temperature", 0.9)

	v.SetDefault("roster.path", "data/respondents.yaml")
	v.SetDefault("roster.watch", true)

	v.SetDefault("stats.backend", "memory")
	v.SetDefault("stats.redis_addr", "localhost:6379")
	v.SetDefault("stats.redis_password", "")
	v.SetDefault("stats.redis_db", 0)
	v.SetDefault("stats.prefix", "panelsim:stats")
	v.SetDefault("stats.ttl", "720h")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("throttle.enabled", true)
	v.SetDefault("throttle.rps", 0.2)
	v.SetDefault("throttle.burst", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.environment", "production")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
}

// BindEnv binds every known key to PREFIX_SECTION_KEY plus its legacy
// names. The prefixed name wins when both are set.
func BindEnv(v *viper.Viper, prefix string) error {
	prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
	for _, key := range v.AllKeys() {
		names := []string{envName(prefix, key)}
		names = append(names, legacyEnv[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// Load decodes the settings held by v into a Config, validates it and makes
// it the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Quota.RPMLimit < 1 {
		errs = append(errs, fmt.Errorf("quota.rpm_limit must be at least 1, got %d", c.Quota.RPMLimit))
	}
	if c.Quota.RPDLimit < 1 {
		errs = append(errs, fmt.Errorf("quota.rpd_limit must be at least 1, got %d", c.Quota.RPDLimit))
	}
	if c.Quota.PacingMargin < 0 {
		errs = append(errs, fmt.Errorf("quota.pacing_margin must not be negative"))
	}
	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("dispatch.concurrency must be at least 1, got %d", c.Dispatch.Concurrency))
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	switch c.Stats.Backend {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("stats.backend %q is not supported", c.Stats.Backend))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", c.Logging.Format))
	}
	if c.Throttle.Enabled && (c.Throttle.RPS <= 0 || c.Throttle.Burst < 1) {
		errs = append(errs, errors.New("throttle.rps must be positive and throttle.burst at least 1"))
	}
	return errors.Join(errs...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultStorePath returns the XDG data path of the archive database.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
