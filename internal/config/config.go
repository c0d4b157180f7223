package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Form   FormConfig   `yaml:"form" mapstructure:"form"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// RemoteConfig configures the cost-management backend the gateway talks to.
type RemoteConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	MaxRetries      int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMS       int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
}

// FormConfig configures session behavior.
type FormConfig struct {
	DebounceMS int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// Debounce returns the recompute coalescing window.
func (c FormConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ServerConfig configures the session API server.
type ServerConfig struct {
	Port            int `yaml:"port" mapstructure:"port"`
	SessionTTLMins  int `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
	ShutdownTimeout int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields a given mode depends on. Modes correspond
// to the commands that call it: "serve" needs a usable listen port,
// "calc" and "export" only need gateway settings when a remote lookup
// is requested.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkRemote := func() {
		if c.Remote.BaseURL == "" {
			problems = append(problems, "remote.base_url is required")
		}
		if c.Remote.TimeoutSecs <= 0 {
			problems = append(problems, "remote.timeout_secs must be > 0")
		}
		if c.Remote.RateLimitPerSec <= 0 {
			problems = append(problems, "remote.rate_limit_per_sec must be > 0")
		}
		if c.Remote.MaxRetries < 1 || c.Remote.MaxRetries > 10 {
			problems = append(problems, "remote.max_retries must be between 1 and 10")
		}
	}

	switch mode {
	case "serve":
		checkRemote()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.SessionTTLMins <= 0 {
			problems = append(problems, "server.session_ttl_mins must be > 0")
		}
		if c.Form.DebounceMS < 0 || c.Form.DebounceMS > 5000 {
			problems = append(problems, "form.debounce_ms must be between 0 and 5000")
		}
	case "calc", "export":
		checkRemote()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WORKLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.timeout_secs", 10)
	v.SetDefault("remote.rate_limit_per_sec", 10)
	v.SetDefault("remote.max_retries", 2)
	v.SetDefault("remote.backoff_ms", 250)
	v.SetDefault("form.debounce_ms", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl_mins", 60)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
