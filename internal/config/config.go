// Package config loads and persists the companion's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultServerURL is the default WebSocket URL for the agent backend.
// Override at build time with:
// go build -ldflags "-X github.com/scribeverse/scribe-companion/internal/config.DefaultServerURL=ws://localhost:3001/sync/connect"
var DefaultServerURL = "wss://scribeverse.app/sync/connect"

// Config is the companion's on-disk configuration.
type Config struct {
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	AuthToken string `yaml:"auth_token" mapstructure:"auth_token"`

	// RequestTimeoutMS bounds every request awaiting a response.
	RequestTimeoutMS int `yaml:"request_timeout_ms" mapstructure:"request_timeout_ms"`

	// DueRefreshMinutes is how often the due set is re-fetched so it cannot
	// drift between pushes.
	DueRefreshMinutes int `yaml:"due_refresh_minutes" mapstructure:"due_refresh_minutes"`

	// SignalsPerMinute caps outbound activity signals.
	SignalsPerMinute int `yaml:"signals_per_minute" mapstructure:"signals_per_minute"`

	Activity ActivityConfig `yaml:"activity" mapstructure:"activity"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ActivityConfig tunes the activity tracker.
type ActivityConfig struct {
	DebounceMS         int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	IdleThresholdMS    int `yaml:"idle_threshold_ms" mapstructure:"idle_threshold_ms"`
	IdlePollMS         int `yaml:"idle_poll_ms" mapstructure:"idle_poll_ms"`
	MaxTextLength      int `yaml:"max_text_length" mapstructure:"max_text_length"`
	MinParagraphLength int `yaml:"min_paragraph_length" mapstructure:"min_paragraph_length"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "text" or "json"
}

// RequestTimeout returns the configured per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// DueRefreshInterval returns the due-set refresh period.
func (c *Config) DueRefreshInterval() time.Duration {
	return time.Duration(c.DueRefreshMinutes) * time.Minute
}

var (
	configPath string
	configDir  string
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir = filepath.Join(home, ".scribesync")
	configPath = filepath.Join(configDir, "config.yaml")
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string {
	return configPath
}

// Default returns a config populated with the standard tuning.
func Default() *Config {
	return &Config{
		ServerURL:         DefaultServerURL,
		RequestTimeoutMS:  10000,
		DueRefreshMinutes: 5,
		SignalsPerMinute:  30,
		Activity: ActivityConfig{
			DebounceMS:         2000,
			IdleThresholdMS:    30000,
			IdlePollMS:         5000,
			MaxTextLength:      300,
			MinParagraphLength: 5,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration, creating a default file on first run.
// Environment variables prefixed SCRIBESYNC_ override file values
// (e.g. SCRIBESYNC_SERVER_URL, SCRIBESYNC_AUTH_TOKEN).
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("SCRIBESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("request_timeout_ms", d.RequestTimeoutMS)
	v.SetDefault("due_refresh_minutes", d.DueRefreshMinutes)
	v.SetDefault("signals_per_minute", d.SignalsPerMinute)
	v.SetDefault("activity.debounce_ms", d.Activity.DebounceMS)
	v.SetDefault("activity.idle_threshold_ms", d.Activity.IdleThresholdMS)
	v.SetDefault("activity.idle_poll_ms", d.Activity.IdlePollMS)
	v.SetDefault("activity.max_text_length", d.Activity.MaxTextLength)
	v.SetDefault("activity.min_paragraph_length", d.Activity.MinParagraphLength)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Save writes the configuration to file with secure permissions.
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
