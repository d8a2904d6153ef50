// Package config loads runtime configuration from an optional config file
// and CAMLINK_* environment variables, with working defaults for local use.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the server.
type Config struct {
	Port      int    `mapstructure:"port"`
	ServerURL string `mapstructure:"server_url"`

	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	BatchDeadline  time.Duration `mapstructure:"batch_deadline"`
	PayloadCeiling int64         `mapstructure:"payload_ceiling"`

	GeminiAPIKey        string `mapstructure:"gemini_api_key"`
	GeminiModel         string `mapstructure:"gemini_model"`
	GeminiFallbackModel string `mapstructure:"gemini_fallback_model"`

	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	EncryptPayloads bool     `mapstructure:"encrypt_payloads"`
	DevMode         bool     `mapstructure:"dev_mode"`

	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. path names a config file and may be empty, in
// which case defaults and environment variables apply alone.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 3001)
	v.SetDefault("server_url", "http://localhost:3001")
	v.SetDefault("session_ttl", time.Hour)
	v.SetDefault("sweep_interval", 5*time.Minute)
	v.SetDefault("batch_deadline", 5*time.Minute)
	v.SetDefault("payload_ceiling", int64(10*1024*1024))
	// Every key needs a registered default so AutomaticEnv surfaces its
	// CAMLINK_* variable into Unmarshal.
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "")
	v.SetDefault("gemini_fallback_model", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("encrypt_payloads", false)
	v.SetDefault("dev_mode", true)
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("camlink")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.BatchDeadline <= 0 {
		return fmt.Errorf("batch_deadline must be positive")
	}
	if c.PayloadCeiling <= 0 {
		return fmt.Errorf("payload_ceiling must be positive")
	}
	return nil
}
