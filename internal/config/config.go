// Package config loads Pollux's configuration from a TOML file overlaid
// with environment variables, matching the configuration key table in the
// external-interfaces section.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// ProviderConfig holds the advertised model catalog for one upstream provider.
type ProviderConfig struct {
	ModelList []string `toml:"model_list" env:"MODEL_LIST" envSeparator:","`
}

// Providers groups per-provider catalogs.
type Providers struct {
	GeminiCli ProviderConfig `toml:"geminicli" envPrefix:"GEMINICLI_"`
	Codex     ProviderConfig `toml:"codex" envPrefix:"CODEX_"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	ListenAddr string `toml:"listen_addr" env:"LISTEN_ADDR"`
	ListenPort int    `toml:"listen_port" env:"LISTEN_PORT"`

	DatabaseURL string `toml:"database_url" env:"DATABASE_URL"`
	LogLevel    string `toml:"loglevel" env:"LOGLEVEL"`

	PolluxKey string `toml:"pollux_key" env:"POLLUX_KEY"`

	Providers Providers `toml:"providers" envPrefix:"PROVIDERS_"`

	BigModelList []string `toml:"big_model_list" env:"BIG_MODEL_LIST" envSeparator:","`

	OauthTPS            float64 `toml:"oauth_tps" env:"OAUTH_TPS"`
	GeminiRetryMaxTimes int     `toml:"gemini_retry_max_times" env:"GEMINI_RETRY_MAX_TIMES"`
	RefreshRetryMax     int     `toml:"refresh_retry_max" env:"REFRESH_RETRY_MAX"`

	EnableMultiplexing bool   `toml:"enable_multiplexing" env:"ENABLE_MULTIPLEXING"`
	Proxy              string `toml:"proxy" env:"PROXY"`

	CredPath string `toml:"cred_path" env:"CRED_PATH"`

	// NoCredentialStatus picks between the two acceptable statuses
	// for an exhausted pool: 503 (default, primary) or 409 (alternative).
	NoCredentialStatus int `toml:"no_credential_status" env:"NO_CREDENTIAL_STATUS"`
}

func defaults() Config {
	return Config{
		ListenAddr:          "0.0.0.0",
		ListenPort:          8188,
		DatabaseURL:         "pollux.db",
		LogLevel:            "info",
		OauthTPS:            7.5,
		GeminiRetryMaxTimes: 3,
		RefreshRetryMax:     3,
		NoCredentialStatus:  503,
	}
}

// Load reads the TOML file at path (if it exists), overlays environment
// variables on top, and validates required fields. An empty path skips
// the file and loads from defaults + environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.PolluxKey) == "" {
		return fmt.Errorf("config: pollux_key must be set and non-empty")
	}
	if c.NoCredentialStatus != 503 && c.NoCredentialStatus != 409 {
		return fmt.Errorf("config: no_credential_status must be 503 or 409, got %d", c.NoCredentialStatus)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: listen_port out of range: %d", c.ListenPort)
	}
	return nil
}

// Addr returns the combined host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

// IsBigModel reports whether model is in the configured big-model list.
func (c *Config) IsBigModel(model string) bool {
	for _, m := range c.BigModelList {
		if m == model {
			return true
		}
	}
	return false
}
