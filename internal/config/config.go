// Package config loads and validates the miner's JSON configuration file.
//
// Grounded on tos-network-tos-pool/internal/config (viper-based Load,
// setDefaults, Validate), adapted from that pool's YAML config to the JSON
// format spec.md §6 requires, and to this miner's key set.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// DefaultSecretPhrase is used for the pool submit request when the config
// file does not set secret_phrase. See SPEC_FULL.md §9 Open Question #1:
// the source hard-codes "cryptoport"; this miner keeps that default but
// makes it configurable.
const DefaultSecretPhrase = "cryptoport"

// Config is the miner's full runtime configuration.
type Config struct {
	PoolURL          string   `mapstructure:"pool_url"`
	PlotFolders      []string `mapstructure:"plot_folders"`
	MaxDeadline      uint32   `mapstructure:"max_deadline"`
	PlotBufferSize   uint32   `mapstructure:"plot_buffer_size"`
	ThreadsPerFolder uint32   `mapstructure:"threads_per_folder"`
	SecretPhrase     string   `mapstructure:"secret_phrase"`
	LogLevel         string   `mapstructure:"log_level"`
}

// Load reads configuration from the JSON file at path.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("secret_phrase", DefaultSecretPhrase)
	v.SetDefault("threads_per_folder", uint32(runtime.NumCPU()))
	v.SetDefault("log_level", "info")
}

// Validate checks the required keys are present and the optional keys, if
// set, are sane. plot_folders is required but may be empty, per spec.md §6.
func (c *Config) Validate() error {
	if c.PoolURL == "" {
		return fmt.Errorf("pool_url is required")
	}
	if c.PlotFolders == nil {
		return fmt.Errorf("plot_folders is required")
	}
	if c.ThreadsPerFolder == 0 {
		c.ThreadsPerFolder = uint32(runtime.NumCPU())
	}
	if c.SecretPhrase == "" {
		c.SecretPhrase = DefaultSecretPhrase
	}
	return nil
}
