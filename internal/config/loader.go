// Package config provides configuration loading, validation and hot reload.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "XLING"

	// EnvAccessKey overrides proxy.access_key so the shared token never
	// has to live in the config file.
	EnvAccessKey = "XLING_ACCESS_KEY"
)

// Load reads, normalizes and validates the configuration.
// The returned Viper instance is retained by the watcher for hot reload.
//
// Priority order (highest to lowest):
//  1. XLING_ACCESS_KEY env var
//  2. Environment variables (prefixed with XLING_)
//  3. The config file
//  4. Default values
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/xling")
		v.AddConfigPath("$HOME/.xling")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, &ConfigError{
			Op:  "read",
			Err: fmt.Errorf("failed to read config file: %w", err),
		}
	}

	cfg, err := unmarshalAndValidate(v)
	if err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// unmarshalAndValidate turns the current Viper state into a validated Config.
// Shared between the initial load and the watcher's reload path.
func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	if key := os.Getenv(EnvAccessKey); key != "" {
		cfg.Proxy.AccessKey = key
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.host", "127.0.0.1")
	v.SetDefault("proxy.port", 4320)
	v.SetDefault("proxy.load_balance", StrategyFailover)
	v.SetDefault("proxy.key_rotation.cooldown_ms", 60000)
	v.SetDefault("proxy.records.max", 200)
	v.SetDefault("proxy.records.capture_bodies", true)

	v.SetDefault("logging.level", "info")
}
