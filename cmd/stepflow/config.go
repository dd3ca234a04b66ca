package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/provider"
	"github.com/rendis/stepflow/internal/scheduler"
)

// memoryDBPath selects the in-memory store instead of libSQL.
const memoryDBPath = "memory"

// Config holds all stepflow configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	DBPath            string                 `mapstructure:"db_path"`
	LogLevel          string                 `mapstructure:"log_level"`
	SweepSchedule     string                 `mapstructure:"sweep_schedule"`
	MaxLoopIterations int                    `mapstructure:"max_loop_iterations"`
	MaxDepth          int                    `mapstructure:"max_depth"`
	CatalogPath       string                 `mapstructure:"catalog_path"`
	Provider          provider.Config        `mapstructure:"provider"`
	Breaker           provider.BreakerConfig `mapstructure:"breaker"`
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func setDefaults(v *viper.Viper) {
	breaker := provider.DefaultBreakerConfig()
	v.SetDefault("db_path", "file:"+filepath.Join(stepflowDir(), "stepflow.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("sweep_schedule", scheduler.DefaultSweepSchedule)
	v.SetDefault("max_loop_iterations", actions.DefaultMaxLoopIterations)
	v.SetDefault("max_depth", 0)
	v.SetDefault("catalog_path", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", breaker.FailureThreshold)
	v.SetDefault("breaker.cooldown", breaker.Cooldown)
	v.SetDefault("breaker.half_open_max", breaker.HalfOpenMax)
}

// loadConfig layers defaults, the settings file and STEPFLOW_* environment
// variables. An explicit configFile must exist; the default settings.yaml
// in the data dir is optional.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(stepflowDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
