// Package config loads the dagster_cloud_api configuration block from a
// config file and DAGSTER_CLOUD_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/aksestok/dagster-cloud/pkg/instance"
)

const envPrefix = "DAGSTER_CLOUD"

// Defaults for the cloud API block.
const (
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 6
)

// Load reads the cloud API config. Precedence: explicit file > env vars >
// defaults. An empty path skips file loading and uses env/defaults only.
func Load(path string) (instance.Config, error) {
	v := viper.New()

	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("verify", true)
	v.SetDefault("retries", DefaultRetries)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about; bind the
	// ones that have no default.
	for _, key := range []string{"url", "agent_token", "deployment", "agent_label"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return instance.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg instance.Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return instance.Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	return cfg, nil
}
