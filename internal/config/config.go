// Package config loads the server configuration from a file, with
// environment-variable overrides for deployment.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the file at path into config, which must be a pointer to a
// struct. Values already set on config act as defaults, and any key can be
// overridden through the environment with dots replaced by underscores
// (redis.prefix becomes REDIS_PREFIX). Duration fields accept Go duration
// strings such as "30s".
func Load(path string, config any) error {
	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("decode defaults: %v", err)
	}

	v := viper.New()
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("merge defaults: %v", err)
	}

	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %v", path, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}
	return nil
}
