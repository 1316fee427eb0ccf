package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// UnmarshalConfig reads <configName>.yml from dirs, . and ./config/ and merges
// <configName>-<env>.yml over it when env is set. Keys can be overridden by
// environment variables prefixed with appName.
func UnmarshalConfig(config interface{}, appName string, configName string, dirs ...string) error {
	v := viper.New()
	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config/")

	v.SetConfigName(configName)
	if err := v.ReadInConfig(); err != nil {
		return errors.WithMessagef(err, "failed to read %s config", configName)
	}
	if env := v.GetString("env"); env != "" {
		v.SetConfigName(configName + "-" + env)
		// the env overlay is optional
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return errors.WithMessagef(err, "failed to merge %s-%s config", configName, env)
			}
		}
	}
	if err := v.Unmarshal(config); err != nil {
		return errors.WithMessagef(err, "failed to unmarshal %s config", configName)
	}
	return nil
}
