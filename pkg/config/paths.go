package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

func BaseSettingsDir() string {
	// config.path wins when explicitly set (tests do this)
	if configPath := viper.GetString("config.path"); configPath != "" {
		return configPath
	}

	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	if Global != nil && Global.ConfigFile != "" {
		return filepath.Dir(Global.ConfigFile)
	}
	return "./.converse"
}

func BuildSettingsPath(target string) string {
	return filepath.Join(BaseSettingsDir(), target)
}
