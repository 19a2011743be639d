package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Global settings instance
var Global *Settings

// Init initializes the configuration system
func Init(cfgFile string) error {
	Global = &Settings{}

	// A .env next to the working directory may carry the API key
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		Global.ConfigFile = cfgFile
	} else {
		viper.AddConfigPath("./.converse")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
		Global.ConfigFile = ".converse/settings.yaml"
	}

	setDefaults()

	viper.AutomaticEnv()

	viper.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	viper.BindEnv("anthropic.base_url", "ANTHROPIC_BASE_URL")
	viper.BindEnv("ollama.host", "OLLAMA_HOST")
	viper.BindEnv("database.path", "CONVERSE_DB_PATH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Load()
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("provider", ProviderAnthropic)

	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("anthropic.title_model", "claude-3-5-sonnet-20241022")

	viper.SetDefault("ollama.host", "http://localhost:11434")
	viper.SetDefault("ollama.model", "qwen3:latest")

	viper.SetDefault("database.path", "./.converse/converse.db")

	viper.SetDefault("logging.log_file", "system.log")
	viper.SetDefault("logging.persist", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("generation.max_tokens", 4096)
	viper.SetDefault("generation.temperature", 1.0)
	viper.SetDefault("generation.thinking_max_tokens", 16000)

	viper.SetDefault("title.max_tokens", 20)
	viper.SetDefault("title.temperature", 0.5)
	viper.SetDefault("title.max_assistant_chars", 500)
}

// Load loads configuration from viper into the Settings struct
func Load() error {
	if Global == nil {
		Global = &Settings{}
	}

	Global.Provider = viper.GetString("provider")

	Global.Anthropic.APIKey = viper.GetString("anthropic.api_key")
	Global.Anthropic.Model = viper.GetString("anthropic.model")
	Global.Anthropic.TitleModel = viper.GetString("anthropic.title_model")
	Global.Anthropic.BaseURL = viper.GetString("anthropic.base_url")

	Global.Ollama.Host = viper.GetString("ollama.host")
	Global.Ollama.Model = viper.GetString("ollama.model")

	Global.Database.Path = viper.GetString("database.path")

	Global.Logging.LogFile = viper.GetString("logging.log_file")
	Global.Logging.Persist = viper.GetBool("logging.persist")
	Global.Logging.Level = viper.GetString("logging.level")

	Global.Generation.MaxTokens = viper.GetInt("generation.max_tokens")
	Global.Generation.Temperature = viper.GetFloat64("generation.temperature")
	Global.Generation.ThinkingMaxTokens = viper.GetInt("generation.thinking_max_tokens")

	Global.Title.MaxTokens = viper.GetInt("title.max_tokens")
	Global.Title.Temperature = viper.GetFloat64("title.temperature")
	Global.Title.MaxAssistantChars = viper.GetInt("title.max_assistant_chars")

	switch Global.Provider {
	case ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("unknown provider %q", Global.Provider)
	}

	return nil
}

// WriteDefaultConfig writes the current configuration to disk, preserving existing settings
func WriteDefaultConfig() error {
	if Global == nil || Global.ConfigFile == "" {
		return fmt.Errorf("config file path not set")
	}

	configDir := filepath.Dir(Global.ConfigFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return WithLock(Global.ConfigFile, DefaultLockConfig(), func() error {
		if err := viper.WriteConfigAs(Global.ConfigFile); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}
		return nil
	})
}

// Get returns the global settings instance
func Get() *Settings {
	if Global == nil {
		panic("config not initialized - call Init() first")
	}
	return Global
}
