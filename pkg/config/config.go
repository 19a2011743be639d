package config

// Settings holds all configuration values
type Settings struct {
	// Provider selects the model backend: anthropic or ollama
	Provider string

	Anthropic struct {
		APIKey     string
		Model      string
		TitleModel string
		BaseURL    string
	}

	Ollama struct {
		Host  string
		Model string
	}

	Database struct {
		Path string
	}

	Logging struct {
		LogFile string
		Persist bool
		Level   string
	}

	// Generation defaults used when a chat has no project settings
	Generation struct {
		MaxTokens         int
		Temperature       float64
		ThinkingMaxTokens int
	}

	Title struct {
		MaxTokens         int
		Temperature       float64
		MaxAssistantChars int
	}

	// ConfigFile stores the path to the config file used
	ConfigFile string
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// HasCredentials reports whether the selected provider can be reached
func (s *Settings) HasCredentials() bool {
	switch s.Provider {
	case ProviderOllama:
		return s.Ollama.Host != ""
	default:
		return s.Anthropic.APIKey != ""
	}
}

// DefaultModel returns the chat model for the selected provider
func (s *Settings) DefaultModel() string {
	if s.Provider == ProviderOllama {
		return s.Ollama.Model
	}
	return s.Anthropic.Model
}
