package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SettingsJSON string    `json:"settings_json"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectSettings are the generation parameters stored with a project.
type ProjectSettings struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

func DefaultProjectSettings() ProjectSettings {
	return ProjectSettings{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// ParseProjectSettings decodes settings JSON. Missing fields keep their defaults.
func ParseProjectSettings(raw string) (ProjectSettings, error) {
	settings := DefaultProjectSettings()
	if raw == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return ProjectSettings{}, fmt.Errorf("failed to parse project settings: %w", err)
	}
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	return settings, nil
}

func (s ProjectSettings) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal project settings: %w", err)
	}
	return string(data), nil
}

func (p Project) Settings() (ProjectSettings, error) {
	return ParseProjectSettings(p.SettingsJSON)
}

func CloneProjects(projects []Project) []Project {
	result := make([]Project, len(projects))
	copy(result, projects)
	return result
}
