// Package config handles Parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"parley.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "parley.yaml"))
	}

	paths = append(paths, "/etc/parley/parley.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Parley configuration.
type Config struct {
	ProjectName string         `yaml:"project_name"`
	Telegram    TelegramConfig `yaml:"telegram"`
	OpenAI      OpenAIConfig   `yaml:"openai"`
	Limits      LimitsConfig   `yaml:"limits"`
	Persona     PersonaConfig  `yaml:"persona"`
	Canned      []CannedReply  `yaml:"canned"`
	DatabasePath string        `yaml:"database_path"`
	LogLevel     string        `yaml:"log_level"`
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	// BotToken is the token issued by BotFather. Required for serve.
	BotToken string `yaml:"bot_token"`
	// BaseURL overrides the Bot API endpoint (tests, local bot-api servers).
	BaseURL string `yaml:"base_url"`
	// PollTimeoutSec is the getUpdates long-poll timeout in seconds.
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// MaxConcurrency bounds the number of updates handled at once.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// OpenAIConfig defines the completion provider settings.
type OpenAIConfig struct {
	// APIKey is required for any AI functionality. Its absence is fatal
	// at startup for serve and ask, but does not affect other commands.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`
	// DefaultModel is used when a request does not name a model.
	DefaultModel string `yaml:"default_model"`
}

// LimitsConfig defines per-request budgets and rate limits.
type LimitsConfig struct {
	// MaxTokensPerRequest caps combined prompt size per completion.
	MaxTokensPerRequest int `yaml:"max_tokens_per_request"`
	// MaxRequestsPerHour is accepted for forward compatibility.
	// It is recorded but not enforced anywhere yet.
	MaxRequestsPerHour int `yaml:"max_requests_per_hour"`
	// HistoryLookback is how many recent exchanges /history shows.
	HistoryLookback int `yaml:"history_lookback"`
}

// PersonaConfig defines the default assistant persona.
type PersonaConfig struct {
	DefaultRoleName   string `yaml:"default_role_name"`
	DefaultRolePrompt string `yaml:"default_role_prompt"`
}

// CannedReply maps trigger keywords to a fixed reply, skipping the
// completion provider entirely.
type CannedReply struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		ProjectName: "Parley",
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
			MaxConcurrency: 8,
		},
		OpenAI: OpenAIConfig{
			DefaultModel: "gpt-3.5-turbo",
		},
		Limits: LimitsConfig{
			MaxTokensPerRequest: 4000,
			MaxRequestsPerHour:  60,
			HistoryLookback:     5,
		},
		Persona: PersonaConfig{
			DefaultRoleName:   "helpful_assistant",
			DefaultRolePrompt: "You are a helpful AI assistant.",
		},
		DatabasePath: "parley.db",
	}
}

// Validate checks fields required for running the bot. It is called by
// serve; commands that don't touch Telegram or the provider skip it.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Limits.MaxTokensPerRequest <= 0 {
		return fmt.Errorf("limits.max_tokens_per_request must be positive (got %d)", c.Limits.MaxTokensPerRequest)
	}
	return nil
}
