// Package config loads process configuration: defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"time"

	"github.com/becomeliminal/nim-memory/engine"
	"github.com/becomeliminal/nim-memory/memory"
)

// Config is the top-level configuration.
type Config struct {
	Memory    memory.Config   `yaml:"memory"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Agent     AgentConfig     `yaml:"agent"`
	Server    ServerConfig    `yaml:"server"`
	Logging   Logging         `yaml:"logging"`
}

// AnthropicConfig configures the generator.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
	MaxTurns  int    `yaml:"max_turns"`
}

// AgentConfig configures prompt composition.
type AgentConfig struct {
	// SystemPrompt is a text/template; knowledge is available as .Knowledge.
	SystemPrompt string `yaml:"system_prompt"`
}

// ServerConfig configures the websocket transport.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	StepTimeout    time.Duration `yaml:"step_timeout"`
}

// Logging configures the process logger.
type Logging struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // text, json, logfmt
	Timestamp bool   `yaml:"timestamp"`
	Caller    bool   `yaml:"caller"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Memory: memory.DefaultConfig(),
		Anthropic: AnthropicConfig{
			Model:     engine.DefaultModel,
			MaxTokens: engine.DefaultMaxTokens,
			MaxTurns:  engine.DefaultMaxTurns,
		},
		Agent: AgentConfig{
			SystemPrompt: engine.DefaultSystemPrompt,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			StepTimeout: 2 * time.Minute,
		},
		Logging: Logging{
			Level:     "info",
			Format:    "text",
			Timestamp: true,
		},
	}
}
