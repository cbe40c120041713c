package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// runtimeConfig is the agentcore CLI's own small configuration surface: a
// provider, a model, a system prompt, and the knobs the Middleware Pipeline
// needs.
type runtimeConfig struct {
	Provider     string  `yaml:"provider"` // "openai" | "anthropic"
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	MaxTurns     int     `yaml:"max_turns"`
	PriceLimit   float64 `yaml:"price_limit_usd"`

	ContextWindowTokens int     `yaml:"context_window_tokens"`
	CompactThresholdPct float64 `yaml:"compact_threshold_pct"`
	WarnThresholdPct    float64 `yaml:"warn_threshold_pct"`

	SessionDBPath string `yaml:"session_db_path"`

	// Environment labels the persisted session archive ("development",
	// "staging", "production", ...), per the persisted-session-file schema.
	Environment string `yaml:"environment"`

	// MCPServers lists MCP servers to launch and proxy into the Tool Host
	// at startup. Empty by default: MCP is opt-in config, not a hardwired
	// dependency of the smoke-test CLI.
	MCPServers []mcpServerConfig `yaml:"mcp_servers"`
}

// mcpServerConfig is the YAML shape of one internal/mcp.ServerConfig entry.
type mcpServerConfig struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	WorkDir string            `yaml:"workdir"`
}

func defaultRuntimeConfig() *runtimeConfig {
	return &runtimeConfig{
		Provider:            "anthropic",
		Model:               "claude-sonnet-4-20250514",
		SystemPrompt:        "You are a helpful coding assistant running in a terminal.",
		MaxTokens:           4096,
		MaxTurns:            25,
		ContextWindowTokens: 200000,
		CompactThresholdPct: 0.85,
		WarnThresholdPct:    0.75,
		SessionDBPath:       "agentcore-sessions.db",
		Environment:         "development",
	}
}

func loadRuntimeConfig(path string) (*runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// apiKeyEnvVar returns the environment variable a provider's API key is
// read from.
func apiKeyEnvVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}
