// config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sammcj/toolloop/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".config/toolloop"
	defaultConfigFile = "config.yaml"
)

// MCPServerConfig holds configuration for a single MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Command   string            `yaml:"command"`
	Arguments []string          `yaml:"arguments"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// LLMConfig describes the OpenAI-compatible endpoint
type LLMConfig struct {
	Model          string  `yaml:"model"`
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	SystemPrompt   string  `yaml:"system_prompt"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

// ChatConfig controls the conversation round loop
type ChatConfig struct {
	MaxRounds           int    `yaml:"max_rounds"`
	UseTools            bool   `yaml:"use_tools"`
	ParallelTools       bool   `yaml:"parallel_tools"`
	RoundTimeoutSeconds int    `yaml:"round_timeout_seconds"`
	NonFunctionCalls    string `yaml:"non_function_calls"`
}

// ToolsConfig controls discovery and the built-in tool implementations
type ToolsConfig struct {
	Locations          []string `yaml:"locations"`
	OnDuplicate        string   `yaml:"on_duplicate"`
	FilesystemRoot     string   `yaml:"filesystem_root"`
	HTTPAllowList      []string `yaml:"http_allow_list"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds"`
}

// Config holds the complete configuration
type Config struct {
	LLM LLMConfig `yaml:"llm"`

	Chat ChatConfig `yaml:"chat"`

	Tools ToolsConfig `yaml:"tools"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Server struct {
		Enable bool   `yaml:"enable"`
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
	} `yaml:"server"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	// LLM defaults
	cfg.LLM.Model = "gpt-oss-20b"
	cfg.LLM.Endpoint = "http://localhost:8080/v1"
	cfg.LLM.SystemPrompt = "You are a concise assistant."
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxTokens = 512
	cfg.LLM.TimeoutSeconds = 120

	// Chat defaults
	cfg.Chat.MaxRounds = 3
	cfg.Chat.UseTools = true
	cfg.Chat.NonFunctionCalls = "skip"

	// Tool defaults
	cfg.Tools.Locations = []string{"builtin"}
	cfg.Tools.OnDuplicate = "reject"
	cfg.Tools.FilesystemRoot = "."
	cfg.Tools.HTTPTimeoutSeconds = 10

	// Database defaults
	cfg.Database.Path = "test.db"

	// Logging defaults
	cfg.Logging.Level = "info"

	// Server defaults - set to false by default
	cfg.Server.Enable = false
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080

	return cfg
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, defaultConfigDir)
	return filepath.Join(configDir, defaultConfigFile), nil
}

// LoadOrCreate loads the config file if it exists, or creates a default one if it doesn't
func LoadOrCreate() (*Config, bool, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, false, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return nil, false, fmt.Errorf("failed to save default config: %w", err)
		}
		ApplyEnv(cfg)
		return cfg, true, nil
	}

	cfg, err := Load(configPath)
	return cfg, false, err
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with default config to ensure all fields have values
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &types.ConfigError{Field: path, Message: "failed to parse config file", Err: err}
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays the conventional OpenAI-compatible environment variables
func ApplyEnv(cfg *Config) {
	v := viper.New()
	_ = v.BindEnv("llm.api_key", "OPENAI_API_KEY", "GPT_OSS_API_KEY")
	_ = v.BindEnv("llm.endpoint", "GPT_OSS_BASE_URL")
	_ = v.BindEnv("llm.model", "GPT_OSS_MODEL")

	if v.IsSet("llm.api_key") {
		cfg.LLM.APIKey = v.GetString("llm.api_key")
	}
	if v.IsSet("llm.endpoint") {
		cfg.LLM.Endpoint = v.GetString("llm.endpoint")
	}
	if v.IsSet("llm.model") {
		cfg.LLM.Model = v.GetString("llm.model")
	}
}

// Save writes the configuration to the default location
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo writes the configuration to path, creating parent directories
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that required fields are present and valid
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return &types.ConfigError{Field: "llm.model", Message: "is required"}
	}
	if c.LLM.Endpoint == "" {
		return &types.ConfigError{Field: "llm.endpoint", Message: "is required"}
	}
	if c.LLM.MaxTokens <= 0 {
		return &types.ConfigError{Field: "llm.max_tokens", Message: "must be positive"}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &types.ConfigError{Field: "llm.temperature", Message: "must be between 0 and 2"}
	}

	if c.Chat.MaxRounds < 1 {
		return &types.ConfigError{Field: "chat.max_rounds", Message: "must be at least 1"}
	}
	switch c.Chat.NonFunctionCalls {
	case "skip", "reject":
	default:
		return &types.ConfigError{Field: "chat.non_function_calls", Message: fmt.Sprintf("unknown policy %q", c.Chat.NonFunctionCalls)}
	}

	switch c.Tools.OnDuplicate {
	case "reject", "overwrite":
	default:
		return &types.ConfigError{Field: "tools.on_duplicate", Message: fmt.Sprintf("unknown policy %q", c.Tools.OnDuplicate)}
	}

	for i, server := range c.MCPServers {
		if server.Name == "" {
			return &types.ConfigError{Field: fmt.Sprintf("mcp_servers[%d].name", i), Message: "is required"}
		}
		if server.Command == "" {
			return &types.ConfigError{Field: fmt.Sprintf("mcp_servers[%d].command", i), Message: "is required"}
		}
	}

	if c.Database.Path == "" {
		return &types.ConfigError{Field: "database.path", Message: "is required"}
	}

	return nil
}

// RoundTimeout is zero when rounds have no deadline
func (c *Config) RoundTimeout() time.Duration {
	return time.Duration(c.Chat.RoundTimeoutSeconds) * time.Second
}

// LLMTimeout is the HTTP client timeout for one model call
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// HTTPToolTimeout is the client timeout used by the http_request tool
func (c *Config) HTTPToolTimeout() time.Duration {
	return time.Duration(c.Tools.HTTPTimeoutSeconds) * time.Second
}
