// Package config loads taskloop settings from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "taskloop.toml"

// Config is the complete configuration.
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Loop     LoopConfig     `toml:"loop"`
	Tools    ToolsConfig    `toml:"tools"`
	Storage  StorageConfig  `toml:"storage"`
	Personas PersonasConfig `toml:"personas"`
	Log      LogConfig      `toml:"log"`
	MCP      MCPConfig      `toml:"mcp"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string  `toml:"provider"` // ollama, openai, anthropic, groq, ...
	Model       string  `toml:"model"`
	APIKeyEnv   string  `toml:"api_key_env"`
	BaseURL     string  `toml:"base_url"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	MaxRetries  int     `toml:"max_retries"`
}

// LoopConfig bounds agent runs.
type LoopConfig struct {
	MaxTurns         int `toml:"max_turns"`
	PipelineMaxTurns int `toml:"pipeline_max_turns"` // 0 means max_turns
	MaxAgentDepth    int `toml:"max_agent_depth"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Workspace      string `toml:"workspace"`
	BashTimeout    string `toml:"bash_timeout"`
	MaxOutputBytes int    `toml:"max_output_bytes"`
	HTTPTimeout    string `toml:"http_timeout"`
}

// StorageConfig configures task history and the change journal.
type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// PersonasConfig points at an optional persona file.
type PersonasConfig struct {
	File string `toml:"file"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
	File   string `toml:"file"`   // empty means stderr
}

// MCPConfig lists external tool servers.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `toml:"servers"`
}

// MCPServerConfig launches one MCP server over stdio.
type MCPServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
}

// New returns a configuration with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "qwen2.5-coder",
			MaxTokens:   4096,
			Temperature: 0.2,
			MaxRetries:  3,
		},
		Loop: LoopConfig{
			MaxTurns:      5,
			MaxAgentDepth: 1,
		},
		Tools: ToolsConfig{
			Workspace:      ".",
			BashTimeout:    "30s",
			MaxOutputBytes: 30000,
			HTTPTimeout:    "20s",
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    "~/.local/share/taskloop/taskloop.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile loads configuration from a TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path, or DefaultFile in the working directory when path is
// empty. A missing default file yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	candidate := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(candidate); err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("stat %s: %w", candidate, err)
	}
	return LoadFile(candidate)
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	if c.Loop.MaxTurns < 1 {
		return fmt.Errorf("loop.max_turns must be at least 1, got %d", c.Loop.MaxTurns)
	}
	if c.Loop.PipelineMaxTurns < 0 {
		return fmt.Errorf("loop.pipeline_max_turns must not be negative")
	}
	if c.Loop.MaxAgentDepth < 0 {
		return fmt.Errorf("loop.max_agent_depth must not be negative")
	}
	if _, err := c.BashTimeout(); err != nil {
		return err
	}
	if _, err := c.HTTPTimeout(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	for name, s := range c.MCP.Servers {
		if s.Command == "" {
			return fmt.Errorf("mcp.servers.%s: command is required", name)
		}
	}
	return nil
}

// BashTimeout parses tools.bash_timeout.
func (c *Config) BashTimeout() (time.Duration, error) {
	return parseDuration("tools.bash_timeout", c.Tools.BashTimeout)
}

// HTTPTimeout parses tools.http_timeout.
func (c *Config) HTTPTimeout() (time.Duration, error) {
	return parseDuration("tools.http_timeout", c.Tools.HTTPTimeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// PipelineTurns returns the turn cap for pipeline steps.
func (c *Config) PipelineTurns() int {
	if c.Loop.PipelineMaxTurns > 0 {
		return c.Loop.PipelineMaxTurns
	}
	return c.Loop.MaxTurns
}

// APIKey returns the API key from the configured environment variable. If
// api_key_env is not set, the provider's conventional variable is used.
func (c *Config) APIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the conventional environment variable for a
// provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "gemini", "google":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

// StoragePath returns storage.path with a leading ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Storage.Path)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
