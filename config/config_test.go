package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskloop.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Loop.MaxTurns)
	assert.Equal(t, 1, cfg.Loop.MaxAgentDepth)
	assert.Equal(t, 5, cfg.PipelineTurns())

	d, err := cfg.BashTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "openai"
model = "gpt-5.2-mini"
temperature = 0.0

[loop]
max_turns = 8
pipeline_max_turns = 12

[tools]
bash_timeout = "2m"

[storage]
enabled = false

[log]
level = "debug"
format = "json"

[mcp.servers.files]
command = "mcp-files"
args = ["--root", "."]
env = { FILES_MODE = "ro" }
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-5.2-mini", cfg.LLM.Model)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens, "unset keys keep defaults")
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Equal(t, 8, cfg.Loop.MaxTurns)
	assert.Equal(t, 12, cfg.PipelineTurns())
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)

	d, err := cfg.BashTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	require.Contains(t, cfg.MCP.Servers, "files")
	srv := cfg.MCP.Servers["files"]
	assert.Equal(t, "mcp-files", srv.Command)
	assert.Equal(t, []string{"--root", "."}, srv.Args)
	assert.Equal(t, map[string]string{"FILES_MODE": "ro"}, srv.Env)
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "[loop]\nmax_rounds = 3\n", "unknown config keys: loop.max_rounds"},
		{"zero turns", "[loop]\nmax_turns = 0\n", "loop.max_turns must be at least 1"},
		{"bad duration", "[tools]\nbash_timeout = \"soon\"\n", "tools.bash_timeout"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"mcp without command", "[mcp.servers.x]\nargs = [\"a\"]\n", "mcp.servers.x: command is required"},
		{"syntax", "[llm\n", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadWithoutDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)
}

func TestLoadPicksUpDefaultFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("[loop]\nmax_turns = 2\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Loop.MaxTurns)
}

func TestAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("MY_KEY", "sk-custom")

	cfg := New()
	cfg.LLM.Provider = "openai"
	assert.Equal(t, "sk-default", cfg.APIKey())

	cfg.LLM.APIKeyEnv = "MY_KEY"
	assert.Equal(t, "sk-custom", cfg.APIKey())

	cfg = New()
	assert.Empty(t, cfg.APIKey(), "ollama needs no key")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local/x.db"), ExpandHome("~/.local/x.db"))
	assert.Equal(t, "/abs/x.db", ExpandHome("/abs/x.db"))
	assert.Equal(t, "rel/~/x", ExpandHome("rel/~/x"))
}
