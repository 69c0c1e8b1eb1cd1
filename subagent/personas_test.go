package subagent

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPersonas(t *testing.T) {
	r := DefaultPersonas()
	assert.Equal(t, []string{"coder", "planner", "researcher", "reviewer", "tester"}, r.IDs())

	p, ok := r.Lookup("reviewer")
	require.True(t, ok)
	assert.Equal(t, "Code Reviewer", p.Name)
	assert.Equal(t, p.Prompt, r.Prompt("reviewer"))
	assert.Equal(t, DefaultBaseContext, r.Prompt("astronaut"))
}

func TestLoadYAMLMergesAndOverrides(t *testing.T) {
	r := DefaultPersonas()
	err := r.LoadYAML([]byte(`
base: |
  You are the house assistant.
personas:
  - id: security
    name: Security Reviewer
    prompt: You audit code for vulnerabilities.
  - id: coder
    prompt: You write Go only.
`))
	require.NoError(t, err)

	assert.Equal(t, "You audit code for vulnerabilities.", r.Prompt("security"))
	assert.Equal(t, "You write Go only.", r.Prompt("coder"))
	p, _ := r.Lookup("coder")
	assert.Equal(t, "coder", p.Name, "name defaults to id")
	assert.Equal(t, "You are the house assistant.\n", r.Prompt("nobody"))
	assert.Contains(t, r.IDs(), "security")
}

func TestLoadYAMLRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing id", "personas:\n  - prompt: hi\n", "missing id"},
		{"missing prompt", "personas:\n  - id: x\n", `persona "x": missing prompt`},
		{"bad yaml", "personas: [", "parse personas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewPersonaRegistry("")
			err := r.LoadYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, r.IDs())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personas:\n  - id: docs\n    prompt: You write docs.\n"), 0o644))

	r := NewPersonaRegistry("")
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, "You write docs.", r.Prompt("docs"))

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestParsePipeline(t *testing.T) {
	p, err := ParsePipeline([]byte(`
max_turns: 8
steps:
  - agent: planner
    task: Plan it.
  - agent: coder
    task: Build it.
    max_turns: 10
`))
	require.NoError(t, err)
	assert.Equal(t, 8, p.MaxTurns)
	assert.Equal(t, []PipelineStep{
		{AgentID: "planner", Description: "Plan it."},
		{AgentID: "coder", Description: "Build it.", MaxTurns: 10},
	}, p.Steps)
}

func TestParsePipelineErrors(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{"steps: []\n", "no steps"},
		{"steps:\n  - task: x\n", "step 1: missing agent"},
		{"steps:\n  - agent: a\n    task: x\n  - agent: b\n", "step 2: missing task"},
		{"steps:\n  - agent: a\n    task: x\n    max_turns: -1\n", "must not be negative"},
		{"steps: {", "parse pipeline"},
	}
	for _, tt := range tests {
		_, err := ParsePipeline([]byte(tt.doc))
		require.Error(t, err, tt.doc)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestPathHierarchy(t *testing.T) {
	root := filepath.FromSlash("/repo")
	assert.Equal(t, []string{root}, pathHierarchy(root, root))
	assert.Equal(t,
		[]string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b")},
		pathHierarchy(root, filepath.Join(root, "a", "b")))
	assert.Equal(t, []string{root}, pathHierarchy(root, filepath.FromSlash("/elsewhere")))
}

func TestDiscoverProjectDocs(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, DiscoverProjectDocs(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Use tabs."), 0o644))
	docs := DiscoverProjectDocs(dir)
	assert.Contains(t, docs, "# AGENTS.md (from "+dir+")")
	assert.Contains(t, docs, "Use tabs.")

	big := strings.Repeat("x", maxProjectDocBytes+10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TASKLOOP.md"), []byte(big), 0o644))
	docs = DiscoverProjectDocs(dir)
	assert.Contains(t, docs, "[Project instructions truncated at 32KB]")
}

func TestProjectContext(t *testing.T) {
	dir := t.TempDir()
	ctx := ProjectContext(dir, "linux/amd64", "llama3.2")
	assert.True(t, strings.HasPrefix(ctx, "<environment>\n"))
	assert.Contains(t, ctx, "Working directory: "+dir)
	assert.Contains(t, ctx, "Platform: linux/amd64")
	assert.Contains(t, ctx, "Model: llama3.2")
	assert.NotContains(t, ctx, "<project_instructions>")
}

func TestRunGitIsBounded(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	assert.Contains(t, runGit(dir, "--version"), "git version")

	saved := gitTimeout
	gitTimeout = time.Nanosecond
	t.Cleanup(func() { gitTimeout = saved })
	assert.Empty(t, runGit(dir, "--version"))
}
