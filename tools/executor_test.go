package tools

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteUnknownTool(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	res := ex.Execute(context.Background(), parseOne(t, "<tool:teleport>\nmars\n</tool>"))
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: teleport", res.Output)
	assert.Equal(t, "teleport", res.Tool)
}

func TestExecuteMalformedBlock(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	res := ex.Execute(context.Background(), parseOne(t, "<tool:edit>\nmain.go\nno markers\n</tool>"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "malformed edit block")
}

func TestExecuteRecoversPanics(t *testing.T) {
	table := NewTable()
	table.Register(Tool{
		Name: "boom",
		Handler: func(ctx context.Context, call toolblock.Call, env Environment) Result {
			panic("kaboom")
		},
	})
	ex := NewExecutor(table, NewLocalEnvironment(t.TempDir()))

	res := ex.Execute(context.Background(), toolblock.Call{Name: "boom"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "kaboom")
}

func TestExecuteSkipsWhenCancelled(t *testing.T) {
	ex, dir, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ex.Execute(ctx, parseOne(t, "<tool:write>\nx.txt\nhello\n</tool>"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not run")
	assert.NoFileExists(t, dir+"/x.txt")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	table := NewTable()
	table.Register(Tool{
		Name: "loud",
		Handler: func(ctx context.Context, call toolblock.Call, env Environment) Result {
			return Succeed("loud", strings.Repeat("a", 500))
		},
	})
	ex := NewExecutor(table, NewLocalEnvironment(t.TempDir()),
		WithOutputLimits(map[string]int{"loud": 100}, nil))

	res := ex.Execute(context.Background(), toolblock.Call{Name: "loud"})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "truncated")
	assert.Less(t, len(res.Output), 300)
}

func TestTableCloneIsIndependent(t *testing.T) {
	base := NewBuiltinTable(DefaultOptions())
	clone := base.Clone()
	clone.Unregister("bash")

	assert.True(t, base.Has("bash"))
	assert.False(t, clone.Has("bash"))
	assert.Equal(t, base.Count()-1, clone.Count())

	extra := NewTable()
	extra.Register(Tool{Name: "srv.echo"})
	clone.MergeFrom(extra)
	assert.True(t, clone.Has("srv.echo"))
	assert.False(t, base.Has("srv.echo"))

	count := clone.Count()
	clone.MergeFrom(clone)
	assert.Equal(t, count, clone.Count())
}

func TestUsageGuideListsTools(t *testing.T) {
	guide := NewBuiltinTable(DefaultOptions()).UsageGuide()
	for _, name := range []string{"read", "write", "edit", "delete", "bash", "grep", "glob", "ls", "git", "web", "fetch", "gh"} {
		assert.Contains(t, guide, "## "+name+"\n")
	}
	assert.Contains(t, guide, "<tool:NAME>")
}

func TestFormatFeedback(t *testing.T) {
	out := FormatFeedback([]Result{
		{Tool: "read", Success: true, Output: "1 | a\n", FilePath: "a.txt"},
		{Tool: "bash", Success: false, Output: "boom"},
	})
	assert.Equal(t,
		"<tool_result name=\"read\" success=\"true\" path=\"a.txt\">\n1 | a\n</tool_result>\n\n"+
			"<tool_result name=\"bash\" success=\"false\">\nboom\n</tool_result>",
		out)
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "l"
	}
	out := TruncateLines(strings.Join(lines, "\n"), 4)
	assert.Equal(t, "l\nl\n[... 6 lines omitted ...]\nl\nl", out)
	assert.Equal(t, "a\nb", TruncateLines("a\nb", 0))
}

func TestTruncateOutputCutsOnRuneBoundaries(t *testing.T) {
	output := strings.Repeat("héllo wörld ", 40)
	for _, limit := range []int{7, 33, 64, 101} {
		for _, mode := range []TruncationMode{TruncateHeadTail, TruncateTail} {
			out := TruncateOutput(output, limit, mode)
			assert.True(t, utf8.ValidString(out), "limit %d mode %s", limit, mode)
			assert.Contains(t, out, "truncated")
		}
	}
}

func TestCappedBufferCutsOnRuneBoundary(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("aé€"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "aé", b.String())
	assert.True(t, b.truncated)

	_, _ = b.Write([]byte("z"))
	assert.Equal(t, "aé", b.String())
}
