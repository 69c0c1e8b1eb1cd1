package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashSuccess(t *testing.T) {
	ex, dir, _ := newTestExecutor(t)
	writeFile(t, dir, "hello.txt", "hi\n")

	res := ex.Execute(context.Background(), parseOne(t, "<tool:bash>\ncat hello.txt\n</tool>"))
	require.True(t, res.Success, res.Output)
	assert.Equal(t, "hi", res.Output)
	assert.Equal(t, "cat hello.txt", res.Command)
}

func TestBashNonZeroExit(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), parseOne(t, "<tool:bash>\necho boom >&2; exit 3\n</tool>"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "boom")
	assert.Contains(t, res.Output, "[exit code 3]")
}

func TestBashTimeout(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CommandTimeout = 200 * time.Millisecond
	ex := NewExecutor(NewBuiltinTable(opts), NewLocalEnvironment(dir))

	start := time.Now()
	res := ex.Execute(context.Background(), parseOne(t, "<tool:bash>\nsleep 5 & sleep 5\n</tool>"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestBashOutputIsCapped(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.MaxOutputBytes = 100
	ex := NewExecutor(NewBuiltinTable(opts), NewLocalEnvironment(dir))

	res := ex.Execute(context.Background(), parseOne(t, "<tool:bash>\nhead -c 5000 /dev/zero | tr '\\0' 'x'\n</tool>"))
	require.True(t, res.Success, res.Output)
	assert.Equal(t, 100, strings.Count(res.Output, "x"))
	assert.Contains(t, res.Output, "output truncated at 100 bytes")
}

func TestBashFiltersSensitiveEnv(t *testing.T) {
	t.Setenv("TASKLOOP_TEST_API_KEY", "secret-value")
	ex, _, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), parseOne(t, "<tool:bash>\necho \"key=$TASKLOOP_TEST_API_KEY\"\n</tool>"))
	require.True(t, res.Success)
	assert.Equal(t, "key=", res.Output)
}

func TestBashCancelled(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := ex.Execute(ctx, toolblock.Call{Name: "bash", Args: map[string]string{toolblock.ArgValue: "sleep 5"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "cancelled")
}
