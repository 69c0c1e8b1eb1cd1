package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/config"
	"github.com/martinemde/taskloop/subagent"
	"github.com/martinemde/taskloop/tools"
)

func TestRunCommandParsing(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	_, err = parser.Parse([]string{"run", "--max-turns", "3", "-m", "llama3", "coder", "fix", "the", "tests"})
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if cli.Run.Agent != "coder" {
		t.Errorf("expected agent coder, got %s", cli.Run.Agent)
	}
	if got := strings.Join(cli.Run.Task, " "); got != "fix the tests" {
		t.Errorf("expected task 'fix the tests', got %q", got)
	}
	if cli.Run.MaxTurns != 3 {
		t.Errorf("expected max turns 3, got %d", cli.Run.MaxTurns)
	}
	if cli.Model != "llama3" {
		t.Errorf("expected model llama3, got %s", cli.Model)
	}
}

func TestHistoryCommandDefaults(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	if _, err := parser.Parse([]string{"history"}); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if cli.History.Limit != 20 {
		t.Errorf("expected default limit 20, got %d", cli.History.Limit)
	}
	if cli.History.ID != "" {
		t.Errorf("expected no id, got %s", cli.History.ID)
	}
}

func TestRejectsUnknownLogLevel(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	if _, err := parser.Parse([]string{"--log-level", "loud", "tools"}); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskloop.toml")
	if err := os.WriteFile(path, []byte("[llm]\nprovider = \"openai\"\nmodel = \"gpt-5.2\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&Globals{Config: path, Model: "gpt-5.2-mini", Workspace: dir, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider from file, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-5.2-mini" {
		t.Errorf("expected flag model to win, got %s", cfg.LLM.Model)
	}
	if cfg.Tools.Workspace != dir {
		t.Errorf("expected workspace %s, got %s", dir, cfg.Tools.Workspace)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if closer != nil {
		t.Error("expected no closer for stderr output")
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON record, got %s", out)
	}

	if _, _, err := newLogger(config.LogConfig{Level: "chatty"}, &buf); err == nil {
		t.Error("expected error for bad level")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskloop.log")
	logger, closer, err := newLogger(config.LogConfig{Level: "info", Format: "text", File: path}, os.Stderr)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=\"to file\"") {
		t.Errorf("unexpected log contents: %s", data)
	}
}

func TestNewClientOllamaNeedsNoKey(t *testing.T) {
	cfg := config.New()
	cfg.LLM.BaseURL = "http://127.0.0.1:11434"
	client, err := newClient(cfg, slog.Default())
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	defer client.Close()
	if got := client.Providers(); len(got) != 1 || got[0] != "ollama" {
		t.Errorf("expected ollama provider, got %v", got)
	}
}

func TestToolOptionsFromConfig(t *testing.T) {
	cfg := config.New()
	cfg.Tools.BashTimeout = "90s"
	cfg.Tools.MaxOutputBytes = 1234
	journal := tools.NewMemoryJournal()

	opts, err := toolOptions(cfg, journal)
	if err != nil {
		t.Fatalf("toolOptions: %v", err)
	}
	if opts.CommandTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", opts.CommandTimeout)
	}
	if opts.MaxOutputBytes != 1234 {
		t.Errorf("expected 1234, got %d", opts.MaxOutputBytes)
	}
	if opts.Journal != journal {
		t.Error("expected configured journal")
	}
}

func TestNewAppWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskloop.toml")
	body := "[storage]\nenabled = false\n\n[tools]\nworkspace = \"" + filepath.ToSlash(dir) + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(context.Background(), &Globals{Config: path})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if a.store != nil {
		t.Error("expected no store when storage is disabled")
	}
	if _, ok := a.journal.(*tools.MemoryJournal); !ok {
		t.Errorf("expected memory journal, got %T", a.journal)
	}
	if a.workspace != dir {
		t.Errorf("expected workspace %s, got %s", dir, a.workspace)
	}
	if !a.table.Has("read") || !a.table.Has("bash") {
		t.Errorf("expected built-in tools, got %v", a.table.Names())
	}
	if _, ok := a.personas.Lookup("coder"); !ok {
		t.Error("expected default personas")
	}
}

func TestPrintSummary(t *testing.T) {
	task := agentloop.NewTask("coder", "fix it")
	task.SetStatus(agentloop.StatusRunning)
	task.SetStatus(agentloop.StatusFailed)
	task.Rounds = 2
	task.TokensUsed = 40
	task.Error = "boom"
	task.UsedTool("read")

	var buf bytes.Buffer
	printSummary(&buf, task)
	out := buf.String()
	for _, want := range []string{"✗ coder: failed after 2 round(s)", "40 tokens", "tools: read", "error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	err := taskError(task)
	if err == nil || err.Error() != "coder failed: boom" {
		t.Errorf("unexpected task error: %v", err)
	}
}

func TestPrintEvent(t *testing.T) {
	var out, errOut bytes.Buffer
	printEvent(&out, &errOut, agentloop.Event{Kind: agentloop.EventContentDelta, Data: map[string]interface{}{"text": "hello"}})
	printEvent(&out, &errOut, agentloop.Event{Kind: agentloop.EventToolCallStart, Data: map[string]interface{}{"tool": "ls"}})
	printEvent(&out, &errOut, agentloop.Event{Kind: agentloop.EventToolCallEnd, Data: map[string]interface{}{"tool": "ls", "success": false}})
	printEvent(&out, &errOut, agentloop.Event{Kind: agentloop.EventWarning, Data: map[string]interface{}{"message": "unknown agent \"x\""}})

	if out.String() != "hello" {
		t.Errorf("expected model text on stdout, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "→ ls") || !strings.Contains(errOut.String(), "ls failed") {
		t.Errorf("unexpected tool activity: %q", errOut.String())
	}
	if !strings.Contains(errOut.String(), `! unknown agent "x"`) {
		t.Errorf("expected warning line, got %q", errOut.String())
	}
}

func TestPrintPersonas(t *testing.T) {
	var buf bytes.Buffer
	printPersonas(&buf, subagent.DefaultPersonas())
	for _, id := range []string{"coder", "planner", "reviewer"} {
		if !strings.Contains(buf.String(), id) {
			t.Errorf("expected %s in listing:\n%s", id, buf.String())
		}
	}
}

func TestOpenStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskloop.toml")
	if err := os.WriteFile(path, []byte("[storage]\nenabled = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := openStore(&Globals{Config: path})
	if err == nil {
		t.Fatal("expected error when storage is disabled")
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected error kind: %v", err)
	}
}
