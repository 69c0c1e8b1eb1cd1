package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/config"
	"github.com/martinemde/taskloop/store"
	"github.com/martinemde/taskloop/subagent"
	"github.com/martinemde/taskloop/tools"
	"github.com/martinemde/taskloop/unifiedllm"
)

// app holds everything a command needs, built from config and flags.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	workspace string
	store     *store.Store // nil when storage is disabled
	journal   tools.Journal
	table     *tools.Table
	env       *tools.LocalEnvironment
	executor  *tools.Executor
	personas  *subagent.PersonaRegistry
	mcp       []*tools.MCPConnection
	closers   []io.Closer
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Workspace != "" {
		cfg.Tools.Workspace = g.Workspace
	}
	if g.Provider != "" {
		cfg.LLM.Provider = g.Provider
	}
	if g.Model != "" {
		cfg.LLM.Model = g.Model
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned closer is non-nil when
// output goes to a file.
func newLogger(cfg config.LogConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log.level: %w", err)
		}
	}

	w := stderr
	var closer io.Closer
	if cfg.File != "" {
		path := config.ExpandHome(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// newApp wires storage, tools and personas. The model client is built
// separately since only run and pipeline need it.
func newApp(ctx context.Context, g *Globals) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	a.workspace, err = filepath.Abs(cfg.Tools.Workspace)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	if cfg.Storage.Enabled {
		s, err := store.Open(cfg.StoragePath())
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = s
		a.journal = s
		a.closers = append(a.closers, s)
	} else {
		a.journal = tools.NewMemoryJournal()
	}

	opts, err := toolOptions(cfg, a.journal)
	if err != nil {
		a.close()
		return nil, err
	}
	a.table = tools.NewBuiltinTable(opts)
	a.connectMCP(ctx)

	a.env = tools.NewLocalEnvironment(a.workspace)
	if err := a.env.Initialize(); err != nil {
		a.close()
		return nil, fmt.Errorf("workspace %s: %w", a.workspace, err)
	}
	a.executor = tools.NewExecutor(a.table, a.env, tools.WithLogger(logger))

	a.personas = subagent.DefaultPersonas()
	if cfg.Personas.File != "" {
		if err := a.personas.LoadFile(config.ExpandHome(cfg.Personas.File)); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func toolOptions(cfg *config.Config, journal tools.Journal) (tools.Options, error) {
	opts := tools.DefaultOptions()
	opts.Journal = journal
	bash, err := cfg.BashTimeout()
	if err != nil {
		return opts, err
	}
	if bash > 0 {
		opts.CommandTimeout = bash
	}
	httpTimeout, err := cfg.HTTPTimeout()
	if err != nil {
		return opts, err
	}
	if httpTimeout > 0 {
		opts.HTTPTimeout = httpTimeout
	}
	if cfg.Tools.MaxOutputBytes > 0 {
		opts.MaxOutputBytes = cfg.Tools.MaxOutputBytes
	}
	return opts, nil
}

// connectMCP registers the tools of every configured MCP server. A server
// that fails to start is logged and skipped.
func (a *app) connectMCP(ctx context.Context) {
	names := make([]string, 0, len(a.cfg.MCP.Servers))
	for name := range a.cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := a.cfg.MCP.Servers[name]
		server := tools.MCPServer{Name: name, Command: sc.Command, Args: sc.Args, Env: sc.Env}
		conn, err := tools.ConnectMCP(ctx, name, server.Transport(), a.logger)
		if err != nil {
			a.logger.Warn("mcp server unavailable", "server", name, "error", err)
			continue
		}
		conn.Register(a.table)
		a.mcp = append(a.mcp, conn)
		a.closers = append(a.closers, conn)
	}
}

// newClient builds the model client for the configured provider.
func newClient(cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	switch cfg.LLM.Provider {
	case "ollama":
		a, err := unifiedllm.NewOllamaAdapter(cfg.LLM.Model, cfg.LLM.BaseURL)
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		a, err := unifiedllm.NewGollmAdapter(cfg.LLM.Provider, cfg.APIKey(),
			unifiedllm.WithModel(cfg.LLM.Model),
			unifiedllm.WithMaxTokens(cfg.LLM.MaxTokens),
			unifiedllm.WithTemperature(cfg.LLM.Temperature),
		)
		if err != nil {
			return nil, err
		}
		adapter = a
	}

	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model request", "attempt", attempt, "delay", delay, "error", err)
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.LLM.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.LLM.Provider),
		unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(policy)),
		unifiedllm.WithStreamMiddleware(unifiedllm.RetryStreamMiddleware(policy)),
	), nil
}

// orchestrator builds an Orchestrator backed by the configured model. The
// agent tool is registered on the shared table so agents can delegate.
func (a *app) orchestrator(emitter *agentloop.EventEmitter) (*subagent.Orchestrator, error) {
	client, err := newClient(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)

	temp := a.cfg.LLM.Temperature
	loopCfg := agentloop.Config{
		MaxTurns: a.cfg.Loop.MaxTurns,
		Generation: agentloop.GenerationConfig{
			Provider:    a.cfg.LLM.Provider,
			Model:       a.cfg.LLM.Model,
			MaxTokens:   a.cfg.LLM.MaxTokens,
			Temperature: &temp,
		},
	}

	opts := []subagent.Option{
		subagent.WithConfig(loopCfg),
		subagent.WithPipelineMaxTurns(a.cfg.PipelineTurns()),
		subagent.WithProjectContext(subagent.ProjectContext(a.workspace, a.env.Platform(), a.cfg.LLM.Model)),
		subagent.WithMaxDepth(a.cfg.Loop.MaxAgentDepth),
		subagent.WithLogger(a.logger),
	}
	if emitter != nil {
		opts = append(opts, subagent.WithEmitter(emitter))
	}
	if a.store != nil {
		opts = append(opts, subagent.WithRecorder(a.store))
	}

	orch := subagent.NewOrchestrator(agentloop.NewClientStreamer(client), a.executor, a.personas, opts...)
	orch.RegisterAgentTool(a.table)
	return orch, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Debug("close", "error", err)
		}
	}
	a.closers = nil
}
