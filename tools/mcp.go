package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer describes an external tool server launched as a subprocess.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Transport returns a stdio transport that launches the server.
func (s MCPServer) Transport() mcp.Transport {
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Env = filterEnvironment()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &mcp.CommandTransport{Command: cmd}
}

// MCPConnection is a live session with one external tool server. Its tools
// are exposed as "server.tool" entries in a Table.
type MCPConnection struct {
	name    string
	session *mcp.ClientSession
	tools   []*mcp.Tool
	logger  *slog.Logger
}

// ConnectMCP opens a session over transport and lists the server's tools.
func ConnectMCP(ctx context.Context, name string, transport mcp.Transport, logger *slog.Logger) (*MCPConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "taskloop", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to mcp server %s: %w", name, err)
	}
	list, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools on mcp server %s: %w", name, err)
	}
	logger.Info("connected mcp server", "server", name, "tools", len(list.Tools))
	return &MCPConnection{name: name, session: session, tools: list.Tools, logger: logger}, nil
}

// ToolNames returns the qualified names this connection registers.
func (c *MCPConnection) ToolNames() []string {
	names := make([]string, len(c.tools))
	for i, t := range c.tools {
		names[i] = c.name + "." + t.Name
	}
	return names
}

// Register adds one Table entry per remote tool.
func (c *MCPConnection) Register(t *Table) {
	for _, tool := range c.tools {
		qualified := c.name + "." + tool.Name
		t.Register(Tool{
			Name:    qualified,
			Usage:   mcpUsage(qualified, tool),
			Handler: c.handler(tool.Name),
		})
	}
}

// Close ends the session.
func (c *MCPConnection) Close() error {
	return c.session.Close()
}

func (c *MCPConnection) handler(remote string) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		args := map[string]any{}
		if body := strings.TrimSpace(call.Body); body != "" {
			if err := json.Unmarshal([]byte(body), &args); err != nil {
				return Fail(call.Name, "arguments must be a JSON object: %v", err)
			}
		}

		res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: remote, Arguments: args})
		if err != nil {
			return Fail(call.Name, "%s failed: %v", call.Name, err)
		}

		var parts []string
		for _, content := range res.Content {
			switch v := content.(type) {
			case *mcp.TextContent:
				parts = append(parts, v.Text)
			default:
				parts = append(parts, fmt.Sprintf("[%T content omitted]", content))
			}
		}
		out := strings.Join(parts, "\n")
		if out == "" {
			out = "(no output)"
		}
		if res.IsError {
			return Fail(call.Name, "%s", out)
		}
		return Succeed(call.Name, out)
	}
}

func mcpUsage(qualified string, tool *mcp.Tool) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(tool.Description))
	sb.WriteString("\nBody: a JSON object of arguments.")
	if tool.InputSchema != nil {
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			sb.WriteString(" Schema: ")
			sb.Write(schema)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(toolblock.Format(qualified, "{}"))
	return sb.String()
}
