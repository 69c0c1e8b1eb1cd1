package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/martinemde/taskloop/toolblock"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shoutArgs struct {
	Text string `json:"text,omitempty" jsonschema:"text to shout"`
}

func startShoutServer(t *testing.T) mcp.Transport {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "loud", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "shout", Description: "Upper-case some text."},
		func(ctx context.Context, req *mcp.CallToolRequest, in shoutArgs) (*mcp.CallToolResult, any, error) {
			if in.Text == "" {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: "text is required"}},
				}, nil, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: strings.ToUpper(in.Text)}},
			}, nil, nil
		})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	return clientTransport
}

func TestMCPToolsJoinTable(t *testing.T) {
	ctx := context.Background()
	conn, err := ConnectMCP(ctx, "loud", startShoutServer(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []string{"loud.shout"}, conn.ToolNames())

	table := NewBuiltinTable(DefaultOptions())
	conn.Register(table)
	require.True(t, table.Has("loud.shout"))
	assert.Contains(t, table.Get("loud.shout").Usage, "Upper-case some text.")

	ex := NewExecutor(table, NewLocalEnvironment(t.TempDir()))

	calls, _ := toolblock.Parse("<tool:loud.shout>\n{\"text\": \"hello\"}\n</tool>")
	require.Len(t, calls, 1)
	res := ex.Execute(ctx, calls[0])
	require.True(t, res.Success, res.Output)
	assert.Equal(t, "HELLO", res.Output)

	calls, _ = toolblock.Parse("<tool:loud.shout>\n{}\n</tool>")
	res = ex.Execute(ctx, calls[0])
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "text is required")

	calls, _ = toolblock.Parse("<tool:loud.shout>\nnot json\n</tool>")
	res = ex.Execute(ctx, calls[0])
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "JSON object")
}

func TestMCPNativeCallPassesEveryArgument(t *testing.T) {
	ctx := context.Background()
	conn, err := ConnectMCP(ctx, "loud", startShoutServer(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer conn.Close()

	table := NewTable()
	conn.Register(table)
	ex := NewExecutor(table, NewLocalEnvironment(t.TempDir()))

	// Native calls carry the raw JSON in Body and no free-form argument.
	call := toolblock.Call{
		Name: "loud.shout",
		Args: map[string]string{"text": "quiet please"},
		Body: `{"text":"quiet please"}`,
	}
	res := ex.Execute(ctx, call)
	require.True(t, res.Success, res.Output)
	assert.Equal(t, "QUIET PLEASE", res.Output)
}
