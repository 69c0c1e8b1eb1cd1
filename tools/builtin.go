package tools

import (
	"net/http"
	"time"
)

// Options configures the built-in tools.
type Options struct {
	Journal        Journal
	CommandTimeout time.Duration
	MaxOutputBytes int
	HTTPClient     *http.Client
	HTTPTimeout    time.Duration
	MaxFetchBytes  int64
	SearchURL      string
	UserAgent      string
}

// DefaultOptions returns the built-in tool defaults.
func DefaultOptions() Options {
	return Options{
		Journal:        NewMemoryJournal(),
		CommandTimeout: 30 * time.Second,
		MaxOutputBytes: 30000,
		HTTPTimeout:    20 * time.Second,
		MaxFetchBytes:  2 << 20,
		SearchURL:      "https://html.duckduckgo.com/html/",
		UserAgent:      "taskloop/0.1 (+https://github.com/martinemde/taskloop)",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Journal == nil {
		o.Journal = d.Journal
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = d.MaxOutputBytes
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = d.HTTPTimeout
	}
	if o.MaxFetchBytes <= 0 {
		o.MaxFetchBytes = d.MaxFetchBytes
	}
	if o.SearchURL == "" {
		o.SearchURL = d.SearchURL
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	return o
}

// NewBuiltinTable returns a Table holding every built-in tool.
func NewBuiltinTable(opts Options) *Table {
	t := NewTable()
	RegisterBuiltins(t, opts)
	return t
}

// RegisterBuiltins registers the built-in filesystem, search, shell and web
// tools on t.
func RegisterBuiltins(t *Table, opts Options) {
	opts = opts.withDefaults()

	t.Register(Tool{
		Name:     "read",
		ReadOnly: true,
		Handler:  readTool,
		Usage: `Read a file with line numbers. Body: the file path.
<tool:read>
internal/server/server.go
</tool>`,
	})
	t.Register(Tool{
		Name:    "write",
		Handler: writeTool(opts.Journal),
		Usage: `Create or overwrite a file. First line: the path. Remaining lines: the complete content.
Never abbreviate with placeholder comments such as "// ... rest of code ...".
<tool:write>
hello.txt
Hello, world!
</tool>`,
	})
	t.Register(Tool{
		Name:    "edit",
		Handler: editTool(opts.Journal),
		Usage: `Replace the first exact occurrence of OLD with NEW. First line: the path.
<tool:edit>
main.go
<<<<<<< OLD
fmt.Println("hi")
=======
fmt.Println("hello")
>>>>>>> NEW
</tool>`,
	})
	t.Register(Tool{
		Name:    "delete",
		Handler: deleteTool(opts.Journal),
		Usage: `Delete a file. Body: the file path.
<tool:delete>
tmp/output.log
</tool>`,
	})
	t.Register(Tool{
		Name:     "ls",
		ReadOnly: true,
		Handler:  lsTool,
		Usage: `List a directory. Body: the directory path (default ".").
<tool:ls>
internal
</tool>`,
	})
	t.Register(Tool{
		Name:     "grep",
		ReadOnly: true,
		Handler:  grepTool,
		Usage: `Search file contents with a regular expression. First line: the pattern. Optional second line: a file glob.
<tool:grep>
func New[A-Z]
*.go
</tool>`,
	})
	t.Register(Tool{
		Name:     "glob",
		ReadOnly: true,
		Handler:  globTool,
		Usage: `Find files by pattern relative to the workspace. "**" matches any directories.
<tool:glob>
**/*_test.go
</tool>`,
	})
	t.Register(Tool{
		Name:     "git",
		ReadOnly: true,
		Handler:  gitTool(opts),
		Usage: `Run a read-only git command (status, log, diff, show, branch, blame, ls-files, rev-parse, shortlog, describe, grep).
<tool:git>
log --oneline -5
</tool>`,
	})
	t.Register(Tool{
		Name:    "bash",
		Handler: bashTool(opts),
		Usage: `Run a shell command in the workspace. Commands time out after ` + opts.CommandTimeout.String() + `.
<tool:bash>
go test ./...
</tool>`,
	})
	t.Register(Tool{
		Name:    "gh",
		Handler: ghTool(opts),
		Usage: `Run the GitHub CLI.
<tool:gh>
pr list --limit 5
</tool>`,
	})
	t.Register(Tool{
		Name:     "web",
		ReadOnly: true,
		Handler:  webTool(opts),
		Usage: `Search the web. Body: the query.
<tool:web>
golang context cancellation patterns
</tool>`,
	})
	t.Register(Tool{
		Name:     "fetch",
		ReadOnly: true,
		Handler:  fetchTool(opts),
		Usage: `Fetch a URL and return it as markdown.
<tool:fetch>
https://go.dev/doc/effective_go
</tool>`,
	})
}
