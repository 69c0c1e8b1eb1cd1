package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// ExecResult holds the outcome of an external process.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// ExecOptions bounds an external process.
type ExecOptions struct {
	Timeout   time.Duration
	MaxOutput int
	Env       map[string]string
}

// Environment is where handlers touch the filesystem and run processes.
type Environment interface {
	Resolve(path string) string
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte) error
	RemoveFile(path string) error
	Stat(path string) (fs.FileInfo, error)
	ListDirectory(path string) ([]DirEntry, error)

	// Shell runs command through /bin/bash -c.
	Shell(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)
	// Exec runs argv directly without a shell.
	Exec(ctx context.Context, argv []string, opts ExecOptions) (*ExecResult, error)

	Grep(ctx context.Context, pattern, glob string) ([]string, error)
	Glob(pattern string) ([]string, error)

	WorkingDirectory() string
	Platform() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables withheld from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
	// gh needs its own token to authenticate.
	"GH_TOKEN": true, "GITHUB_TOKEN": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// skipDirs are never descended into by the in-process walkers.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".hg": true,
}

// LocalEnvironment runs tools on the local machine rooted at a workspace.
type LocalEnvironment struct {
	workingDir string
	// useRipgrep is cleared in tests to force the in-process search.
	useRipgrep bool
}

// NewLocalEnvironment creates a LocalEnvironment. An empty workingDir means
// the process working directory.
func NewLocalEnvironment(workingDir string) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	return &LocalEnvironment{workingDir: workingDir, useRipgrep: true}
}

// Initialize creates the workspace directory.
func (e *LocalEnvironment) Initialize() error {
	return os.MkdirAll(e.workingDir, 0o755)
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalEnvironment) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

func (e *LocalEnvironment) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalEnvironment) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(e.Resolve(path))
}

func (e *LocalEnvironment) WriteFile(path string, content []byte) error {
	resolved := e.Resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(resolved, content, 0o644)
}

func (e *LocalEnvironment) RemoveFile(path string) error {
	return os.Remove(e.Resolve(path))
}

func (e *LocalEnvironment) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(e.Resolve(path))
}

func (e *LocalEnvironment) ListDirectory(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(e.Resolve(path))
	if err != nil {
		return nil, err
	}
	result := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (e *LocalEnvironment) Shell(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	return e.Exec(ctx, []string{"/bin/bash", "-c", command}, opts)
}

func (e *LocalEnvironment) Exec(ctx context.Context, argv []string, opts ExecOptions) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("exec: empty command")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.workingDir
	// Own process group so a timeout takes down children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	env := filterEnvironment()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdout := newCappedBuffer(opts.MaxOutput)
	stderr := newCappedBuffer(opts.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.truncated || stderr.truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() != nil:
			return result, ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec %s: %w", argv[0], err)
		}
	}
	return result, nil
}

// Grep searches the workspace for pattern and returns "path:line:text"
// matches sorted by path. Ripgrep is used when installed.
func (e *LocalEnvironment) Grep(ctx context.Context, pattern, glob string) ([]string, error) {
	if e.useRipgrep {
		if rgPath, err := exec.LookPath("rg"); err == nil {
			return e.ripgrep(ctx, rgPath, pattern, glob)
		}
	}
	return e.grepWalk(ctx, pattern, glob)
}

func (e *LocalEnvironment) ripgrep(ctx context.Context, rgPath, pattern, glob string) ([]string, error) {
	args := []string{"--line-number", "--no-heading", "--color", "never", "--sort", "path"}
	if glob != "" {
		args = append(args, "--glob", glob)
	}
	args = append(args, "-e", pattern)

	cmd := exec.CommandContext(ctx, rgPath, args...)
	cmd.Dir = e.workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// rg exits 1 when nothing matched.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("rg: %s", msg)
		}
		return nil, fmt.Errorf("rg: %w", err)
	}
	return splitNonEmpty(stdout.String()), nil
}

func (e *LocalEnvironment) grepWalk(ctx context.Context, pattern, glob string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	files, err := e.walkFiles(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, rel := range files {
		if glob != "" && !matchGlobFilter(glob, rel) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.workingDir, rel))
		if err != nil || looksBinary(data) {
			continue
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if re.Match(scanner.Bytes()) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, line, scanner.Text()))
			}
		}
	}
	return matches, nil
}

// Glob returns workspace-relative files matching pattern, sorted. "**"
// matches any number of directories.
func (e *LocalEnvironment) Glob(pattern string) ([]string, error) {
	pattern = filepath.ToSlash(strings.TrimPrefix(pattern, "./"))
	if _, err := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	files, err := e.walkFiles(context.Background())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rel := range files {
		if matchGlob(pattern, rel) {
			out = append(out, rel)
		}
	}
	return out, nil
}

// walkFiles lists every regular file under the workspace as a sorted slice
// of slash-separated relative paths.
func (e *LocalEnvironment) walkFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(e.workingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != e.workingDir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(e.workingDir, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// matchGlob matches a slash-separated path against a pattern in which "**"
// spans zero or more path segments.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(path); i++ {
				if matchSegments(rest, path[i:]) {
					return true
				}
			}
			return false
		}
		if len(path) == 0 {
			return false
		}
		ok, err := filepath.Match(pattern[0], path[0])
		if err != nil || !ok {
			return false
		}
		pattern, path = pattern[1:], path[1:]
	}
	return len(path) == 0
}

// matchGlobFilter follows ripgrep's --glob: a pattern without a slash
// matches the base name anywhere in the tree.
func matchGlobFilter(glob, rel string) bool {
	if !strings.Contains(glob, "/") {
		ok, _ := filepath.Match(glob, filepath.Base(rel))
		return ok
	}
	return matchGlob(glob, rel)
}

func looksBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// cappedBuffer keeps at most max bytes and remembers whether it dropped any.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	if b.truncated {
		return len(p), nil
	}
	remaining := b.max - b.buf.Len()
	if len(p) > remaining {
		// Cut on a rune boundary so the kept output stays valid UTF-8.
		for remaining > 0 && !utf8.RuneStart(p[remaining]) {
			remaining--
		}
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
