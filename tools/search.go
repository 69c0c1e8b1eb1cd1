package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/taskloop/toolblock"
)

func grepTool(ctx context.Context, call toolblock.Call, env Environment) Result {
	pattern := call.Arg(toolblock.ArgPattern)
	matches, err := env.Grep(ctx, pattern, call.Arg(toolblock.ArgGlob))
	if err != nil {
		return Fail("grep", "grep failed: %v", err)
	}
	if len(matches) == 0 {
		return Succeed("grep", "No matches found.")
	}
	return Succeed("grep", strings.Join(matches, "\n"))
}

func globTool(ctx context.Context, call toolblock.Call, env Environment) Result {
	matches, err := env.Glob(call.Arg(toolblock.ArgValue))
	if err != nil {
		return Fail("glob", "%v", err)
	}
	if len(matches) == 0 {
		return Succeed("glob", "No files matched.")
	}
	return Succeed("glob", strings.Join(matches, "\n"))
}

// readOnlyGit lists the git subcommands the git tool will run.
var readOnlyGit = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
	"blame": true, "ls-files": true, "rev-parse": true, "shortlog": true,
	"describe": true, "grep": true,
}

var branchMutatingFlags = map[string]bool{
	"-d": true, "-D": true, "-m": true, "-M": true, "-c": true, "-C": true,
	"-f": true, "-u": true, "--delete": true, "--move": true, "--copy": true,
	"--force": true, "--set-upstream-to": true, "--unset-upstream": true,
	"--edit-description": true,
}

func gitTool(opts Options) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		args, err := splitArgs(call.Arg(toolblock.ArgValue))
		if err != nil {
			return Fail("git", "cannot parse arguments: %v", err)
		}
		if len(args) > 0 && args[0] == "git" {
			args = args[1:]
		}
		if len(args) == 0 {
			return Fail("git", "git requires a subcommand")
		}
		if err := checkReadOnlyGit(args); err != nil {
			return Fail("git", "%v", err)
		}

		argv := append([]string{"git", "--no-pager"}, args...)
		res, err := env.Exec(ctx, argv, ExecOptions{Timeout: opts.CommandTimeout, MaxOutput: opts.MaxOutputBytes})
		return processResult("git", strings.Join(args, " "), res, err, opts)
	}
}

func checkReadOnlyGit(args []string) error {
	sub := args[0]
	if !readOnlyGit[sub] {
		return fmt.Errorf("git %s is not allowed; only read-only subcommands are available", sub)
	}
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "--output") || strings.HasPrefix(a, "--exec") {
			return fmt.Errorf("git option %s is not allowed", a)
		}
	}
	if sub == "branch" {
		for _, a := range args[1:] {
			flag, _, _ := strings.Cut(a, "=")
			if branchMutatingFlags[flag] {
				return fmt.Errorf("git branch %s modifies branches and is not allowed", a)
			}
		}
		if hasPositional(args[1:]) && !containsAny(args[1:], "--list", "-l", "--contains", "--merged", "--no-merged", "--points-at") {
			return errors.New("git branch with a name creates a branch and is not allowed")
		}
	}
	return nil
}

func hasPositional(args []string) bool {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return true
		}
	}
	return false
}

func containsAny(args []string, want ...string) bool {
	for _, a := range args {
		for _, w := range want {
			if a == w {
				return true
			}
		}
	}
	return false
}

// splitArgs splits s on whitespace, honoring single and double quotes and
// backslash escapes outside single quotes.
func splitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inArg = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
