package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/taskloop/toolblock"
)

func bashTool(opts Options) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		command := call.Arg(toolblock.ArgValue)
		res, err := env.Shell(ctx, command, ExecOptions{
			Timeout:   opts.CommandTimeout,
			MaxOutput: opts.MaxOutputBytes,
		})
		return processResult("bash", command, res, err, opts)
	}
}

func ghTool(opts Options) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		raw := call.Arg(toolblock.ArgValue)
		args, err := splitArgs(raw)
		if err != nil {
			return Fail("gh", "cannot parse arguments: %v", err)
		}
		if len(args) > 0 && args[0] == "gh" {
			args = args[1:]
		}
		if len(args) == 0 {
			return Fail("gh", "gh requires a subcommand")
		}
		res, err := env.Exec(ctx, append([]string{"gh"}, args...), ExecOptions{
			Timeout:   opts.CommandTimeout,
			MaxOutput: opts.MaxOutputBytes,
			Env:       map[string]string{"GH_PROMPT_DISABLED": "1", "NO_COLOR": "1"},
		})
		return processResult("gh", raw, res, err, opts)
	}
}

// processResult turns a finished process into a tool result. It never
// returns a Go error; every outcome is reported through Success.
func processResult(tool, command string, res *ExecResult, err error, opts Options) Result {
	out := Result{Tool: tool, Command: command}
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		out.Output = "command cancelled"
		return out
	case err != nil:
		out.Output = fmt.Sprintf("command failed to start: %v", err)
		return out
	}

	text := strings.TrimRight(res.Output(), "\n")
	if res.Truncated {
		text += fmt.Sprintf("\n[... output truncated at %d bytes ...]", opts.MaxOutputBytes)
	}

	switch {
	case res.TimedOut:
		out.Output = fmt.Sprintf("command timed out after %s", opts.CommandTimeout)
		if text != "" {
			out.Output += "\n" + text
		}
	case res.ExitCode != 0:
		if text == "" {
			text = "(no output)"
		}
		out.Output = fmt.Sprintf("%s\n[exit code %d]", text, res.ExitCode)
	default:
		if text == "" {
			text = "(no output)"
		}
		out.Success = true
		out.Output = text
	}
	return out
}
