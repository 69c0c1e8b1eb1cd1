package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/martinemde/taskloop/toolblock"
)

// Read limits. Output past either bound is cut with an explicit marker.
const (
	MaxReadLines = 2000
	MaxReadChars = 50000
)

// Lines that stand in for elided code. A write containing one would replace
// real code with the placeholder.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*(?://|#|--|;|/\*|<!--)?\s*(?:\.\.\.|…)\s*(?:rest of|existing|remaining|unchanged|previous|other)\b[^\n]*$`),
	regexp.MustCompile(`(?im)^\s*(?://|#|--|;|/\*|<!--)\s*(?:rest of (?:the )?(?:code|file|implementation)|existing code|remaining code)[^\n]*(?:\.\.\.|…)`),
}

func hasPlaceholder(content string) (string, bool) {
	for _, re := range placeholderPatterns {
		if m := re.FindString(content); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

func readTool(ctx context.Context, call toolblock.Call, env Environment) Result {
	path := call.Arg(toolblock.ArgPath)
	info, err := env.Stat(path)
	if err != nil {
		return statFailure("read", path, err)
	}
	if info.IsDir() {
		return Fail("read", "%s is a directory; use ls to list it", path)
	}
	data, err := env.ReadFile(path)
	if err != nil {
		return Fail("read", "cannot read %s: %v", path, err)
	}
	if looksBinary(data) {
		return Fail("read", "%s appears to be a binary file", path)
	}
	res := Succeed("read", numberLines(string(data), MaxReadLines, MaxReadChars))
	res.FilePath = path
	return res
}

// numberLines formats content as "N | text" lines, stopping at whichever
// limit is reached first.
func numberLines(content string, maxLines, maxChars int) string {
	if content == "" {
		return "(empty file)"
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	var sb strings.Builder
	shown := 0
	for i, line := range lines {
		if i >= maxLines {
			break
		}
		entry := fmt.Sprintf("%d | %s\n", i+1, line)
		if sb.Len()+len(entry) > maxChars {
			break
		}
		sb.WriteString(entry)
		shown++
	}
	if shown < len(lines) {
		fmt.Fprintf(&sb, "[... truncated: showing lines 1-%d of %d ...]", shown, len(lines))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeTool(journal Journal) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		path := call.Arg(toolblock.ArgPath)
		content := call.Arg(toolblock.ArgContent)

		if line, ok := hasPlaceholder(content); ok {
			return Fail("write", "refusing to write %s: content contains a placeholder line %q; write the complete file", path, line)
		}

		change := NewChange(ctx, "write", env.Resolve(path), ChangeCreate)
		info, err := env.Stat(path)
		switch {
		case err == nil && info.IsDir():
			return Fail("write", "%s is a directory", path)
		case err == nil:
			before, err := env.ReadFile(path)
			if err != nil {
				return Fail("write", "cannot read existing %s: %v", path, err)
			}
			change.Kind = ChangeModify
			change.Existed = true
			change.Before = before
		case !errors.Is(err, fs.ErrNotExist):
			return Fail("write", "cannot stat %s: %v", path, err)
		}
		change.After = []byte(content)

		if err := journal.Record(ctx, change); err != nil {
			return Fail("write", "cannot record change for %s: %v", path, err)
		}
		if err := env.WriteFile(path, []byte(content)); err != nil {
			return Fail("write", "cannot write %s: %v", path, err)
		}

		verb := "Created"
		if change.Existed {
			verb = "Overwrote"
		}
		res := Succeed("write", fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content)))
		res.FilePath = path
		return res
	}
}

func editTool(journal Journal) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		path := call.Arg(toolblock.ArgPath)
		oldStr := call.Arg(toolblock.ArgOld)
		newStr := call.Arg(toolblock.ArgNew)

		info, err := env.Stat(path)
		if err != nil {
			return statFailure("edit", path, err)
		}
		if info.IsDir() {
			return Fail("edit", "%s is a directory", path)
		}
		data, err := env.ReadFile(path)
		if err != nil {
			return Fail("edit", "cannot read %s: %v", path, err)
		}
		content := string(data)

		idx := strings.Index(content, oldStr)
		if idx < 0 {
			return Fail("edit", "old content not found in %s; read the file and copy the text to replace exactly", path)
		}
		occurrences := strings.Count(content, oldStr)
		updated := content[:idx] + newStr + content[idx+len(oldStr):]

		change := NewChange(ctx, "edit", env.Resolve(path), ChangeModify)
		change.Existed = true
		change.Before = data
		change.After = []byte(updated)
		if err := journal.Record(ctx, change); err != nil {
			return Fail("edit", "cannot record change for %s: %v", path, err)
		}
		if err := env.WriteFile(path, []byte(updated)); err != nil {
			return Fail("edit", "cannot write %s: %v", path, err)
		}

		d := &Diff{
			FilePath:  path,
			OldStr:    oldStr,
			NewStr:    newStr,
			StartLine: strings.Count(content[:idx], "\n") + 1,
		}
		var out strings.Builder
		fmt.Fprintf(&out, "Edited %s at line %d", path, d.StartLine)
		if occurrences > 1 {
			fmt.Fprintf(&out, " (first of %d occurrences)", occurrences)
		}
		out.WriteString("\n" + d.Unified())

		return Result{Tool: "edit", Success: true, Output: out.String(), Diff: d, FilePath: path}
	}
}

func deleteTool(journal Journal) Handler {
	return func(ctx context.Context, call toolblock.Call, env Environment) Result {
		path := call.Arg(toolblock.ArgPath)
		info, err := env.Stat(path)
		if err != nil {
			return statFailure("delete", path, err)
		}
		if info.IsDir() {
			return Fail("delete", "refusing to delete directory %s", path)
		}
		before, err := env.ReadFile(path)
		if err != nil {
			return Fail("delete", "cannot read %s: %v", path, err)
		}

		change := NewChange(ctx, "delete", env.Resolve(path), ChangeDelete)
		change.Existed = true
		change.Before = before
		if err := journal.Record(ctx, change); err != nil {
			return Fail("delete", "cannot record change for %s: %v", path, err)
		}
		if err := env.RemoveFile(path); err != nil {
			return Fail("delete", "cannot delete %s: %v", path, err)
		}
		res := Succeed("delete", "Deleted "+path)
		res.FilePath = path
		return res
	}
}

func lsTool(ctx context.Context, call toolblock.Call, env Environment) Result {
	path := call.Arg(toolblock.ArgPath)
	if path == "" {
		path = "."
	}
	info, err := env.Stat(path)
	if err != nil {
		return statFailure("ls", path, err)
	}
	if !info.IsDir() {
		return Fail("ls", "%s is not a directory", path)
	}
	entries, err := env.ListDirectory(path)
	if err != nil {
		return Fail("ls", "cannot list %s: %v", path, err)
	}
	if len(entries) == 0 {
		return Succeed("ls", "(empty directory)")
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Name)
		if e.IsDir {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
	}
	res := Succeed("ls", strings.TrimSuffix(sb.String(), "\n"))
	res.FilePath = path
	return res
}

func statFailure(tool, path string, err error) Result {
	if errors.Is(err, fs.ErrNotExist) {
		return Fail(tool, "file not found: %s", path)
	}
	return Fail(tool, "cannot access %s: %v", path, err)
}
