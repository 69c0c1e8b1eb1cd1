// Package toolblock extracts tool invocations embedded in model output.
//
// A block looks like:
//
//	<tool:read>
//	internal/app/main.go
//	</tool>
//
// Parse returns the calls in document order together with the text that
// remains once every block has been stripped. Malformed blocks never abort
// extraction; they surface as calls with Err set so the executor can report
// them back to the model.
package toolblock

import (
	"regexp"
	"strings"
)

// Argument keys populated by Parse.
const (
	ArgPath    = "path"
	ArgContent = "content"
	ArgOld     = "old"
	ArgNew     = "new"
	ArgPattern = "pattern"
	ArgGlob    = "glob"
	ArgAgent   = "agent"
	ArgTask    = "task"
	ArgValue   = "arg"
)

// Edit markers. Each must appear on its own line inside an edit block.
const (
	MarkerOld = "<<<<<<< OLD"
	MarkerSep = "======="
	MarkerNew = ">>>>>>> NEW"
)

// ErrUnterminated is the Err text for a block whose closing marker is missing.
const ErrUnterminated = "unterminated tool block"

var (
	openPattern  = regexp.MustCompile(`<\s*tool\s*:\s*([A-Za-z0-9_.\-]+)\s*>`)
	closePattern = regexp.MustCompile(`<\s*/\s*tool\s*>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// builtins are matched case-insensitively. Anything else (external tools
// such as "server.tool") keeps its spelling.
var builtins = map[string]bool{
	"read": true, "write": true, "edit": true, "delete": true,
	"bash": true, "grep": true, "glob": true, "ls": true,
	"git": true, "web": true, "fetch": true, "gh": true, "agent": true,
}

// IsBuiltin reports whether name is one of the built-in tool names.
func IsBuiltin(name string) bool {
	return builtins[strings.ToLower(name)]
}

// Call is one extracted tool invocation.
type Call struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
	Body string            `json:"body"`
	// Err is set when the block could not be interpreted. The call is still
	// returned so the failure can be fed back.
	Err string `json:"err,omitempty"`
}

// Arg returns the named argument, or "" when absent.
func (c Call) Arg(key string) string {
	if c.Args == nil {
		return ""
	}
	return c.Args[key]
}

// Malformed reports whether the block failed to parse.
func (c Call) Malformed() bool {
	return c.Err != ""
}

// Parse splits text into visible prose and tool calls.
func Parse(text string) ([]Call, string) {
	var (
		calls   []Call
		visible strings.Builder
		pos     int
	)

	for pos <= len(text) {
		open := openPattern.FindStringSubmatchIndex(text[pos:])
		if open == nil {
			visible.WriteString(stripClosers(text[pos:]))
			break
		}
		openStart, openEnd := pos+open[0], pos+open[1]
		name := normalizeName(text[pos+open[2] : pos+open[3]])
		visible.WriteString(stripClosers(text[pos:openStart]))

		bodyStart := openEnd
		closeStart, closeEnd, ok := matchClose(text, bodyStart)
		if !ok {
			end := len(text)
			if nextOpen := openPattern.FindStringIndex(text[bodyStart:]); nextOpen != nil {
				end = bodyStart + nextOpen[0]
			}
			calls = append(calls, Call{
				Name: name,
				Body: text[bodyStart:end],
				Err:  ErrUnterminated,
			})
			pos = end
			if end == len(text) {
				break
			}
			continue
		}

		calls = append(calls, parseBody(name, text[bodyStart:closeStart]))
		pos = closeEnd
	}

	return calls, cleanVisible(visible.String())
}

// Format renders a block in the syntax Parse accepts.
func Format(name, body string) string {
	return "<tool:" + name + ">\n" + strings.TrimRight(body, "\n") + "\n</tool>"
}

// matchClose finds the closing marker for a block whose body starts at from.
// Openers inside the body nest, so a write whose content shows block syntax
// keeps that syntax in its body. ok is false when the nesting never balances.
func matchClose(text string, from int) (start, end int, ok bool) {
	depth := 1
	for pos := from; pos < len(text); {
		closeLoc := closePattern.FindStringIndex(text[pos:])
		if closeLoc == nil {
			return 0, 0, false
		}
		if openLoc := openPattern.FindStringIndex(text[pos:]); openLoc != nil && openLoc[0] < closeLoc[0] {
			depth++
			pos += openLoc[1]
			continue
		}
		depth--
		if depth == 0 {
			return pos + closeLoc[0], pos + closeLoc[1], true
		}
		pos += closeLoc[1]
	}
	return 0, 0, false
}

// stripClosers drops closing markers that belong to no block.
func stripClosers(s string) string {
	return closePattern.ReplaceAllString(s, "")
}

func normalizeName(name string) string {
	if lower := strings.ToLower(name); builtins[lower] {
		return lower
	}
	return name
}

func cleanVisible(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func parseBody(name, body string) Call {
	call := Call{Name: name, Body: body, Args: map[string]string{}}

	switch name {
	case "write":
		path, rest := splitFirstLine(body)
		if path == "" {
			call.Err = "write requires a file path on the first line"
			return call
		}
		call.Args[ArgPath] = path
		call.Args[ArgContent] = rest

	case "edit":
		path, rest := splitFirstLine(body)
		if path == "" {
			call.Err = "edit requires a file path on the first line"
			return call
		}
		call.Args[ArgPath] = path
		oldText, newText, err := splitEditMarkers(rest)
		if err != "" {
			call.Err = err
			return call
		}
		call.Args[ArgOld] = oldText
		call.Args[ArgNew] = newText

	case "grep":
		lines := nonEmptyLines(body)
		if len(lines) == 0 {
			call.Err = "grep requires a pattern on the first line"
			return call
		}
		call.Args[ArgPattern] = lines[0]
		if len(lines) > 1 {
			call.Args[ArgGlob] = lines[1]
		}

	case "agent":
		agent, task := splitFirstLine(body)
		task = strings.TrimSpace(task)
		if agent == "" || task == "" {
			call.Err = "agent requires an agent id on the first line followed by a task"
			return call
		}
		call.Args[ArgAgent] = agent
		call.Args[ArgTask] = task

	default:
		arg := strings.TrimSpace(body)
		if arg == "" && requiresArg(name) {
			call.Err = name + " requires an argument"
			return call
		}
		call.Args[ArgValue] = arg
		if name == "read" || name == "delete" || name == "ls" {
			call.Args[ArgPath] = arg
		}
	}

	return call
}

func requiresArg(name string) bool {
	switch name {
	case "read", "delete", "bash", "glob", "web", "fetch", "gh":
		return true
	}
	return false
}

// splitFirstLine returns the first non-blank line (trimmed) and everything
// after it verbatim.
func splitFirstLine(body string) (string, string) {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	for {
		idx := strings.IndexByte(body, '\n')
		if idx < 0 {
			return strings.TrimSpace(body), ""
		}
		line := strings.TrimSpace(body[:idx])
		body = body[idx+1:]
		if line != "" {
			return line, body
		}
	}
}

func splitEditMarkers(rest string) (string, string, string) {
	lines := strings.Split(rest, "\n")
	oldAt, sepAt, newAt := -1, -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case MarkerOld:
			if oldAt < 0 {
				oldAt = i
			}
		case MarkerSep:
			if oldAt >= 0 && sepAt < 0 {
				sepAt = i
			}
		case MarkerNew:
			if sepAt >= 0 && newAt < 0 {
				newAt = i
			}
		}
	}
	if oldAt < 0 || sepAt < 0 || newAt < 0 {
		return "", "", "edit requires " + MarkerOld + ", " + MarkerSep + " and " + MarkerNew + " markers on their own lines"
	}
	oldText := strings.Join(lines[oldAt+1:sepAt], "\n")
	if oldText == "" {
		return "", "", "edit old content is empty"
	}
	newText := strings.Join(lines[sepAt+1:newAt], "\n")
	return oldText, newText, ""
}

func nonEmptyLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
