package tools

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Result is what every handler returns. Failures are reported through
// Success rather than a Go error so they can be fed back to the model.
type Result struct {
	Tool     string `json:"tool"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Diff     *Diff  `json:"diff,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Command  string `json:"command,omitempty"`
}

// Succeed builds a successful result.
func Succeed(tool, output string) Result {
	return Result{Tool: tool, Success: true, Output: output}
}

// Fail builds a failed result with a formatted message.
func Fail(tool, format string, args ...interface{}) Result {
	return Result{Tool: tool, Success: false, Output: fmt.Sprintf(format, args...)}
}

// Diff describes a single in-place replacement made by the edit tool.
type Diff struct {
	FilePath  string `json:"file_path"`
	OldStr    string `json:"old_str"`
	NewStr    string `json:"new_str"`
	StartLine int    `json:"start_line"`
}

// Unified renders the replacement as a unified diff hunk.
func (d Diff) Unified() string {
	oldLines := splitDiffLines(d.OldStr)
	newLines := splitDiffLines(d.NewStr)

	var body strings.Builder
	for _, l := range oldLines {
		body.WriteString("-" + l + "\n")
	}
	for _, l := range newLines {
		body.WriteString("+" + l + "\n")
	}

	start := int32(d.StartLine)
	if start < 1 {
		start = 1
	}
	fd := &diff.FileDiff{
		OrigName: "a/" + d.FilePath,
		NewName:  "b/" + d.FilePath,
		Hunks: []*diff.Hunk{{
			OrigStartLine: start,
			OrigLines:     int32(len(oldLines)),
			NewStartLine:  start,
			NewLines:      int32(len(newLines)),
			Body:          []byte(body.String()),
		}},
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return body.String()
	}
	return string(out)
}

func splitDiffLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// Feedback serializes the result as it is sent back to the model.
func (r Result) Feedback() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<tool_result name=%q success=\"%t\"", r.Tool, r.Success)
	if r.FilePath != "" {
		fmt.Fprintf(&sb, " path=%q", r.FilePath)
	}
	sb.WriteString(">\n")
	sb.WriteString(strings.TrimRight(r.Output, "\n"))
	sb.WriteString("\n</tool_result>")
	return sb.String()
}

// FormatFeedback joins the serialized results of one round in order.
func FormatFeedback(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Feedback()
	}
	return strings.Join(parts, "\n\n")
}
