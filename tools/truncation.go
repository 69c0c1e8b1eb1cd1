package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies which part of an oversized output is kept.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultCharLimits caps the output fed back per tool. A zero limit means the
// handler bounds its own output.
var DefaultCharLimits = map[string]int{
	"read":  0,
	"bash":  30000,
	"gh":    30000,
	"git":   30000,
	"grep":  20000,
	"glob":  20000,
	"ls":    20000,
	"fetch": 40000,
	"web":   20000,
	"agent": 20000,
	"edit":  10000,
	"write": 1000,
}

// DefaultModes picks the truncation mode per tool; unknown tools keep head
// and tail.
var DefaultModes = map[string]TruncationMode{
	"grep":  TruncateTail,
	"glob":  TruncateTail,
	"edit":  TruncateTail,
	"write": TruncateTail,
}

// DefaultLineLimits are applied after character truncation.
var DefaultLineLimits = map[string]int{
	"bash": 256,
	"gh":   256,
	"grep": 200,
	"glob": 500,
}

const fallbackCharLimit = 30000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	if mode == TruncateTail {
		start := runeStartAfter(output, len(output)-maxChars)
		return fmt.Sprintf("[... truncated: first %d characters removed ...]\n\n", start) +
			output[start:]
	}
	headEnd := runeStartBefore(output, maxChars/2)
	tailStart := runeStartAfter(output, len(output)-maxChars/2)
	return output[:headEnd] +
		fmt.Sprintf("\n\n[... truncated: %d characters removed from the middle. Re-run the tool with a narrower request to see them ...]\n\n", tailStart-headEnd) +
		output[tailStart:]
}

// runeStartBefore moves i back to the start of the rune containing it.
func runeStartBefore(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeStartAfter moves i forward to the next rune start.
func runeStartAfter(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// TruncateLines keeps the first and last lines of output when it exceeds
// maxLines.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the character limit and then the line limit for
// tool. Overrides take precedence over the defaults.
func TruncateToolOutput(output, tool string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[tool]
	if !ok {
		maxChars, ok = DefaultCharLimits[tool]
		if !ok {
			maxChars = fallbackCharLimit
		}
	}
	mode, ok := DefaultModes[tool]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines, ok := lineLimits[tool]
	if !ok {
		maxLines = DefaultLineLimits[tool]
	}
	return TruncateLines(result, maxLines)
}
