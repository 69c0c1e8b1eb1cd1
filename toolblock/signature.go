package toolblock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Signature is the stagnation key for a single call: the tool name and its
// whitespace-normalized primary argument. Writes and edits also carry a hash
// of their payload so rewriting a file with different content is not
// mistaken for a repeat.
func Signature(c Call) string {
	name := strings.ToLower(c.Name)
	if c.Malformed() {
		return name + ":!" + normalizeSpace(c.Body)
	}

	var primary string
	switch name {
	case "write":
		primary = c.Arg(ArgPath) + "#" + payloadHash(c.Arg(ArgContent))
	case "edit":
		primary = c.Arg(ArgPath) + "#" + payloadHash(c.Arg(ArgOld)+"\x00"+c.Arg(ArgNew))
	case "grep":
		primary = c.Arg(ArgPattern) + "|" + c.Arg(ArgGlob)
	case "agent":
		primary = c.Arg(ArgAgent) + "|" + c.Arg(ArgTask)
	default:
		primary = c.Arg(ArgValue)
	}
	return name + ":" + normalizeSpace(primary)
}

// RoundSignature is the sorted, de-duplicated set of call signatures for one
// round, joined by newlines. Two rounds with equal round signatures asked for
// the same work.
func RoundSignature(calls []Call) string {
	if len(calls) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(calls))
	sigs := make([]string, 0, len(calls))
	for _, c := range calls {
		s := Signature(c)
		if seen[s] {
			continue
		}
		seen[s] = true
		sigs = append(sigs, s)
	}
	sort.Strings(sigs)
	return strings.Join(sigs, "\n")
}

func payloadHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
