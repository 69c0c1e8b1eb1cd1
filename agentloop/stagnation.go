package agentloop

import "github.com/martinemde/taskloop/toolblock"

// stagnationDetector reports when a round requests exactly the same set of
// tool calls as the round before it.
type stagnationDetector struct {
	previous string
	seen     bool
}

// observe records the calls of a round and reports whether they repeat the
// previous round. Rounds without calls never count as a repeat.
func (d *stagnationDetector) observe(calls []toolblock.Call) bool {
	sig := toolblock.RoundSignature(calls)
	if sig == "" {
		return false
	}
	repeat := d.seen && sig == d.previous
	d.previous = sig
	d.seen = true
	return repeat
}
