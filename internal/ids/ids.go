// Package ids generates identifiers for signals, trades, and cycles.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier with the given prefix, e.g.
// New("trd") -> "trd_6a1c...".
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Signal returns a new signal identifier.
func Signal() string { return New("sig") }

// Trade returns a new closed-trade identifier.
func Trade() string { return New("trd") }

// Cycle returns a new trading-loop cycle identifier.
func Cycle() string { return New("cyc") }
