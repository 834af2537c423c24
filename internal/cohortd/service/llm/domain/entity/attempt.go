package entity

import (
	"fmt"
	"strings"
)

// Candidates lists the models a persona may be served by, primary first,
// without duplicates.
func Candidates(primary ModelRef, fallbacks ...ModelRef) []ModelRef {
	out := make([]ModelRef, 0, 1+len(fallbacks))
	seen := make(map[ModelRef]bool, cap(out))
	for _, ref := range append([]ModelRef{primary}, fallbacks...) {
		if ref.IsZero() || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// Attempt is how one candidate model fared within a generation.
type Attempt struct {
	Ref     ModelRef `json:"ref"`
	Reason  Reason   `json:"reason,omitempty"`
	Status  int      `json:"status,omitempty"`
	Error   string   `json:"error,omitempty"`
	Retries int      `json:"retries,omitempty"`
	// Skipped candidates were cooling down and never called.
	Skipped bool `json:"skipped,omitempty"`
}

// Attempts is the history of one generation across its candidates.
type Attempts []Attempt

// Calls counts every provider call made, retries included.
func (a Attempts) Calls() int {
	n := 0
	for _, at := range a {
		if !at.Skipped {
			n += 1 + at.Retries
		}
	}
	return n
}

// Last returns the final attempt that reached a provider.
func (a Attempts) Last() (Attempt, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if !a[i].Skipped {
			return a[i], true
		}
	}
	return Attempt{}, false
}

func (a Attempts) String() string {
	if len(a) == 0 {
		return "no attempts"
	}
	parts := make([]string, 0, len(a))
	for _, at := range a {
		switch {
		case at.Skipped:
			parts = append(parts, fmt.Sprintf("%s: skipped (%s)", at.Ref, at.Error))
		case at.Error != "":
			parts = append(parts, fmt.Sprintf("%s: %s (%s)", at.Ref, at.Error, at.Reason))
		default:
			parts = append(parts, fmt.Sprintf("%s: ok", at.Ref))
		}
	}
	return strings.Join(parts, " | ")
}
