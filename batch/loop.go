// Package batch implements the batch-loop and postprocess component of
// the core design (§4.9): a nested Cartesian-product loop over up to 20
// counters, each with its own upper bound and optional mnemonic labels,
// and the two postprocess execution modes run after each accepted
// iteration.
package batch

import (
	"fmt"
	"strings"
)

// MaxCounters is the nesting-depth limit spec.md §4.9 places on the batch
// loop.
const MaxCounters = 20

// Counter is one nested loop's upper bound and optional per-value labels.
// A nil Labels means the materialized suffix is the zero-padded index.
type Counter struct {
	Name   string
	Upper  int
	Labels []string
}

// Loop is a validated, ready-to-run nested batch loop.
type Loop struct {
	counters []Counter
}

// NewLoop validates counters (non-empty, at most MaxCounters, positive
// upper bounds, and labels arrays sized to match their counter) and
// returns a Loop ready to Run.
func NewLoop(counters []Counter) (*Loop, error) {
	if len(counters) == 0 {
		return nil, fmt.Errorf("batch: loop needs at least one counter")
	}
	if len(counters) > MaxCounters {
		return nil, fmt.Errorf("batch: loop has %d counters, exceeds the limit of %d", len(counters), MaxCounters)
	}
	for _, c := range counters {
		if c.Upper <= 0 {
			return nil, fmt.Errorf("batch: counter %q has non-positive upper bound %d", c.Name, c.Upper)
		}
		if c.Labels != nil && len(c.Labels) != c.Upper {
			return nil, fmt.Errorf("batch: counter %q has %d labels but upper bound %d", c.Name, len(c.Labels), c.Upper)
		}
	}
	return &Loop{counters: counters}, nil
}

// Tuple is one point in the Cartesian product: the current value of every
// counter, and the string fragment each resolves to.
type Tuple struct {
	Indices []int
	Parts   []string
}

// Suffix joins the tuple's parts into the variable-string directory/file
// suffix §4.9 describes.
func (t Tuple) Suffix() string { return strings.Join(t.Parts, "_") }

// Outcome is what the caller decides after (possibly) running one
// iteration: whether it was skipped (continue_if) and whether the whole
// loop should stop (break).
type Outcome struct {
	Skipped bool
	Break   bool
}

// Run walks every tuple of the Cartesian product in nested order — the
// first counter varies slowest, the last fastest — calling fn once per
// tuple. It stops as soon as fn returns an error or an Outcome with Break
// set.
func (l *Loop) Run(fn func(Tuple) (Outcome, error)) error {
	indices := make([]int, len(l.counters))
	for {
		tuple := l.materialize(indices)
		outcome, err := fn(tuple)
		if err != nil {
			return err
		}
		if outcome.Break {
			return nil
		}

		if !l.advance(indices) {
			return nil
		}
	}
}

func (l *Loop) materialize(indices []int) Tuple {
	parts := make([]string, len(l.counters))
	idxCopy := make([]int, len(indices))
	copy(idxCopy, indices)
	for i, c := range l.counters {
		if c.Labels != nil {
			parts[i] = c.Labels[indices[i]]
		} else {
			width := len(fmt.Sprintf("%d", c.Upper-1))
			parts[i] = fmt.Sprintf("%0*d", width, indices[i])
		}
	}
	return Tuple{Indices: idxCopy, Parts: parts}
}

// advance increments indices as an odometer, last counter fastest. It
// returns false once every combination has been produced.
func (l *Loop) advance(indices []int) bool {
	for i := len(l.counters) - 1; i >= 0; i-- {
		indices[i]++
		if indices[i] < l.counters[i].Upper {
			return true
		}
		indices[i] = 0
	}
	return false
}
