// Package rk implements the adaptive Runge-Kutta-Merson integrator at the
// heart of the core design: five-stage evaluation, local/global error
// control, NaN recovery, per-chunk weighting, and cooperative thread
// sharing of the stage and combiner loops.
package rk

import "github.com/sarchlab/rkmerson/grid"

// RightHandSide computes dx/dt at time t given the full per-worker block
// state x (including its ghost layers) and writes the result into dxdt,
// which has the same length as x. The core never inspects the contents of
// x or dxdt beyond the offsets named by the active chunk list; everything
// else — ghost exchange, boundary setup, the PDE or force law itself — is
// the right-hand side's responsibility.
type RightHandSide func(t float64, x []float64, dxdt []float64) error

// RHSProvider is the meta right-hand-side indirection from the core
// design: the integrator asks for the effective right-hand side once at
// entry and once after every accepted step, so a caller can swap between
// discretization variants between steps without the integrator having to
// know about it.
type RHSProvider interface {
	ResolveRHS(stepCount int) RightHandSide
}

// StaticRHS adapts a single RightHandSide into an RHSProvider that never
// changes, for callers that have no need for the meta-pointer indirection.
type StaticRHS struct{ RHS RightHandSide }

// ResolveRHS implements RHSProvider.
func (s StaticRHS) ResolveRHS(int) RightHandSide { return s.RHS }

// Rebalancer is the optional dynamic-rebalancing hook the core design
// reserves: after an accepted step it may return a new chunk list. A nil
// Rebalancer is equivalent to always returning the same list.
type Rebalancer interface {
	Rebalance(stepCount int, current grid.ChunkList) grid.ChunkList
}
