// Package boundary implements the boundary-setup component of the core
// design (§4.5): for each variable it writes into the ghost cells on the
// four side faces of the inner grid by mirroring the adjacent interior
// value (finite-volume Neumann), and on the two faces at the outer extent
// of the whole grid — rank 0's front face and the last rank's rear face —
// applies a per-variable policy of either the same Neumann mirror or a
// Dirichlet evaluator of (t, i, j, k).
package boundary

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sarchlab/rkmerson/grid"
)

// Evaluator computes a Dirichlet boundary value at block-local coordinate
// (i, j, k) and simulation time t.
type Evaluator func(t float64, i, j, k int) float64

// Policy is one variable's policy for one of the two outer faces along the
// third axis. A nil Dirichlet means Neumann (mirror the adjacent interior
// cell); a non-nil Dirichlet overrides the mirror with its value.
type Policy struct {
	Dirichlet Evaluator
}

// VariableBoundary holds the outer-face policy for a single variable. The
// four side faces (the two along axis 1, the two along axis 2) are always
// Neumann, per §4.5 — only the two faces at the ends of axis 3 are
// configurable, and then only on the rank that actually owns that end of
// the global grid.
type VariableBoundary struct {
	OuterFront Policy // applies only when the owning block is rank 0
	OuterRear  Policy // applies only when the owning block is the last rank
}

// Apply writes every ghost cell this block is responsible for: the four
// side faces (always mirrored) for every interior row along axis 3, and,
// if this block owns either end of the global grid, that end's outer face
// per policies[v]. Work is shared across up to threads goroutines split
// along the third axis; Apply does not return until every goroutine has
// finished, so the right-hand side sees a fully updated stencil.
func Apply(ctx context.Context, b grid.Block, x []float64, t float64, policies []VariableBoundary, threads int64) {
	if threads <= 0 {
		threads = 1
	}
	sem := semaphore.NewWeighted(threads)

	kLo, kHi := b.BC, b.FullN3-b.BC
	var wg sync.WaitGroup
	for k := kLo; k < kHi; k++ {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sem.Acquire(ctx, 1)
			defer sem.Release(1)
			mirrorSideFaces(b, x, k)
		}()
	}
	wg.Wait()

	isFront := b.Rank == 0
	isRear := b.Rank == b.Procs-1
	if !isFront && !isRear {
		return
	}

	for v := 0; v < b.Vars && v < len(policies); v++ {
		pol := policies[v]
		if isFront {
			for g := 0; g < b.BC; g++ {
				applyOuterFace(b, x, t, v, b.BC-1-g, b.BC+g, pol.OuterFront)
			}
		}
		if isRear {
			for g := 0; g < b.BC; g++ {
				applyOuterFace(b, x, t, v, b.FullN3-b.BC+g, b.FullN3-b.BC-1-g, pol.OuterRear)
			}
		}
	}
}

// mirrorSideFaces mirrors the interior cell adjacent to each of the four
// side faces into the corresponding ghost cell, for every variable, at
// interior row k.
func mirrorSideFaces(b grid.Block, x []float64, k int) {
	for v := 0; v < b.Vars; v++ {
		for j := b.BC; j < b.FullN2-b.BC; j++ {
			for g := 0; g < b.BC; g++ {
				x[b.Offset(v, b.BC-1-g, j, k)] = x[b.Offset(v, b.BC+g, j, k)]
				x[b.Offset(v, b.FullN1-b.BC+g, j, k)] = x[b.Offset(v, b.FullN1-b.BC-1-g, j, k)]
			}
		}
		for i := 0; i < b.FullN1; i++ {
			for g := 0; g < b.BC; g++ {
				x[b.Offset(v, i, b.BC-1-g, k)] = x[b.Offset(v, i, b.BC+g, k)]
				x[b.Offset(v, i, b.FullN2-b.BC+g, k)] = x[b.Offset(v, i, b.FullN2-b.BC-1-g, k)]
			}
		}
	}
}

// applyOuterFace writes one outer ghost row kGhost for variable v, either
// by mirroring interior row kMirror (Neumann, the zero value of Policy) or
// by evaluating pol.Dirichlet at every (i, j, kGhost). The caller invokes
// it once per ghost layer (b.BC of them) the same way mirrorSideFaces
// loops g over the side faces.
func applyOuterFace(b grid.Block, x []float64, t float64, v, kGhost, kMirror int, pol Policy) {
	for j := 0; j < b.FullN2; j++ {
		for i := 0; i < b.FullN1; i++ {
			var val float64
			if pol.Dirichlet != nil {
				val = pol.Dirichlet(t, i, j, kGhost)
			} else {
				val = x[b.Offset(v, i, j, kMirror)]
			}
			x[b.Offset(v, i, j, kGhost)] = val
		}
	}
}
