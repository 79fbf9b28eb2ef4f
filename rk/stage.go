package rk

import (
	"context"
	"math"
	"sync"

	"github.com/sarchlab/rkmerson/grid"
)

// weightedTerm is one coeff*k addend used to build a stage's evaluation
// point before calling the right-hand side.
type weightedTerm struct {
	coeff float64
	k     []float64
}

// evalStageWeighted builds xTemp = x + sum(term.coeff*term.k) over every
// chunk's interior offsets (ghost cells are copied verbatim from x, for
// the right-hand side's own boundary/ghost handling to refill), then calls
// rhs at tEval. With no terms it calls rhs directly on x, which is K1.
func (it *Integrator) evalStageWeighted(
	ctx context.Context,
	rhs RightHandSide,
	tEval float64,
	x, xTemp []float64,
	terms []weightedTerm,
	kOut []float64,
) error {
	if len(terms) == 0 {
		return rhs(tEval, x, kOut)
	}

	copy(xTemp, x)
	it.forEachChunk(ctx, func(ch grid.Chunk) {
		for i := ch.Offset; i < ch.Offset+ch.Length; i++ {
			v := x[i]
			for _, term := range terms {
				v += term.coeff * term.k[i]
			}
			xTemp[i] = v
		}
	})
	return rhs(tEval, xTemp, kOut)
}

// reduceError computes this worker's local error norm
// max_i w_i*|0.2*K1-0.9*K3+0.8*K4-0.1*K5| over interior chunks, and, when
// NaN recovery is enabled, whether any element was non-finite. Per the
// open question in the core design, this accumulator is always built
// fresh: callers must never carry it across a rejected attempt.
func (it *Integrator) reduceError(ctx context.Context, k1, k3, k4, k5 []float64) (eps float64, nonFinite bool) {
	localMax := make([]float64, len(it.chunks))
	localNaN := make([]bool, len(it.chunks))

	var wg sync.WaitGroup
	for idx, ch := range it.chunks {
		idx, ch := idx, ch
		_ = it.sem.Acquire(ctx, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer it.sem.Release(1)

			max := 0.0
			flagged := false
			for i := ch.Offset; i < ch.Offset+ch.Length; i++ {
				e := ch.Weight * math.Abs(0.2*k1[i]-0.9*k3[i]+0.8*k4[i]-0.1*k5[i])
				if it.cfg.NaNRecovery && !isFinite(e) {
					flagged = true
					break
				}
				if e > max {
					max = e
				}
			}
			localMax[idx] = max
			localNaN[idx] = flagged
		}()
	}
	wg.Wait()

	for i := range localMax {
		if localMax[i] > eps {
			eps = localMax[i]
		}
		if localNaN[i] {
			nonFinite = true
		}
	}
	return eps, nonFinite
}

// applyUpdate adds the Merson combiner increment to x over every chunk's
// interior offsets.
func (it *Integrator) applyUpdate(ctx context.Context, x, k1, k4, k5 []float64, h float64) {
	it.forEachChunk(ctx, func(ch grid.Chunk) {
		for i := ch.Offset; i < ch.Offset+ch.Length; i++ {
			x[i] += (h / 3) * (0.5*(k1[i]+k5[i]) + 2*k4[i])
		}
	})
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
