package rk

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/topology"
)

// DeltaMode selects how the reduced error norm is compared against delta.
type DeltaMode int

const (
	// Local compares the reduced error, scaled by |h/3|, directly against
	// delta.
	Local DeltaMode = iota
	// Global compares the reduced error against delta without scaling.
	Global
)

// Status is the terminal disposition of one Integrate call.
type Status int

const (
	// OK means the integrator reached tEnd normally.
	OK Status = iota
	// Interrupted means the service callback asked for an early exit.
	Interrupted
	// Failed means the right-hand side returned an error, or the step size
	// collapsed below the safeguard while recovering from a non-finite
	// error estimate.
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds everything the integrator needs that does not change
// between steps.
type Config struct {
	Group       *topology.Group
	HMin        float64
	Delta       float64
	DeltaMode   DeltaMode
	NaNRecovery bool
	// Threads bounds how many goroutines may run a stage's element loop
	// concurrently. Zero means unbounded (one goroutine per chunk).
	Threads int64
	Rebalancer Rebalancer
}

// View is the read-only snapshot of integration state passed to the
// service callback.
type View struct {
	T          float64
	H          float64
	Deadline   float64
	Steps      int
	StepsTotal int
}

// ServiceCallback is invoked once per accepted step, master only. A true
// return interrupts the integrator.
type ServiceCallback func(v View) bool

// Result is returned from Integrate.
type Result struct {
	Status     Status
	T          float64
	H          float64 // the step-size estimate before the final trim
	Steps      int
	StepsTotal int
	Chunks     grid.ChunkList
	Err        error
}

// Integrator drives the five-stage Merson scheme over a worker's block.
type Integrator struct {
	cfg    Config
	sem    *semaphore.Weighted
	chunks grid.ChunkList
}

// New creates an Integrator bound to one worker's chunk list.
func New(cfg Config, chunks grid.ChunkList) *Integrator {
	weight := cfg.Threads
	if weight <= 0 {
		weight = int64(len(chunks))
		if weight <= 0 {
			weight = 1
		}
	}
	return &Integrator{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(weight),
		chunks: chunks,
	}
}

// Chunks returns the integrator's current chunk list (possibly updated by
// a Rebalancer since construction).
func (it *Integrator) Chunks() grid.ChunkList { return it.chunks }

// Integrate advances x from t0 to tEnd in place, calling rhsProvider to
// resolve the effective right-hand side and callback (master only, may be
// nil) after every accepted step.
func (it *Integrator) Integrate(
	ctx context.Context,
	t0, tEnd, h0 float64,
	x []float64,
	rhsProvider RHSProvider,
	deadline float64,
	callback ServiceCallback,
) Result {
	t := t0
	h := h0
	steps := 0
	stepsTotal := 0
	direction := sign(tEnd - t0)
	if direction == 0 {
		direction = 1
	}
	if sign(h) != direction && h != 0 {
		h = math.Abs(h) * float64(direction)
	}

	rhs := rhsProvider.ResolveRHS(stepsTotal)

	xTemp := make([]float64, len(x))
	k1 := make([]float64, len(x))
	k2 := make([]float64, len(x))
	k3 := make([]float64, len(x))
	k4 := make([]float64, len(x))
	k5 := make([]float64, len(x))

	for {
		attemptH := h
		isLast := math.Abs(tEnd-t) <= math.Abs(h)
		if isLast {
			attemptH = tEnd - t
		}

		for {
			stepsTotal++

			if err := it.evalStageWeighted(ctx, rhs, t, x, xTemp, nil, k1); err != nil {
				return it.fail(t, h, steps, stepsTotal, err)
			}
			if err := it.evalStageWeighted(ctx, rhs, t+attemptH/3, x, xTemp,
				[]weightedTerm{{attemptH / 3, k1}}, k2); err != nil {
				return it.fail(t, h, steps, stepsTotal, err)
			}
			if err := it.evalStageWeighted(ctx, rhs, t+attemptH/3, x, xTemp,
				[]weightedTerm{{attemptH / 6, k1}, {attemptH / 6, k2}}, k3); err != nil {
				return it.fail(t, h, steps, stepsTotal, err)
			}
			if err := it.evalStageWeighted(ctx, rhs, t+attemptH/2, x, xTemp,
				[]weightedTerm{{attemptH / 8, k1}, {3 * attemptH / 8, k3}}, k4); err != nil {
				return it.fail(t, h, steps, stepsTotal, err)
			}
			if err := it.evalStageWeighted(ctx, rhs, t+attemptH, x, xTemp,
				[]weightedTerm{{attemptH / 2, k1}, {-3 * attemptH / 2, k3}, {2 * attemptH, k4}}, k5); err != nil {
				return it.fail(t, h, steps, stepsTotal, err)
			}

			epsLocal, nonFinite := it.reduceError(ctx, k1, k3, k4, k5)

			if it.cfg.NaNRecovery {
				anyNonFinite := it.cfg.Group.ReduceOr(nonFinite)
				if anyNonFinite {
					attemptH /= 10
					isLast = false
					if math.Abs(attemptH)/math.Abs(tEnd-t) < 1e-11 {
						return Result{
							Status: Failed, T: t, H: h, Steps: steps, StepsTotal: stepsTotal,
							Chunks: it.chunks,
							Err:    fmt.Errorf("rk: step size collapsed below safeguard recovering from non-finite error estimate"),
						}
					}
					continue
				}
			}

			eps := it.cfg.Group.AllReduceMax(epsLocal)
			reduced := eps
			if it.cfg.DeltaMode == Local {
				reduced = eps * math.Abs(attemptH/3)
			}

			accept := reduced < it.cfg.Delta || math.Abs(attemptH) < it.cfg.HMin
			accept = topology.Broadcast(it.cfg.Group, 0, accept)

			if !accept {
				attemptH = proposeNextH(eps, it.cfg.Delta, attemptH)
				isLast = math.Abs(tEnd-t) <= math.Abs(attemptH)
				if isLast {
					attemptH = tEnd - t
				}
				continue
			}

			it.applyUpdate(ctx, x, k1, k4, k5, attemptH)
			t += attemptH
			steps++

			// Every worker derives h' independently from the globally
			// reduced eps, avoiding a second broadcast: since eps and
			// attemptH are already identical on every rank, the formula
			// below is bit-identical everywhere. A final, trimmed step
			// keeps the untrimmed estimate as h.
			if !isLast {
				h = proposeNextH(eps, it.cfg.Delta, attemptH)
			}

			if it.cfg.Rebalancer != nil {
				it.chunks = it.cfg.Rebalancer.Rebalance(stepsTotal, it.chunks)
			}

			rhs = rhsProvider.ResolveRHS(stepsTotal)

			if callback != nil {
				brk := false
				if it.cfg.Group.IsMaster() {
					brk = callback(View{T: t, H: h, Deadline: deadline, Steps: steps, StepsTotal: stepsTotal})
				}
				brk = topology.Broadcast(it.cfg.Group, 0, brk)
				if brk {
					return Result{Status: Interrupted, T: t, H: h, Steps: steps, StepsTotal: stepsTotal, Chunks: it.chunks}
				}
			}

			break
		}

		if isLast {
			return Result{Status: OK, T: t, H: h, Steps: steps, StepsTotal: stepsTotal, Chunks: it.chunks}
		}
	}
}

func (it *Integrator) fail(t, h float64, steps, stepsTotal int, err error) Result {
	return Result{Status: Failed, T: t, H: h, Steps: steps, StepsTotal: stepsTotal, Chunks: it.chunks, Err: err}
}

// proposeNextH implements the core design's next-step-proposal formula.
func proposeNextH(eps, delta, h float64) float64 {
	factor := 2.0
	if eps > 0 {
		factor = 0.8 * math.Pow(delta/eps, 1.0/5.0)
	}
	return factor * h
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// forEachChunk runs fn once per chunk, fanned out across goroutines bounded
// by the integrator's semaphore, and waits for every chunk to finish
// before returning — the barrier the core design requires after every
// stage and combiner loop.
func (it *Integrator) forEachChunk(ctx context.Context, fn func(ch grid.Chunk)) {
	var wg sync.WaitGroup
	for _, ch := range it.chunks {
		ch := ch
		_ = it.sem.Acquire(ctx, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer it.sem.Release(1)
			fn(ch)
		}()
	}
	wg.Wait()
}
