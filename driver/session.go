// Package driver implements the master-side state machine (§4.6) that
// ties every other component together: parsing initial conditions,
// running the RK-Merson core toward each snapshot deadline with ghost
// exchange and boundary setup wired into the right-hand side, emitting
// snapshots, and honoring on-demand triggers raised by the service
// callback.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/rkmerson/boundary"
	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/ghost"
	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/rk"
	"github.com/sarchlab/rkmerson/snapshot"
	"github.com/sarchlab/rkmerson/topology"
)

// Params is the flat parameter record every worker holds after DISTRIBUTE:
// everything the RUN_SNAP/ICOND states need that does not depend on which
// rank is running.
type Params struct {
	Geometry      grid.Geometry
	Procs         int
	T0            float64
	FinalTime     float64
	InitialStep   float64
	HMin          float64 // steps smaller than this are accepted regardless of error
	InitialK      int     // k0: the snapshot index the series resumes from
	SnapshotCount int     // N
	Delta         float64
	DeltaMode     rk.DeltaMode
	NaNRecovery   bool
	Threads       int64

	VarNames         []string
	ICondExprs       []string // formula per variable, VarNames order
	Globals          map[string]float64
	BoundaryPolicies []boundary.VariableBoundary

	// ICondFile selects ICOND's File mode (§4.6): scatter the initial
	// state from store instead of evaluating ICondExprs. ICondSkip skips
	// ICOND entirely, leaving the block's storage zeroed; it takes
	// precedence over ICondFile. ContinueSeries reads the continuation
	// attributes (t, tau, final_time, snapshot, total_snapshots) from
	// store and overrides T0, InitialStep, FinalTime, InitialK and
	// SnapshotCount with them before RUN_SNAP begins.
	ICondFile      bool
	ICondSkip      bool
	ContinueSeries bool
}

// Deadline returns t_k for snapshot index k, per §4.6's RUN_SNAP formula.
func (p Params) Deadline(k int) float64 {
	denom := p.SnapshotCount - 1 - p.InitialK
	if denom <= 0 {
		return p.FinalTime
	}
	return p.T0 + (p.FinalTime-p.T0)*float64(k-p.InitialK)/float64(denom)
}

// Summary is what RunOnce reports about a completed (or failed) run.
type Summary struct {
	FinalT      float64
	FinalH      float64
	SnapshotsAt []int
	Interrupted int // number of on-demand snapshots emitted mid-deadline

	// OnDemandSuffixes records the output-file-name suffix (§8's
	// on-demand-snapshot property: ".<regular>.000", ".001", … resetting
	// to .000 after each regular snapshot) used for each on-demand
	// emission this run produced, in order.
	OnDemandSuffixes []string
}

// RunOnce drives one worker through ICOND and the RUN_SNAP/EMIT loop to
// completion. Only the master (virtual rank 0) touches store; every rank
// must call RunOnce so the collectives inside series continuation, ICOND's
// File mode, the right-hand side's ghost exchange, the integrator and
// snapshot gathering make progress.
func RunOnce(ctx context.Context, group *topology.Group, p Params, rhs rk.RightHandSide, callback rk.ServiceCallback, store dataset.Store) (Summary, error) {
	block, err := grid.NewBlock(p.Geometry, p.Procs, int(group.MyRank()))
	if err != nil {
		return Summary{}, fmt.Errorf("driver: %w", err)
	}
	chunks := grid.DefaultChunks(block)
	if err := chunks.Validate(block); err != nil {
		return Summary{}, fmt.Errorf("driver: %w", err)
	}

	if p.ContinueSeries {
		cont, err := loadContinuation(group, store)
		if err != nil {
			return Summary{}, err
		}
		p.T0 = cont.T
		p.InitialStep = cont.Tau
		p.FinalTime = cont.FinalTime
		p.InitialK = cont.Snapshot
		p.SnapshotCount = cont.TotalSnapshots
	}

	x := make([]float64, block.Size)
	switch {
	case p.ICondSkip:
		// leave x zeroed: the caller is responsible for the block's state.
	case p.ICondFile:
		if err := snapshot.Scatter(group, p.Geometry, block, x, store, p.VarNames); err != nil {
			return Summary{}, err
		}
	default:
		if err := EvaluateFormulae(block, x, p.VarNames, p.ICondExprs, p.Globals); err != nil {
			return Summary{}, err
		}
	}

	wrapped := wrapRHS(ctx, group, block, p.BoundaryPolicies, p.Threads, rhs)
	integrator := rk.New(rk.Config{
		Group:       group,
		HMin:        p.HMin,
		Delta:       p.Delta,
		DeltaMode:   p.DeltaMode,
		NaNRecovery: p.NaNRecovery,
		Threads:     p.Threads,
	}, chunks)

	t := p.T0
	h := p.InitialStep
	k := p.InitialK
	onDemand := 0 // counter since the last regular snapshot, per §8's on-demand naming property
	summary := Summary{}

	for k < p.SnapshotCount-1 {
		deadline := p.Deadline(k + 1)
		res := integrator.Integrate(ctx, t, deadline, h, x, rk.StaticRHS{RHS: wrapped}, deadline, callback)
		if res.Status == rk.Failed {
			if group.IsMaster() {
				slog.Warn("RunSnap", "status", "failed", "t", t, "deadline", deadline, "error", res.Err)
			}
			return summary, res.Err
		}
		t, h = res.T, res.H

		if err := snapshot.Gather(group, p.Geometry, block, x, store, p.VarNames); err != nil {
			return summary, err
		}

		if res.Status == rk.Interrupted {
			suffix := fmt.Sprintf(".%d.%03d", k, onDemand)
			onDemand++
			summary.Interrupted++
			summary.OnDemandSuffixes = append(summary.OnDemandSuffixes, suffix)
			if group.IsMaster() {
				if err := store.PutAttrText(dataset.RootAttributable, "out_file_suffix", suffix); err != nil {
					return summary, err
				}
				slog.Info("RunSnap", "status", "interrupted", "t", t, "h", h, "suffix", suffix)
			}
			continue
		}
		onDemand = 0
		k++
		summary.SnapshotsAt = append(summary.SnapshotsAt, k)
		if group.IsMaster() {
			slog.Info("RunSnap", "status", "emitted", "snapshot", k, "t", t, "h", h)
		}
	}

	summary.FinalT, summary.FinalH = t, h
	return summary, nil
}

// wrapRHS composes the user's right-hand side with the per-evaluation
// ghost exchange and boundary setup the core design requires (§4.3's
// "meta right-hand side" resolves to this composed function, not the bare
// user model): every evaluation first refreshes ghost cells from the
// current state, then calls through to rhs.
func wrapRHS(ctx context.Context, group *topology.Group, block grid.Block, policies []boundary.VariableBoundary, threads int64, rhs rk.RightHandSide) rk.RightHandSide {
	return func(t float64, x, dxdt []float64) error {
		boundary.Apply(ctx, block, x, t, policies, threads)
		ghost.Exchange(group, block, x)
		return rhs(t, x, dxdt)
	}
}
