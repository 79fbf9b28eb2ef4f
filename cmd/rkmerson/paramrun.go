package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/rkmerson/batch"
	"github.com/sarchlab/rkmerson/boundary"
	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/driver"
	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/ivp"
	"github.com/sarchlab/rkmerson/logbuf"
	"github.com/sarchlab/rkmerson/paramfile"
	"github.com/sarchlab/rkmerson/rk"
	"github.com/sarchlab/rkmerson/topology"
	"github.com/sarchlab/rkmerson/trigger"
)

// runConfig is what one PARSE pass of a parameter file produces: the flat
// record DISTRIBUTE would otherwise broadcast to every worker.
type runConfig struct {
	geometry                                driverGeometry
	procs                                    int
	t0, finalTime, initialStep, hMin, delta float64
	deltaMode                                rk.DeltaMode
	nanRecovery                              bool
	threads                                  int64
	snapshotCount                            int
	model                                    string
	varNames, icondExprs                     []string
	globals                                  map[string]float64
	logfile, triggerFile, postScript         string
	postNoFail, postConcurrent               bool
	continueIf                               bool
	breakLoop                                bool
	title                                    string
	icondFile                                string
	skipICond, continueSeries                bool
}

type driverGeometry struct {
	l1, l2, l3          float64
	n1, n2, n3Total, bc int
}

// parseParamFile runs one PARSE pass over path with loopVars already bound
// into the source's variable table (batch iterations rebind these before
// parsing), collecting every scalar and command this CLI understands.
func parseParamFile(path string, loopVars map[string]float64) (runConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return runConfig{}, fmt.Errorf("rkmerson: %w", err)
	}
	defer f.Close()

	cfg := runConfig{
		geometry: driverGeometry{bc: 1},
		procs:    1,
		globals:  map[string]float64{},
	}
	icondFormulas := map[string]string{}
	var icondOrder []string

	src := paramfile.NewSource()
	for name, v := range loopVars {
		src.SetVar(name, v)
	}

	src.RegisterCommand("icond", func(c paramfile.Command) error {
		v, ok := c.Get("var")
		if !ok {
			return fmt.Errorf("icond: missing var=")
		}
		expr, ok := c.Get("expr")
		if !ok {
			return fmt.Errorf("icond: missing expr=")
		}
		if _, seen := icondFormulas[v]; !seen {
			icondOrder = append(icondOrder, v)
		}
		icondFormulas[v] = expr
		return nil
	})
	src.RegisterCommand("set", func(c paramfile.Command) error {
		if v, ok := c.Get("logfile"); ok {
			cfg.logfile = v
		}
		if v, ok := c.Get("trigger_file"); ok {
			cfg.triggerFile = v
		}
		if v, ok := c.Get("postprocess"); ok {
			cfg.postScript = v
		}
		if v, ok := c.Get("model"); ok {
			cfg.model = v
		}
		if v, ok := c.Get("comment"); ok {
			cfg.title = v
		}
		if v, ok := c.Get("icond_file"); ok {
			cfg.icondFile = v
		}
		for _, tok := range c.Tokens {
			switch tok {
			case "postprocess_nofail":
				cfg.postNoFail = true
			case "postprocess_nowait":
				cfg.postConcurrent = true
			case "skip_icond":
				cfg.skipICond = true
			case "continue_series":
				cfg.continueSeries = true
			}
		}
		return nil
	})
	src.RegisterCommand("continue_if", func(c paramfile.Command) error {
		expr, ok := c.Get("expr")
		if !ok {
			return fmt.Errorf("continue_if: missing expr=")
		}
		v, err := paramfile.Eval(expr, src.Var)
		if err != nil {
			return fmt.Errorf("continue_if: %w", err)
		}
		if v != 0 {
			cfg.continueIf = true
		}
		return nil
	})
	src.RegisterCommand("break", func(paramfile.Command) error {
		cfg.breakLoop = true
		return nil
	})

	if err := src.Parse(f); err != nil {
		return runConfig{}, fmt.Errorf("rkmerson: %w", err)
	}

	vars := src.Vars()
	cfg.globals = vars
	geometryFrom(&cfg, vars)
	cfg.procs = intVar(vars, "procs", 1)
	cfg.t0 = vars["t0"]
	cfg.finalTime = vars["final_time"]
	cfg.initialStep = vars["initial_step"]
	cfg.hMin = valueOr(vars, "h_min", 1e-10)
	cfg.delta = vars["delta"]
	cfg.snapshotCount = intVar(vars, "snapshot_count", 2)
	cfg.nanRecovery = valueOr(vars, "nan_recovery", 0) != 0
	cfg.threads = int64(intVar(vars, "threads", 0))
	if valueOr(vars, "delta_mode_global", 0) != 0 {
		cfg.deltaMode = rk.Global
	}

	cfg.varNames = icondOrder
	for _, name := range icondOrder {
		cfg.icondExprs = append(cfg.icondExprs, icondFormulas[name])
	}

	return cfg, nil
}

// rhsFor resolves the "model" set= option to one of the ivp package's
// built-in reference right-hand sides. The engine links physics models in
// at build time (per the core design's resolve_rhs indirection), so the
// parameter file can only select among the ones this binary was built
// with rather than supply an arbitrary one.
func rhsFor(name string) rk.RightHandSide {
	switch name {
	case "oscillator":
		return ivp.Oscillator
	case "singular":
		return ivp.Singular
	case "identity":
		return ivp.IdentityField
	default:
		return ivp.Decay
	}
}

func geometryFrom(cfg *runConfig, vars map[string]float64) {
	cfg.geometry.l1 = valueOr(vars, "l1", 1)
	cfg.geometry.l2 = valueOr(vars, "l2", 1)
	cfg.geometry.l3 = valueOr(vars, "l3", 1)
	cfg.geometry.n1 = intVar(vars, "n1", 1)
	cfg.geometry.n2 = intVar(vars, "n2", 1)
	cfg.geometry.n3Total = intVar(vars, "n3_total", 1)
	cfg.geometry.bc = intVar(vars, "bc", 1)
}

func intVar(vars map[string]float64, name string, def int) int {
	if v, ok := vars[name]; ok {
		return int(v)
	}
	return def
}

func valueOr(vars map[string]float64, name string, def float64) float64 {
	if v, ok := vars[name]; ok {
		return v
	}
	return def
}

// runParamFile is the PARSE/VALIDATE/DISTRIBUTE/ICOND/RUN_SNAP/EMIT/
// POSTPROC/BATCH_NEXT state machine's CLI entry point, covering both the
// single-run and --batch cases.
func runParamFile(path string, masterRank int, batchSpec string) (int, error) {
	if batchSpec == "" {
		return runIteration(path, masterRank, nil, "")
	}

	bounds := strings.Split(batchSpec, ",")
	counters := make([]batch.Counter, len(bounds))
	for i, b := range bounds {
		n, err := strconv.Atoi(strings.TrimSpace(b))
		if err != nil {
			return exitRuntime, fmt.Errorf("rkmerson: invalid --batch bound %q: %w", b, err)
		}
		counters[i] = batch.Counter{Name: fmt.Sprintf("i%d", i+1), Upper: n}
	}
	loop, err := batch.NewLoop(counters)
	if err != nil {
		return exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}

	finalCode := exitOK
	runErr := loop.Run(func(t batch.Tuple) (batch.Outcome, error) {
		loopVars := loopVarsFor(counters, t)
		peek, err := parseParamFile(path, loopVars)
		if err != nil {
			return batch.Outcome{}, err
		}
		if peek.breakLoop {
			return batch.Outcome{Break: true}, nil
		}
		if peek.continueIf {
			return batch.Outcome{Skipped: true}, nil
		}

		code, err := runIteration(path, masterRank, loopVars, t.Suffix())
		finalCode = code
		if err != nil {
			return batch.Outcome{}, err
		}
		return batch.Outcome{}, nil
	})
	if runErr != nil {
		if finalCode == exitOK {
			finalCode = exitRuntime
		}
		return finalCode, runErr
	}
	return exitOK, nil
}

// loopVarsFor binds each counter's name to the 1-based value the parameter
// file's continue_if/icond expressions expect: batch.Tuple.Indices runs
// 0..Upper-1, but §8's batch-enumeration property and the grammar's
// i1/i2/… counters are 1-based.
func loopVarsFor(counters []batch.Counter, t batch.Tuple) map[string]float64 {
	loopVars := make(map[string]float64, len(counters))
	for i, c := range counters {
		loopVars[c.Name] = float64(t.Indices[i] + 1)
	}
	return loopVars
}

// runIteration executes exactly one PARSE-through-POSTPROC pass: the body
// of both the unbatched single run and each batch tuple.
func runIteration(path string, masterRank int, loopVars map[string]float64, suffix string) (int, error) {
	cfg, err := parseParamFile(path, loopVars)
	if err != nil {
		return exitRuntime, err
	}

	_, _, code, err := executeOnce(cfg, masterRank, suffix)
	return code, err
}

// executeOnce runs DISTRIBUTE through POSTPROC for an already-parsed
// config, one goroutine per rank. It returns the dataset the run wrote to
// so tests can inspect results without re-running the solver, alongside
// every worker's Summary.
func executeOnce(cfg runConfig, masterRank int, suffix string) (dataset.Store, []driver.Summary, int, error) {
	geom := driverGeometryToGrid(cfg.geometry, len(cfg.varNames))
	if err := geom.Validate(); err != nil {
		return nil, nil, exitTopologyInit, fmt.Errorf("rkmerson: %w", err)
	}
	if cfg.procs <= 0 {
		return nil, nil, exitTopologyInit, fmt.Errorf("rkmerson: procs must be positive, got %d", cfg.procs)
	}

	store := dataset.NewMemory(map[string]int{"n3": geom.N3Total, "n2": geom.N2, "n1": geom.N1})
	for _, name := range cfg.varNames {
		if _, err := store.DeclareVar(name, []string{"n3", "n2", "n1"}); err != nil {
			return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
		}
	}
	for _, name := range []string{"n1", "n2", "n3"} {
		if _, err := store.DeclareVar(name, []string{name}); err != nil {
			return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
		}
	}
	if err := writeCoordinates(store, geom); err != nil {
		return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}
	if err := writeRunAttrs(store, cfg, geom); err != nil {
		return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}

	world := topology.NewWorld(cfg.procs, masterRank)
	log := logbuf.New()
	policies := make([]boundary.VariableBoundary, len(cfg.varNames))

	params := driver.Params{
		Geometry:         geom,
		Procs:            cfg.procs,
		T0:               cfg.t0,
		FinalTime:        cfg.finalTime,
		InitialStep:      cfg.initialStep,
		HMin:             cfg.hMin,
		SnapshotCount:    cfg.snapshotCount,
		Delta:            cfg.delta,
		DeltaMode:        cfg.deltaMode,
		NaNRecovery:      cfg.nanRecovery,
		Threads:          cfg.threads,
		VarNames:         cfg.varNames,
		ICondExprs:       cfg.icondExprs,
		Globals:          cfg.globals,
		BoundaryPolicies: policies,
		ICondFile:        cfg.icondFile != "" || cfg.continueSeries,
		ICondSkip:        cfg.skipICond,
		ContinueSeries:   cfg.continueSeries,
	}

	var mu sync.Mutex
	summaries := make([]driver.Summary, cfg.procs)
	g, ctx := errgroup.WithContext(context.Background())
	for r := 0; r < cfg.procs; r++ {
		real := r
		g.Go(func() error {
			var cb rk.ServiceCallback
			if real == masterRank {
				estimator := trigger.NewWallClockEstimator(cfg.t0, nil)
				poller := trigger.Poller{Path: cfg.triggerFile}
				cb = trigger.NewCallback(log, poller, estimator, cfg.finalTime)
			}
			s, err := driver.RunOnce(ctx, world.Group(real), params, rhsFor(cfg.model), cb, store)
			if err != nil {
				return err
			}
			mu.Lock()
			summaries[real] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var halt *topology.Halt
		if errors.As(err, &halt) {
			return nil, nil, halt.ExitCode, err
		}
		return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}

	if err := writeContinuationAttrs(store, cfg, summaries[masterRank]); err != nil {
		return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}

	if cfg.logfile != "" {
		if err := log.Commit(cfg.logfile, true); err != nil {
			return nil, nil, exitRuntime, fmt.Errorf("rkmerson: %w", err)
		}
	}

	if cfg.postScript != "" {
		mode := batch.Wait
		if cfg.postConcurrent {
			mode = batch.Concurrent
		}
		pp := batch.NewPostprocessor(cfg.postScript, cfg.postNoFail)
		if err := pp.Run(mode, suffix); err != nil {
			return nil, nil, exitRuntime, fmt.Errorf("rkmerson: postprocess: %w", err)
		}
	}

	return store, summaries, exitOK, nil
}

// writeCoordinates fills the reserved n1, n2, n3 coordinate vectors (§6)
// with each axis's cell-center coordinates, once per run.
func writeCoordinates(store dataset.Store, geom grid.Geometry) error {
	axes := []struct {
		name   string
		n      int
		center func(int) float64
	}{
		{"n1", geom.N1, geom.CellCenter1},
		{"n2", geom.N2, geom.CellCenter2},
		{"n3", geom.N3Total, geom.CellCenter3},
	}
	for _, axis := range axes {
		h, err := store.LookupVar(axis.name)
		if err != nil {
			return err
		}
		buf := make([]float64, axis.n)
		for i := range buf {
			buf[i] = axis.center(i)
		}
		if err := store.WriteVarSlab(h, []int{0}, []int{axis.n}, buf); err != nil {
			return err
		}
	}
	return nil
}

// writeRunAttrs writes the reserved dataset-level attributes (§6) that are
// fixed for the life of the run: the domain extents, every model parameter
// from the parameter file's scalar table, the tolerance mode, and the
// optional title.
func writeRunAttrs(store dataset.Store, cfg runConfig, geom grid.Geometry) error {
	if err := store.PutAttrDouble(dataset.RootAttributable, "L1", geom.L1); err != nil {
		return err
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "L2", geom.L2); err != nil {
		return err
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "L3", geom.L3); err != nil {
		return err
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "delta", cfg.delta); err != nil {
		return err
	}
	calcMode := "local"
	if cfg.deltaMode == rk.Global {
		calcMode = "global"
	}
	if err := store.PutAttrText(dataset.RootAttributable, "calc_mode", calcMode); err != nil {
		return err
	}
	if cfg.title != "" {
		if err := store.PutAttrText(dataset.RootAttributable, "title", cfg.title); err != nil {
			return err
		}
	}
	for name, v := range cfg.globals {
		if err := store.PutAttrDouble(dataset.RootAttributable, name, v); err != nil {
			return err
		}
	}
	return nil
}

// writeContinuationAttrs writes the reserved attributes (§6) a later run's
// continue_series option reads back (§4.6, §8's series-continuation
// property): the snapshot index and simulation time the run finished at,
// the step size it finished with, the total snapshot count, and the final
// time. master is the master rank's Summary.
func writeContinuationAttrs(store dataset.Store, cfg runConfig, master driver.Summary) error {
	snapshotIdx := 0
	if n := len(master.SnapshotsAt); n > 0 {
		snapshotIdx = master.SnapshotsAt[n-1]
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "t", master.FinalT); err != nil {
		return err
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "tau", master.FinalH); err != nil {
		return err
	}
	if err := store.PutAttrDouble(dataset.RootAttributable, "final_time", cfg.finalTime); err != nil {
		return err
	}
	if err := store.PutAttrInt(dataset.RootAttributable, "snapshot", snapshotIdx); err != nil {
		return err
	}
	if err := store.PutAttrInt(dataset.RootAttributable, "total_snapshots", cfg.snapshotCount); err != nil {
		return err
	}
	return nil
}

func driverGeometryToGrid(g driverGeometry, vars int) grid.Geometry {
	return grid.Geometry{L1: g.l1, L2: g.l2, L3: g.l3, N1: g.n1, N2: g.n2, N3Total: g.n3Total, BC: g.bc, Vars: vars}
}
