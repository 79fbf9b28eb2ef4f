package main

import (
	"context"
	"fmt"

	"github.com/sarchlab/rkmerson/boundary"
	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/driver"
	"github.com/sarchlab/rkmerson/ivp"
	"github.com/sarchlab/rkmerson/logbuf"
	"github.com/sarchlab/rkmerson/topology"
)

// runDemo runs ivp.Decay end to end, single worker, against a scenario
// loaded from YAML. It exists so the engine can be exercised without
// authoring a full parameter file.
func runDemo(path string) (int, error) {
	scenario, err := loadScenario(path)
	if err != nil {
		return exitRuntime, err
	}

	geom := scenario.geometry()
	if err := geom.Validate(); err != nil {
		return exitTopologyInit, fmt.Errorf("rkmerson: invalid demo geometry: %w", err)
	}

	store := dataset.NewMemory(map[string]int{"n3": geom.N3Total, "n2": geom.N2, "n1": geom.N1})
	if _, err := store.DeclareVar("u", []string{"n3", "n2", "n1"}); err != nil {
		return exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}

	world := topology.NewWorld(1, 0)
	log := logbuf.New()
	params := driver.Params{
		Geometry:         geom,
		Procs:            1,
		T0:               0,
		FinalTime:        scenario.FinalTime,
		InitialStep:      scenario.InitialStep,
		HMin:             1e-10,
		SnapshotCount:    scenario.SnapshotCount,
		Delta:            scenario.Delta,
		VarNames:         []string{"u"},
		ICondExprs:       []string{fmt.Sprintf("%g", scenario.InitialValue)},
		BoundaryPolicies: []boundary.VariableBoundary{{}},
	}

	summary, err := driver.RunOnce(context.Background(), world.Group(0), params, ivp.Decay, nil, store)
	if err != nil {
		return exitRuntime, fmt.Errorf("rkmerson: demo run failed: %w", err)
	}

	log.Append("demo %q finished at t=%g h=%g snapshots=%v", scenario.Name, summary.FinalT, summary.FinalH, summary.SnapshotsAt)
	fmt.Println(log.Summary())

	out, err := store.Snapshot("u")
	if err != nil {
		return exitRuntime, fmt.Errorf("rkmerson: %w", err)
	}
	fmt.Printf("u = %v\n", out)
	return exitOK, nil
}
