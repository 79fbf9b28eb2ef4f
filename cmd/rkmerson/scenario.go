package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/rkmerson/grid"
)

// demoScenario is the ambient, non-spec demo fixture format: just enough
// to run ivp.Decay end to end from a YAML file without a parameter-file
// parser in the loop.
type demoScenario struct {
	Name          string  `yaml:"name"`
	L1            float64 `yaml:"l1"`
	L2            float64 `yaml:"l2"`
	L3            float64 `yaml:"l3"`
	N1            int     `yaml:"n1"`
	N2            int     `yaml:"n2"`
	N3Total       int     `yaml:"n3_total"`
	BC            int     `yaml:"bc"`
	FinalTime     float64 `yaml:"final_time"`
	InitialStep   float64 `yaml:"initial_step"`
	SnapshotCount int     `yaml:"snapshot_count"`
	InitialValue  float64 `yaml:"initial_value"`
	Delta         float64 `yaml:"delta"`
}

func loadScenario(path string) (demoScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return demoScenario{}, fmt.Errorf("rkmerson: reading scenario %s: %w", path, err)
	}
	var s demoScenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return demoScenario{}, fmt.Errorf("rkmerson: parsing scenario %s: %w", path, err)
	}
	if s.BC == 0 {
		s.BC = 1
	}
	if s.SnapshotCount == 0 {
		s.SnapshotCount = 2
	}
	return s, nil
}

func (s demoScenario) geometry() grid.Geometry {
	return grid.Geometry{L1: s.L1, L2: s.L2, L3: s.L3, N1: s.N1, N2: s.N2, N3Total: s.N3Total, BC: s.BC, Vars: 1}
}
