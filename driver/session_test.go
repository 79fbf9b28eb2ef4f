package driver_test

import (
	"context"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rkmerson/boundary"
	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/driver"
	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/ivp"
	"github.com/sarchlab/rkmerson/rk"
	"github.com/sarchlab/rkmerson/topology"
)

func scalarGeometry() grid.Geometry {
	return grid.Geometry{L1: 1, L2: 1, L3: 1, N1: 1, N2: 1, N3Total: 1, BC: 1, Vars: 1}
}

var _ = Describe("RunOnce", func() {
	It("integrates a single-worker decay problem to the final snapshot", func() {
		geom := scalarGeometry()
		m := dataset.NewMemory(map[string]int{"n3": 1, "n2": 1, "n1": 1})
		_, err := m.DeclareVar("u", []string{"n3", "n2", "n1"})
		Expect(err).NotTo(HaveOccurred())

		world := topology.NewWorld(1, 0)
		params := driver.Params{
			Geometry:         geom,
			Procs:            1,
			T0:               0,
			FinalTime:        1,
			InitialStep:      0.1,
			HMin:             1e-8,
			InitialK:         0,
			SnapshotCount:    2,
			Delta:            1e-6,
			VarNames:         []string{"u"},
			ICondExprs:       []string{"1.0"},
			BoundaryPolicies: []boundary.VariableBoundary{{}},
		}

		summary, err := driver.RunOnce(context.Background(), world.Group(0), params, ivp.Decay, nil, m)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.FinalT).To(BeNumerically("~", 1.0, 1e-9))
		Expect(summary.SnapshotsAt).To(Equal([]int{1}))

		out, err := m.Snapshot("u")
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0]).To(BeNumerically("~", math.Exp(-1), 1e-6))
	})

	It("keeps a zero right-hand side's state unchanged across two workers exchanging ghosts", func() {
		geom := grid.Geometry{L1: 1, L2: 1, L3: 1, N1: 1, N2: 1, N3Total: 2, BC: 1, Vars: 1}
		m := dataset.NewMemory(map[string]int{"n3": 2, "n2": 1, "n1": 1})
		_, err := m.DeclareVar("u", []string{"n3", "n2", "n1"})
		Expect(err).NotTo(HaveOccurred())

		world := topology.NewWorld(2, 0)
		base := driver.Params{
			Geometry:         geom,
			Procs:            2,
			T0:               0,
			FinalTime:        0.5,
			InitialStep:      0.1,
			HMin:             1e-8,
			InitialK:         0,
			SnapshotCount:    2,
			Delta:            1e-3,
			VarNames:         []string{"u"},
			BoundaryPolicies: []boundary.VariableBoundary{{}},
		}

		p0 := base
		p0.ICondExprs = []string{"10.0"}
		p1 := base
		p1.ICondExprs = []string{"20.0"}

		results := make([]driver.Summary, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], errs[0] = driver.RunOnce(context.Background(), world.Group(0), p0, ivp.IdentityField, nil, m)
		}()
		go func() {
			defer wg.Done()
			results[1], errs[1] = driver.RunOnce(context.Background(), world.Group(1), p1, ivp.IdentityField, nil, m)
		}()
		wg.Wait()

		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errs[1]).NotTo(HaveOccurred())

		out, err := m.Snapshot("u")
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0]).To(BeNumerically("~", 10.0, 1e-9))
		Expect(out[1]).To(BeNumerically("~", 20.0, 1e-9))
	})

	It("emits an on-demand snapshot when the service callback requests interruption", func() {
		geom := scalarGeometry()
		m := dataset.NewMemory(map[string]int{"n3": 1, "n2": 1, "n1": 1})
		_, err := m.DeclareVar("u", []string{"n3", "n2", "n1"})
		Expect(err).NotTo(HaveOccurred())

		world := topology.NewWorld(1, 0)
		params := driver.Params{
			Geometry:         geom,
			Procs:            1,
			T0:               0,
			FinalTime:        1,
			InitialStep:      0.1,
			HMin:             1e-8,
			InitialK:         0,
			SnapshotCount:    2,
			Delta:            1e-6,
			VarNames:         []string{"u"},
			ICondExprs:       []string{"1.0"},
			BoundaryPolicies: []boundary.VariableBoundary{{}},
		}

		calls := 0
		cb := func(v rk.View) bool {
			calls++
			return calls == 2 // interrupt partway through the first deadline
		}

		summary, err := driver.RunOnce(context.Background(), world.Group(0), params, ivp.Decay, cb, m)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Interrupted).To(Equal(1))
		Expect(summary.SnapshotsAt).To(Equal([]int{1}))
	})

	It("names on-demand snapshots with a counter that resets after each regular snapshot", func() {
		geom := scalarGeometry()
		m := dataset.NewMemory(map[string]int{"n3": 1, "n2": 1, "n1": 1})
		_, err := m.DeclareVar("u", []string{"n3", "n2", "n1"})
		Expect(err).NotTo(HaveOccurred())

		world := topology.NewWorld(1, 0)
		params := driver.Params{
			Geometry:         geom,
			Procs:            1,
			T0:               0,
			FinalTime:        4,
			InitialStep:      0.5,
			HMin:             1e-8,
			InitialK:         0,
			SnapshotCount:    3,
			Delta:            1,
			VarNames:         []string{"u"},
			ICondExprs:       []string{"1.0"},
			BoundaryPolicies: []boundary.VariableBoundary{{}},
		}

		// A zero right-hand side makes every stage's error estimate exactly
		// zero, so every attempted step is accepted on the first try and
		// proposeNextH always doubles h — a fully deterministic step
		// sequence to hang callback-triggered interruptions on.
		zero := func(t float64, x, dxdt []float64) error {
			for i := range dxdt {
				dxdt[i] = 0
			}
			return nil
		}

		calls := 0
		cb := func(v rk.View) bool {
			calls++
			switch calls {
			case 1, 2, 4:
				return true
			default:
				return false
			}
		}

		summary, err := driver.RunOnce(context.Background(), world.Group(0), params, zero, cb, m)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Interrupted).To(Equal(3))
		Expect(summary.OnDemandSuffixes).To(Equal([]string{".0.000", ".0.001", ".1.000"}))
		Expect(summary.SnapshotsAt).To(Equal([]int{1, 2}))
		Expect(summary.FinalT).To(BeNumerically("~", 4.0, 1e-9))

		suffix, ok, err := m.GetAttrText(dataset.RootAttributable, "out_file_suffix")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(suffix).To(Equal(".1.000"))
	})

	It("loads the initial condition from the dataset and resumes a continued series", func() {
		geom := scalarGeometry()
		m := dataset.NewMemory(map[string]int{"n3": 1, "n2": 1, "n1": 1})
		h, err := m.DeclareVar("u", []string{"n3", "n2", "n1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.WriteVarSlab(h, []int{0, 0, 0}, []int{1, 1, 1}, []float64{2.5})).To(Succeed())

		Expect(m.PutAttrDouble(dataset.RootAttributable, "t", 2.5)).To(Succeed())
		Expect(m.PutAttrDouble(dataset.RootAttributable, "tau", 0.1)).To(Succeed())
		Expect(m.PutAttrDouble(dataset.RootAttributable, "final_time", 5.0)).To(Succeed())
		Expect(m.PutAttrInt(dataset.RootAttributable, "snapshot", 5)).To(Succeed())
		Expect(m.PutAttrInt(dataset.RootAttributable, "total_snapshots", 10)).To(Succeed())

		world := topology.NewWorld(1, 0)
		params := driver.Params{
			Geometry:         geom,
			Procs:            1,
			HMin:             1e-8,
			Delta:            1e-6,
			VarNames:         []string{"u"},
			BoundaryPolicies: []boundary.VariableBoundary{{}},
			ICondFile:        true,
			ContinueSeries:   true,
		}

		zero := func(t float64, x, dxdt []float64) error {
			for i := range dxdt {
				dxdt[i] = 0
			}
			return nil
		}

		summary, err := driver.RunOnce(context.Background(), world.Group(0), params, zero, nil, m)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.FinalT).To(BeNumerically("~", 5.0, 1e-9))
		Expect(summary.SnapshotsAt).To(Equal([]int{6, 7, 8, 9}))

		out, err := m.Snapshot("u")
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0]).To(BeNumerically("~", 2.5, 1e-9))
	})
})
