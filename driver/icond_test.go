package driver_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rkmerson/driver"
	"github.com/sarchlab/rkmerson/grid"
)

func smallBlock(vars int) grid.Block {
	geom := grid.Geometry{L1: 2, L2: 2, L3: 1, N1: 2, N2: 2, N3Total: 1, BC: 1, Vars: vars}
	b, err := grid.NewBlock(geom, 1, 0)
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("EvaluateFormulae", func() {
	It("evaluates each variable at every interior cell from coordinates and globals", func() {
		b := smallBlock(1)
		x := make([]float64, b.Size)
		err := driver.EvaluateFormulae(b, x, []string{"u"}, []string{"x1 + x2 + scale"}, map[string]float64{"scale": 10})
		Expect(err).NotTo(HaveOccurred())

		k := b.BC
		Expect(x[b.Offset(0, b.BC, b.BC, k)]).To(BeNumerically("~", b.CellCenter1(0)+b.CellCenter2(0)+10, 1e-12))
	})

	It("resolves a variable that references another variable's value at the same cell", func() {
		b := smallBlock(2)
		x := make([]float64, b.Size)
		err := driver.EvaluateFormulae(b, x, []string{"u", "v"}, []string{"x1", "u * 2"}, nil)
		Expect(err).NotTo(HaveOccurred())

		k := b.BC
		uVal := x[b.Offset(0, b.BC, b.BC, k)]
		vVal := x[b.Offset(1, b.BC, b.BC, k)]
		Expect(vVal).To(BeNumerically("~", uVal*2, 1e-12))
	})

	It("reports a cyclic reference as an error", func() {
		b := smallBlock(2)
		x := make([]float64, b.Size)
		err := driver.EvaluateFormulae(b, x, []string{"u", "v"}, []string{"v + 1", "u + 1"}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a name/formula count mismatch", func() {
		b := smallBlock(1)
		x := make([]float64, b.Size)
		err := driver.EvaluateFormulae(b, x, []string{"u", "v"}, []string{"1"}, nil)
		Expect(err).To(HaveOccurred())
	})
})
