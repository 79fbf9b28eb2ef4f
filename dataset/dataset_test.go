package dataset_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rkmerson/dataset"
)

var _ = Describe("Memory", func() {
	It("round-trips a slab write/read", func() {
		m := dataset.NewMemory(map[string]int{"x": 3, "y": 2})
		h, err := m.DeclareVar("temperature", []string{"x", "y"})
		Expect(err).NotTo(HaveOccurred())

		in := []float64{1, 2, 3, 4}
		Expect(m.WriteVarSlab(h, []int{1, 0}, []int{2, 2}, in)).To(Succeed())

		out := make([]float64, 4)
		Expect(m.ReadVarSlab(h, []int{1, 0}, []int{2, 2}, out)).To(Succeed())
		Expect(out).To(Equal(in))
	})

	It("stores and retrieves attributes on both variables and the root", func() {
		m := dataset.NewMemory(map[string]int{"x": 1})
		h, err := m.DeclareVar("v", []string{"x"})
		Expect(err).NotTo(HaveOccurred())

		Expect(m.PutAttrDouble(h, "scale", 2.5)).To(Succeed())
		Expect(m.PutAttrInt(dataset.RootAttributable, "step", 7)).To(Succeed())
		Expect(m.PutAttrText(dataset.RootAttributable, "label", "run1")).To(Succeed())

		scale, ok, err := m.GetAttrDouble(h, "scale")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(scale).To(Equal(2.5))

		step, ok, err := m.GetAttrInt(dataset.RootAttributable, "step")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(step).To(Equal(7))

		_, ok, err = m.GetAttrText(h, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("diffs two variables of the same shape", func() {
		m := dataset.NewMemory(map[string]int{"x": 2})
		ha, _ := m.DeclareVar("a", []string{"x"})
		hb, _ := m.DeclareVar("b", []string{"x"})
		Expect(m.WriteVarSlab(ha, []int{0}, []int{2}, []float64{1, 2})).To(Succeed())
		Expect(m.WriteVarSlab(hb, []int{0}, []int{2}, []float64{1, 2.1})).To(Succeed())

		diffs, err := m.Diff("a", "b", 1e-6)
		Expect(err).NotTo(HaveOccurred())
		Expect(diffs).To(Equal([]int{1}))
	})

	It("rejects declaring a variable after Close", func() {
		m := dataset.NewMemory(map[string]int{"x": 1})
		Expect(m.Close()).To(Succeed())
		_, err := m.DeclareVar("v", []string{"x"})
		Expect(err).To(HaveOccurred())
	})
})
