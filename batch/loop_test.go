package batch_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rkmerson/batch"
)

var _ = Describe("Loop", func() {
	It("rejects more than the maximum number of counters", func() {
		counters := make([]batch.Counter, batch.MaxCounters+1)
		for i := range counters {
			counters[i] = batch.Counter{Name: "c", Upper: 1}
		}
		_, err := batch.NewLoop(counters)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a label array of the wrong length", func() {
		_, err := batch.NewLoop([]batch.Counter{{Name: "c", Upper: 3, Labels: []string{"a", "b"}}})
		Expect(err).To(HaveOccurred())
	})

	It("enumerates the full Cartesian product in nested order", func() {
		loop, err := batch.NewLoop([]batch.Counter{
			{Name: "i1", Upper: 2},
			{Name: "i2", Upper: 3, Labels: []string{"lo", "mid", "hi"}},
		})
		Expect(err).NotTo(HaveOccurred())

		var suffixes []string
		Expect(loop.Run(func(t batch.Tuple) (batch.Outcome, error) {
			suffixes = append(suffixes, t.Suffix())
			return batch.Outcome{}, nil
		})).To(Succeed())

		Expect(suffixes).To(Equal([]string{
			"0_lo", "0_mid", "0_hi",
			"1_lo", "1_mid", "1_hi",
		}))
	})

	It("skips the solver but keeps iterating when an iteration is marked skipped", func() {
		loop, err := batch.NewLoop([]batch.Counter{{Name: "i1", Upper: 3}})
		Expect(err).NotTo(HaveOccurred())

		var ran []int
		Expect(loop.Run(func(t batch.Tuple) (batch.Outcome, error) {
			if t.Indices[0] == 1 {
				return batch.Outcome{Skipped: true}, nil
			}
			ran = append(ran, t.Indices[0])
			return batch.Outcome{}, nil
		})).To(Succeed())

		Expect(ran).To(Equal([]int{0, 2}))
	})

	It("stops the whole loop on break", func() {
		loop, err := batch.NewLoop([]batch.Counter{{Name: "i1", Upper: 5}})
		Expect(err).NotTo(HaveOccurred())

		var seen []int
		Expect(loop.Run(func(t batch.Tuple) (batch.Outcome, error) {
			seen = append(seen, t.Indices[0])
			return batch.Outcome{Break: t.Indices[0] == 1}, nil
		})).To(Succeed())

		Expect(seen).To(Equal([]int{0, 1}))
	})
})

var _ = Describe("Postprocessor", func() {
	It("runs the script in Wait mode and propagates a nonzero exit", func() {
		script := filepath.Join(GinkgoT().TempDir(), "fail.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755)).To(Succeed())

		p := batch.NewPostprocessor(script, false)
		err := p.Run(batch.Wait, "suffix0")
		Expect(err).To(HaveOccurred())
	})

	It("suppresses a nonzero exit in Wait mode when NoFail is set", func() {
		script := filepath.Join(GinkgoT().TempDir(), "fail.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755)).To(Succeed())

		p := batch.NewPostprocessor(script, true)
		Expect(p.Run(batch.Wait, "suffix0")).To(Succeed())
	})

	It("reaps concurrent children and surfaces their failures", func() {
		script := filepath.Join(GinkgoT().TempDir(), "fail.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0o755)).To(Succeed())

		p := batch.NewPostprocessor(script, false)
		Expect(p.Run(batch.Concurrent, "suffix0")).To(Succeed())
		Expect(p.Reap()).To(HaveOccurred())
	})

	It("is a no-op with an empty script", func() {
		p := batch.NewPostprocessor("", false)
		Expect(p.Run(batch.Wait, "suffix0")).To(Succeed())
		Expect(p.Reap()).To(Succeed())
	})

	It("lets the next iteration start immediately in Concurrent mode, even while the script sleeps", func() {
		script := filepath.Join(GinkgoT().TempDir(), "slow.sh")
		Expect(os.WriteFile(script, []byte("#!/bin/sh\nsleep 2\n"), 0o755)).To(Succeed())

		p := batch.NewPostprocessor(script, false)

		start := time.Now()
		Expect(p.Run(batch.Concurrent, "suffix0")).To(Succeed())
		Expect(p.Run(batch.Concurrent, "suffix1")).To(Succeed())
		elapsed := time.Since(start)

		Expect(elapsed).To(BeNumerically("<", 100*time.Millisecond))
		Expect(p.Reap()).To(Succeed())
	})
})
