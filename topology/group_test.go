package topology_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rkmerson/topology"
)

// runOnEveryRank spawns one goroutine per rank, runs fn on each rank's
// Group, and waits for every goroutine to return.
func runOnEveryRank(w *topology.World, fn func(g *topology.Group)) {
	var wg sync.WaitGroup
	for r := 0; r < w.RankCount(); r++ {
		wg.Add(1)
		go func(real int) {
			defer wg.Done()
			fn(w.Group(real))
		}(r)
	}
	wg.Wait()
}

var _ = Describe("Group", func() {
	It("identifies the master by virtual rank regardless of remap", func() {
		w := topology.NewWorld(4, 2)

		var mu sync.Mutex
		masters := map[int]bool{}

		runOnEveryRank(w, func(g *topology.Group) {
			if g.IsMaster() {
				mu.Lock()
				masters[2] = true // real rank 2 was remapped to virtual 0
				mu.Unlock()
				Expect(g.MyRank()).To(Equal(topology.Rank(0)))
			}
		})

		Expect(masters).To(HaveKey(2))
	})

	It("broadcasts the root's value to every rank", func() {
		w := topology.NewWorld(5, 0)
		results := make([]int, 5)
		var wg sync.WaitGroup

		for r := 0; r < 5; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				v := 0
				if g.IsMaster() {
					v = 42
				}
				results[real] = topology.Broadcast(g, 0, v)
			}(r)
		}
		wg.Wait()

		for _, v := range results {
			Expect(v).To(Equal(42))
		}
	})

	It("reduces to the minimum and maximum across ranks", func() {
		w := topology.NewWorld(4, 0)
		mins := make([]float64, 4)
		maxs := make([]float64, 4)
		var wg sync.WaitGroup

		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				mins[real] = g.ReduceMin(float64(real) + 1)
				maxs[real] = g.ReduceMax(float64(real) + 1)
			}(r)
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			Expect(mins[i]).To(Equal(1.0))
			Expect(maxs[i]).To(Equal(4.0))
		}
	})

	It("reduces OR so any true flag propagates to every rank", func() {
		w := topology.NewWorld(3, 0)
		out := make([]bool, 3)
		var wg sync.WaitGroup

		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				out[real] = g.ReduceOr(real == 2)
			}(r)
		}
		wg.Wait()

		for _, v := range out {
			Expect(v).To(BeTrue())
		}
	})

	It("gathers every rank's contribution at the root in rank order", func() {
		w := topology.NewWorld(3, 0)
		var gathered [][]byte
		var wg sync.WaitGroup

		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				res := topology.Gather(g, 0, []byte{byte(real)})
				if g.IsMaster() {
					gathered = res
				}
			}(r)
		}
		wg.Wait()

		Expect(gathered).To(HaveLen(3))
		for i, b := range gathered {
			Expect(b).To(Equal([]byte{byte(i)}))
		}
	})

	It("scatters the root's per-rank data", func() {
		w := topology.NewWorld(3, 0)
		out := make([][]byte, 3)
		var wg sync.WaitGroup

		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				var data [][]byte
				if g.IsMaster() {
					data = [][]byte{{10}, {11}, {12}}
				}
				out[real] = topology.Scatter(g, 0, data)
			}(r)
		}
		wg.Wait()

		Expect(out[0]).To(Equal([]byte{10}))
		Expect(out[1]).To(Equal([]byte{11}))
		Expect(out[2]).To(Equal([]byte{12}))
	})

	It("delivers point-to-point messages only to the matching tag", func() {
		w := topology.NewWorld(2, 0)
		var wg sync.WaitGroup
		received := make(chan []byte, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			g := w.Group(0)
			g.Send(1, 7, []byte("tag7"))
			g.Send(1, 9, []byte("tag9"))
		}()
		go func() {
			defer wg.Done()
			g := w.Group(1)
			received <- g.ReceiveExpect(0, 9)
			received <- g.ReceiveExpect(0, 7)
		}()
		wg.Wait()
		close(received)

		var got [][]byte
		for b := range received {
			got = append(got, b)
		}
		Expect(got).To(ConsistOf([]byte("tag9"), []byte("tag7")))
	})

	It("reports the halt cause from whichever rank failed", func() {
		w := topology.NewWorld(3, 0)
		halts := make([]bool, 3)
		causes := make([]topology.ErrorReport, 3)
		var wg sync.WaitGroup

		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(real int) {
				defer wg.Done()
				g := w.Group(real)
				report := topology.ErrorReport{}
				if real == 2 {
					report = topology.ErrorReport{Code: 17, Message: "boom"}
				}
				halts[real], causes[real] = g.AllRanksErrorCheck(report)
			}(r)
		}
		wg.Wait()

		for i := 0; i < 3; i++ {
			Expect(halts[i]).To(BeTrue())
			Expect(causes[i].Rank).To(Equal(topology.Rank(2)))
			Expect(causes[i].Message).To(Equal("boom"))
		}
	})

	It("lets every rank finalize without deadlock", func() {
		w := topology.NewWorld(4, 0)
		runOnEveryRank(w, func(g *topology.Group) {
			g.FinalizeAndWait()
		})
	})
})
