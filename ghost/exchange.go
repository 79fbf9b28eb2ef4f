// Package ghost implements the ghost-exchange component of the core
// design: at the start of every right-hand-side evaluation, a worker
// swaps its top and bottom boundary slabs with its immediate up/down
// neighbors along the third axis. No diagonal or corner exchanges occur,
// since blocks only split the grid along one axis.
package ghost

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/topology"
)

const (
	dirDown = 0 // a message carrying a worker's bottom interior slab, headed to its down neighbor
	dirUp   = 1 // a message carrying a worker's top interior slab, headed to its up neighbor
)

// tag derives a message tag from (direction, variable index), so that
// mixing up two variables' messages is structurally impossible: every
// variable gets its own reserved tag range per direction.
func tag(dir, v int) int { return dir*1_000_000 + v }

// Exchange performs one non-blocking exchange of boundary slabs with the
// immediate up/down neighbors (rank-1, rank+1), writing received data
// directly into x's ghost layers. Boundary setup for the sides not
// exchanged here (§4.5) must have already run. Exactly one goroutine per
// worker should call Exchange; it fans out its own internal goroutines for
// the sends/receives and joins them before returning, so by the time it
// returns every ghost layer reachable from a neighbor is up to date.
func Exchange(g *topology.Group, b grid.Block, x []float64) {
	rank := int(g.MyRank())
	n := g.RankCount()
	hasDown := rank > 0
	hasUp := rank < n-1

	var wg sync.WaitGroup

	if hasUp {
		up := topology.Rank(rank + 1)
		for v := 0; v < b.Vars; v++ {
			v := v
			wg.Add(2)
			go func() {
				defer wg.Done()
				slab := extractSlab(b, x, v, topInteriorStart(b))
				g.Send(up, tag(dirUp, v), encode(slab))
			}()
			go func() {
				defer wg.Done()
				data := g.ReceiveExpect(up, tag(dirDown, v))
				insertSlab(b, x, v, topGhostStart(b), decode(data))
			}()
		}
	}

	if hasDown {
		down := topology.Rank(rank - 1)
		for v := 0; v < b.Vars; v++ {
			v := v
			wg.Add(2)
			go func() {
				defer wg.Done()
				slab := extractSlab(b, x, v, bottomInteriorStart(b))
				g.Send(down, tag(dirDown, v), encode(slab))
			}()
			go func() {
				defer wg.Done()
				data := g.ReceiveExpect(down, tag(dirUp, v))
				insertSlab(b, x, v, bottomGhostStart(b), decode(data))
			}()
		}
	}

	wg.Wait()
}

func topInteriorStart(b grid.Block) int    { return b.FullN3 - 2*b.BC }
func topGhostStart(b grid.Block) int       { return b.FullN3 - b.BC }
func bottomInteriorStart(b grid.Block) int { return b.BC }
func bottomGhostStart(b grid.Block) int    { return 0 }

// extractSlab copies the bc consecutive k-planes of variable v starting at
// kStart into a flat buffer of length bc*N1*N2.
func extractSlab(b grid.Block, x []float64, v, kStart int) []float64 {
	plane := b.FullN1 * b.FullN2
	out := make([]float64, b.BC*plane)
	base := b.VarOffset(v) + kStart*plane
	copy(out, x[base:base+len(out)])
	return out
}

// insertSlab writes a received slab into variable v's bc consecutive
// k-planes starting at kStart.
func insertSlab(b grid.Block, x []float64, v, kStart int, slab []float64) {
	plane := b.FullN1 * b.FullN2
	base := b.VarOffset(v) + kStart*plane
	copy(x[base:base+len(slab)], slab)
}

func encode(vals []float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func decode(data []byte) []float64 {
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}
