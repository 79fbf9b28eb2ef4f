package grid

import (
	"fmt"
	"sort"
)

// Chunk is a contiguous slice of a worker's storage, treated as a unit by
// the RK-Merson integrator. It typically corresponds to one interior row
// of one variable.
type Chunk struct {
	Offset int
	Length int
	Weight float64
}

// ChunkList is the sparse addressing the integrator iterates over instead
// of the raw block storage.
type ChunkList []Chunk

// DefaultChunks builds the chunk list the core design calls the "default":
// one chunk per interior row per variable, with weight 1.0. Chunks are
// produced in ascending offset order, satisfying the core's ordering
// invariant by construction.
func DefaultChunks(b Block) ChunkList {
	var chunks ChunkList
	for v := 0; v < b.Vars; v++ {
		for k := b.BC; k < b.FullN3-b.BC; k++ {
			for j := b.BC; j < b.FullN2-b.BC; j++ {
				offset := b.Offset(v, b.BC, j, k)
				chunks = append(chunks, Chunk{
					Offset: offset,
					Length: b.FullN1 - 2*b.BC,
					Weight: 1.0,
				})
			}
		}
	}
	return chunks
}

// Validate checks the chunk-list invariants from §3: strictly ordered by
// offset, non-overlapping, wholly within [0, size), and exactly covering
// the interior cells of the block.
func (c ChunkList) Validate(b Block) error {
	if !sort.SliceIsSorted(c, func(i, j int) bool { return c[i].Offset < c[j].Offset }) {
		return fmt.Errorf("grid: chunk list is not ordered by offset")
	}

	covered := make(map[int]bool)
	prevEnd := -1
	for _, ch := range c {
		if ch.Length <= 0 {
			return fmt.Errorf("grid: chunk at offset %d has non-positive length %d", ch.Offset, ch.Length)
		}
		if ch.Offset < prevEnd {
			return fmt.Errorf("grid: chunk at offset %d overlaps previous chunk ending at %d", ch.Offset, prevEnd)
		}
		end := ch.Offset + ch.Length
		if ch.Offset < 0 || end > b.Size {
			return fmt.Errorf("grid: chunk [%d,%d) falls outside block of size %d", ch.Offset, end, b.Size)
		}
		for off := ch.Offset; off < end; off++ {
			covered[off] = true
		}
		prevEnd = end
	}

	for v := 0; v < b.Vars; v++ {
		for k := b.BC; k < b.FullN3-b.BC; k++ {
			for j := b.BC; j < b.FullN2-b.BC; j++ {
				for i := b.BC; i < b.FullN1-b.BC; i++ {
					off := b.Offset(v, i, j, k)
					if !covered[off] {
						return fmt.Errorf("grid: interior cell (v=%d,i=%d,j=%d,k=%d) at offset %d is not covered by any chunk", v, i, j, k, off)
					}
				}
			}
		}
	}
	for off := range covered {
		i, j, k, v := b.unflattenForCheck(off)
		if !b.IsInterior(i, j, k) {
			return fmt.Errorf("grid: chunk covers non-interior offset %d (v=%d,i=%d,j=%d,k=%d)", off, v, i, j, k)
		}
	}

	return nil
}

// unflattenForCheck inverts Offset for validation purposes only; it is not
// used on any hot path.
func (b Block) unflattenForCheck(off int) (i, j, k, v int) {
	v = off / b.VarStride
	rem := off % b.VarStride
	k = rem / (b.FullN1 * b.FullN2)
	rem -= k * b.FullN1 * b.FullN2
	j = rem / b.FullN1
	i = rem % b.FullN1
	return
}

// TotalLength returns the sum of every chunk's length, i.e. the number of
// interior cells (across all variables) the integrator will touch.
func (c ChunkList) TotalLength() int {
	total := 0
	for _, ch := range c {
		total += ch.Length
	}
	return total
}
