// Package grid implements the state-layout component of the core design:
// it divides a three-dimensional inner grid into per-worker blocks with
// ghost layers, defines flat addressing over the resulting storage, and
// produces the default chunk list the RK-Merson integrator treats the
// storage as.
package grid

import "fmt"

// Geometry describes the whole inner grid before it is split across
// workers.
type Geometry struct {
	// L1, L2, L3 are the physical domain extents.
	L1, L2, L3 float64
	// N1, N2, N3Total are the inner-grid cell counts along each axis.
	N1, N2, N3Total int
	// BC is the ghost-layer thickness, shared by every face.
	BC int
	// Vars is the number of scalar variables stored per cell.
	Vars int
}

// Validate checks the invariants §3 requires of a geometry on its own,
// independent of how many workers it will be split across.
func (g Geometry) Validate() error {
	if g.N1 <= 0 || g.N2 <= 0 || g.N3Total <= 0 {
		return fmt.Errorf("grid: extents must be positive, got (%d,%d,%d)", g.N1, g.N2, g.N3Total)
	}
	if g.BC < 1 {
		return fmt.Errorf("grid: bc must be >= 1, got %d", g.BC)
	}
	if g.Vars <= 0 {
		return fmt.Errorf("grid: vars must be positive, got %d", g.Vars)
	}
	if g.L1 <= 0 || g.L2 <= 0 || g.L3 <= 0 {
		return fmt.Errorf("grid: domain lengths must be positive, got (%g,%g,%g)", g.L1, g.L2, g.L3)
	}
	return nil
}

// CellCenter returns the physical coordinate of the center of inner-grid
// cell (i1, i2, i3) along axis d, using the spec's L_d*(0.5+i_d)/n_d rule.
func (g Geometry) CellCenter1(i1 int) float64 { return g.L1 * (0.5 + float64(i1)) / float64(g.N1) }
func (g Geometry) CellCenter2(i2 int) float64 { return g.L2 * (0.5 + float64(i2)) / float64(g.N2) }
func (g Geometry) CellCenter3(i3 int) float64 {
	return g.L3 * (0.5 + float64(i3)) / float64(g.N3Total)
}

// Block is one worker's share of the grid: its depth along the third axis,
// its offset within the global grid, and the full (ghosted) extents of its
// storage.
type Block struct {
	Geometry
	Rank      int
	Procs     int
	N3        int // this worker's interior depth along axis 3
	FirstRow  int // offset of this worker's first interior row in the global grid
	FullN1    int // N1 + 2*bc
	FullN2    int // N2 + 2*bc
	FullN3    int // N3 + 2*bc
	VarStride int // FullN1*FullN2*FullN3: elements per variable
	Size      int // Vars*VarStride: total elements in this worker's block
}

// BlockDepth returns n3(r), the interior depth assigned to rank r out of
// procs workers dividing n3Total rows, per the spec's formula.
func BlockDepth(n3Total, procs, rank int) int {
	base := n3Total / procs
	if rank < n3Total%procs {
		return base + 1
	}
	return base
}

// BlockFirstRow returns the offset of rank r's first interior row.
func BlockFirstRow(n3Total, procs, rank int) int {
	row := 0
	for r := 0; r < rank; r++ {
		row += BlockDepth(n3Total, procs, r)
	}
	return row
}

// NewBlock computes the full layout for one worker. It returns an error if
// any invariant in §3 is violated, including the "smallest block is at
// least bc deep" requirement.
func NewBlock(g Geometry, procs, rank int) (Block, error) {
	if err := g.Validate(); err != nil {
		return Block{}, err
	}
	if procs <= 0 || rank < 0 || rank >= procs {
		return Block{}, fmt.Errorf("grid: rank %d out of range for %d procs", rank, procs)
	}

	n3 := BlockDepth(g.N3Total, procs, rank)
	for r := 0; r < procs; r++ {
		if d := BlockDepth(g.N3Total, procs, r); d < g.BC {
			return Block{}, fmt.Errorf("grid: block for rank %d has depth %d, smaller than bc=%d", r, d, g.BC)
		}
	}

	fullN1 := g.N1 + 2*g.BC
	fullN2 := g.N2 + 2*g.BC
	fullN3 := n3 + 2*g.BC
	stride := fullN1 * fullN2 * fullN3

	return Block{
		Geometry:  g,
		Rank:      rank,
		Procs:     procs,
		N3:        n3,
		FirstRow:  BlockFirstRow(g.N3Total, procs, rank),
		FullN1:    fullN1,
		FullN2:    fullN2,
		FullN3:    fullN3,
		VarStride: stride,
		Size:      g.Vars * stride,
	}, nil
}

// Offset returns the flat index of cell (i, j, k) of variable v in
// block-local ghosted coordinates: 0 <= i < FullN1, etc.
func (b Block) Offset(v, i, j, k int) int {
	return v*b.VarStride + k*b.FullN1*b.FullN2 + j*b.FullN1 + i
}

// IsInterior reports whether block-local coordinate (i, j, k) is an
// interior (non-ghost) cell.
func (b Block) IsInterior(i, j, k int) bool {
	return i >= b.BC && i < b.FullN1-b.BC &&
		j >= b.BC && j < b.FullN2-b.BC &&
		k >= b.BC && k < b.FullN3-b.BC
}

// VarOffset returns the base flat offset of variable v's array within the
// block.
func (b Block) VarOffset(v int) int { return v * b.VarStride }
