// Package snapshot implements the gather/scatter component of the core
// design (§4.7): moving state between per-worker block storage and the
// dataset the driver persists to. Scatter loads initial conditions (or a
// continued series) from the dataset out to every worker; Gather collects
// every worker's interior slab back to the master, which alone touches the
// dataset handle.
package snapshot

import (
	"encoding/binary"
	"math"

	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/topology"
)

// Gather collects every worker's slab to the master and writes it into
// store at (first_row, 0, 0) per variable, skipping ghost cells
// (GatherFullBlocks is the debug variant that keeps them).
func Gather(g *topology.Group, geom grid.Geometry, b grid.Block, x []float64, store dataset.Store, vars []string) error {
	local := extractInterior(b, x)
	gathered := topology.Gather(g, 0, encode(local))
	if !g.IsMaster() {
		return nil
	}

	handles, err := lookupAll(store, vars)
	if err != nil {
		return err
	}

	procs := g.RankCount()
	for rank := 0; rank < procs; rank++ {
		data := decode(gathered[rank])
		depth := grid.BlockDepth(geom.N3Total, procs, rank)
		firstRow := grid.BlockFirstRow(geom.N3Total, procs, rank)
		varLen := depth * geom.N2 * geom.N1
		for vi, h := range handles {
			buf := data[vi*varLen : (vi+1)*varLen]
			if err := store.WriteVarSlab(h, []int{firstRow, 0, 0}, []int{depth, geom.N2, geom.N1}, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// GatherFullBlocks is the fullGrid troubleshooting variant of Gather: it
// writes every worker's entire block, ghosts included, contiguously into a
// single flat debugVar (which the caller must have declared with one
// dimension of length equal to the sum of every block's Size), in rank
// order. It makes no claim that one block's ghost rows coincide with a
// neighbor's interior in global coordinates — its only purpose is
// inspecting what a worker actually held in memory.
func GatherFullBlocks(g *topology.Group, b grid.Block, x []float64, store dataset.Store, debugVar string) error {
	local := append([]float64(nil), x...)
	gathered := topology.Gather(g, 0, encode(local))
	if !g.IsMaster() {
		return nil
	}

	h, err := store.LookupVar(debugVar)
	if err != nil {
		return err
	}

	offset := 0
	for rank := 0; rank < g.RankCount(); rank++ {
		data := decode(gathered[rank])
		if err := store.WriteVarSlab(h, []int{offset}, []int{len(data)}, data); err != nil {
			return err
		}
		offset += len(data)
	}
	return nil
}

// Scatter distributes each worker's interior slab from the dataset. Any
// error the master hits while reading is propagated through the
// all-ranks error check so every worker halts in agreement rather than
// some workers silently running with zeroed state.
func Scatter(g *topology.Group, geom grid.Geometry, b grid.Block, x []float64, store dataset.Store, vars []string) error {
	procs := g.RankCount()
	var payload [][]byte
	var buildErr error
	if g.IsMaster() {
		payload, buildErr = buildScatterPayload(store, vars, geom, procs)
	}

	local := topology.Scatter(g, 0, payload)

	report := topology.ErrorReport{}
	if buildErr != nil {
		report.Code = 1
		report.Message = buildErr.Error()
	}
	if halt, cause := g.AllRanksErrorCheck(report); halt {
		return &topology.Halt{ExitCode: 1, Cause: cause}
	}

	insertInterior(b, x, decode(local))
	return nil
}

func buildScatterPayload(store dataset.Store, vars []string, geom grid.Geometry, procs int) ([][]byte, error) {
	handles, err := lookupAll(store, vars)
	payload := make([][]byte, procs)
	if err != nil {
		for r := range payload {
			payload[r] = encode(nil)
		}
		return payload, err
	}

	for rank := 0; rank < procs; rank++ {
		depth := grid.BlockDepth(geom.N3Total, procs, rank)
		firstRow := grid.BlockFirstRow(geom.N3Total, procs, rank)
		varLen := depth * geom.N2 * geom.N1
		data := make([]float64, len(vars)*varLen)
		for vi, h := range handles {
			buf := make([]float64, varLen)
			if err := store.ReadVarSlab(h, []int{firstRow, 0, 0}, []int{depth, geom.N2, geom.N1}, buf); err != nil {
				for r := range payload {
					payload[r] = encode(nil)
				}
				return payload, err
			}
			copy(data[vi*varLen:(vi+1)*varLen], buf)
		}
		payload[rank] = encode(data)
	}
	return payload, nil
}

func lookupAll(store dataset.Store, vars []string) ([]dataset.VarHandle, error) {
	handles := make([]dataset.VarHandle, len(vars))
	for i, name := range vars {
		h, err := store.LookupVar(name)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return handles, nil
}

func extractInterior(b grid.Block, x []float64) []float64 {
	out := make([]float64, 0, b.Vars*b.N3*b.N2*b.N1)
	for v := 0; v < b.Vars; v++ {
		for k := b.BC; k < b.FullN3-b.BC; k++ {
			for j := b.BC; j < b.FullN2-b.BC; j++ {
				for i := b.BC; i < b.FullN1-b.BC; i++ {
					out = append(out, x[b.Offset(v, i, j, k)])
				}
			}
		}
	}
	return out
}

func insertInterior(b grid.Block, x []float64, data []float64) {
	idx := 0
	for v := 0; v < b.Vars; v++ {
		for k := b.BC; k < b.FullN3-b.BC; k++ {
			for j := b.BC; j < b.FullN2-b.BC; j++ {
				for i := b.BC; i < b.FullN1-b.BC; i++ {
					x[b.Offset(v, i, j, k)] = data[idx]
					idx++
				}
			}
		}
	}
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
