package driver

import (
	"fmt"

	"github.com/sarchlab/rkmerson/grid"
	"github.com/sarchlab/rkmerson/paramfile"
)

// EvaluateFormulae fills every interior cell of block with the initial
// condition formulae §4.6's ICOND state describes: one arithmetic
// expression per variable (varNames[i] uses exprs[i]), which may reference
// the cell-center coordinates x1, x2, x3, any global scalar from globals
// (the parsed parameter-file scalars), and any other variable's value at
// the same cell. Passes repeat per cell until every variable is resolved;
// a pass that resolves nothing with variables still pending means a
// cyclic (or otherwise unresolvable) reference, which is an error.
func EvaluateFormulae(block grid.Block, x []float64, varNames []string, exprs []string, globals map[string]float64) error {
	if len(varNames) != len(exprs) {
		return fmt.Errorf("driver: %d variable names but %d formulae", len(varNames), len(exprs))
	}
	for k := block.BC; k < block.FullN3-block.BC; k++ {
		for j := block.BC; j < block.FullN2-block.BC; j++ {
			for i := block.BC; i < block.FullN1-block.BC; i++ {
				if err := evaluateCell(block, x, varNames, exprs, globals, i, j, k); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func evaluateCell(block grid.Block, x []float64, varNames, exprs []string, globals map[string]float64, i, j, k int) error {
	env := make(map[string]float64, len(globals)+3+len(varNames))
	for n, v := range globals {
		env[n] = v
	}
	env["x1"] = block.CellCenter1(i - block.BC)
	env["x2"] = block.CellCenter2(j - block.BC)
	env["x3"] = block.CellCenter3(block.FirstRow + k - block.BC)

	remaining := make(map[int]bool, len(varNames))
	for idx := range varNames {
		remaining[idx] = true
	}

	for len(remaining) > 0 {
		progressed := false
		for idx := range remaining {
			v, err := paramfile.Eval(exprs[idx], func(name string) (float64, bool) {
				val, ok := env[name]
				return val, ok
			})
			if err != nil {
				continue
			}
			env[varNames[idx]] = v
			x[block.Offset(idx, i, j, k)] = v
			delete(remaining, idx)
			progressed = true
		}
		if !progressed {
			names := make([]string, 0, len(remaining))
			for idx := range remaining {
				names = append(names, varNames[idx])
			}
			return fmt.Errorf("driver: cyclic or unresolvable initial-condition reference among %v at cell (%d,%d,%d)", names, i, j, k)
		}
	}
	return nil
}
