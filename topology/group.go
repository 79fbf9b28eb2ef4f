package topology

import "sort"

// Broadcast distributes the value held by root to every rank. Non-root
// callers pass a zero value; it is ignored.
func Broadcast[T any](g *Group, root Rank, value T) T {
	return rendezvous(g.world, "broadcast", g.virtual, value, func(contribs map[Rank]T) T {
		return contribs[root]
	})
}

// ReduceMin returns the minimum of every rank's value to every rank (the
// spec's reduce_min is used, for example, to agree on the smallest safe
// step bound across workers).
func (g *Group) ReduceMin(value float64) float64 {
	return rendezvous(g.world, "reduce_min", g.virtual, value, func(contribs map[Rank]float64) float64 {
		min := contribs[0]
		for _, v := range contribs {
			if v < min {
				min = v
			}
		}
		return min
	})
}

// ReduceMax returns the maximum of every rank's value to every rank.
func (g *Group) ReduceMax(value float64) float64 {
	return rendezvous(g.world, "reduce_max", g.virtual, value, func(contribs map[Rank]float64) float64 {
		max := contribs[0]
		for _, v := range contribs {
			if v > max {
				max = v
			}
		}
		return max
	})
}

// ReduceOr returns the logical OR of every rank's flag to every rank. The
// RK core uses it to fold the per-worker non-finite flag during NaN
// recovery.
func (g *Group) ReduceOr(value bool) bool {
	return rendezvous(g.world, "reduce_or", g.virtual, value, func(contribs map[Rank]bool) bool {
		for _, v := range contribs {
			if v {
				return true
			}
		}
		return false
	})
}

// AllReduceMax is the name the core design uses for the error-norm
// reduction: identical semantics to ReduceMax, kept as a distinct named
// collective so its call sites in rk read the way the state-machine
// diagram in the core design describes them.
func (g *Group) AllReduceMax(value float64) float64 {
	return rendezvous(g.world, "all_reduce_max", g.virtual, value, func(contribs map[Rank]float64) float64 {
		max := contribs[0]
		for _, v := range contribs {
			if v > max {
				max = v
			}
		}
		return max
	})
}

// Gather collects every rank's slice at root, ordered by virtual rank. Non-
// root callers receive nil.
func Gather(g *Group, root Rank, value []byte) [][]byte {
	all := rendezvous(g.world, "gather", g.virtual, [][]byte{value}, func(contribs map[Rank][][]byte) [][]byte {
		out := make([][]byte, len(contribs))
		for r, v := range contribs {
			out[int(r)] = v[0]
		}
		return out
	})
	if g.virtual != root {
		return nil
	}
	return all
}

// Scatter disperses data (indexed by destination virtual rank, supplied
// only by root) so each rank receives data[myRank]. Non-root callers pass
// nil for data.
func Scatter(g *Group, root Rank, data [][]byte) []byte {
	all := rendezvous(g.world, "scatter", g.virtual, data, func(contribs map[Rank][][]byte) [][]byte {
		return contribs[root]
	})
	return all[int(g.virtual)]
}

// Barrier blocks until every rank has called Barrier.
func (g *Group) Barrier() {
	rendezvous(g.world, "barrier", g.virtual, struct{}{}, func(map[Rank]struct{}) struct{} {
		return struct{}{}
	})
}

// sortedRanks returns the ranks of a contributions map in ascending order;
// AllRanksErrorCheck uses it for a deterministic traversal.
func sortedRanks[T any](contribs map[Rank]T) []Rank {
	ranks := make([]Rank, 0, len(contribs))
	for r := range contribs {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	return ranks
}
