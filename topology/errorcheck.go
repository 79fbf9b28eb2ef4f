package topology

import "fmt"

// ErrorReport is one rank's contribution to an all-ranks error check: a
// zero Code means that rank is healthy.
type ErrorReport struct {
	Code    int
	Rank    Rank
	Message string
}

// AllRanksErrorCheck is the collective error-check primitive from the core
// design: every rank reports its local error code, and if any rank is
// nonzero, every rank observes the same Halt decision naming the first
// offending rank. It must be called cooperatively by every rank even when
// a rank has nothing to report (Code: 0).
func (g *Group) AllRanksErrorCheck(local ErrorReport) (halt bool, cause ErrorReport) {
	local.Rank = g.virtual
	result := rendezvous(g.world, "error_check", g.virtual, local, func(contribs map[Rank]ErrorReport) ErrorReport {
		for _, r := range sortedRanks(contribs) {
			if rep := contribs[r]; rep.Code != 0 {
				return rep
			}
		}
		return ErrorReport{}
	})
	return result.Code != 0, result
}

// Halt is returned by callers that need to propagate a coordinated,
// process-wide failure after AllRanksErrorCheck reports one.
type Halt struct {
	ExitCode int
	Cause    ErrorReport
}

func (h *Halt) Error() string {
	return fmt.Sprintf("topology: halt requested by rank %d (exit %d): %s",
		h.Cause.Rank, h.ExitCode, h.Cause.Message)
}

// FinalizeAndWait is the last collective every rank calls: it is a barrier
// that lets every goroutine observe that every peer reached shutdown
// before the World is discarded. Real transports would tear down sockets
// here; goroutines have nothing further to release, so this is a pure
// synchronization point.
func (g *Group) FinalizeAndWait() {
	g.Barrier()
}
