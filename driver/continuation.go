package driver

import (
	"fmt"

	"github.com/sarchlab/rkmerson/dataset"
	"github.com/sarchlab/rkmerson/topology"
)

// continuation holds the driver-state attributes the series-continuation
// property (§4.6, §8) lets a persistent dataset override: the starting
// time, previous step, snapshot index, total snapshot count, and final
// time the run resumes with.
type continuation struct {
	T, Tau, FinalTime        float64
	Snapshot, TotalSnapshots int
}

// loadContinuation reads the continuation attributes from store (master
// only) and broadcasts them to every worker. A missing attribute halts
// every rank in agreement rather than letting some workers resume from a
// zeroed continuation while others fail.
func loadContinuation(group *topology.Group, store dataset.Store) (continuation, error) {
	var cont continuation
	var readErr error
	if group.IsMaster() {
		cont, readErr = readContinuationAttrs(store)
	}

	report := topology.ErrorReport{}
	if readErr != nil {
		report.Code = 1
		report.Message = readErr.Error()
	}
	if halt, cause := group.AllRanksErrorCheck(report); halt {
		return continuation{}, &topology.Halt{ExitCode: 1, Cause: cause}
	}

	return topology.Broadcast(group, 0, cont), nil
}

func readContinuationAttrs(store dataset.Store) (continuation, error) {
	var c continuation

	t, ok, err := store.GetAttrDouble(dataset.RootAttributable, "t")
	if err != nil {
		return continuation{}, err
	}
	if !ok {
		return continuation{}, fmt.Errorf("driver: continue_series requested but dataset has no %q attribute", "t")
	}
	c.T = t

	tau, ok, err := store.GetAttrDouble(dataset.RootAttributable, "tau")
	if err != nil {
		return continuation{}, err
	}
	if !ok {
		return continuation{}, fmt.Errorf("driver: continue_series requested but dataset has no %q attribute", "tau")
	}
	c.Tau = tau

	finalTime, ok, err := store.GetAttrDouble(dataset.RootAttributable, "final_time")
	if err != nil {
		return continuation{}, err
	}
	if !ok {
		return continuation{}, fmt.Errorf("driver: continue_series requested but dataset has no %q attribute", "final_time")
	}
	c.FinalTime = finalTime

	snap, ok, err := store.GetAttrInt(dataset.RootAttributable, "snapshot")
	if err != nil {
		return continuation{}, err
	}
	if !ok {
		return continuation{}, fmt.Errorf("driver: continue_series requested but dataset has no %q attribute", "snapshot")
	}
	c.Snapshot = snap

	total, ok, err := store.GetAttrInt(dataset.RootAttributable, "total_snapshots")
	if err != nil {
		return continuation{}, err
	}
	if !ok {
		return continuation{}, fmt.Errorf("driver: continue_series requested but dataset has no %q attribute", "total_snapshots")
	}
	c.TotalSnapshots = total

	return c, nil
}
