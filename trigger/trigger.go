// Package trigger implements the service callback and on-demand snapshot
// trigger (§4.10): the master-only hook invoked after every accepted RK
// step that logs progress, estimates remaining wall-clock time, and polls
// the filesystem for a trigger file requesting an out-of-band snapshot.
package trigger

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sarchlab/rkmerson/logbuf"
	"github.com/sarchlab/rkmerson/rk"
)

// Clock abstracts wall-clock time so tests can control elapsed duration.
type Clock func() time.Time

// WallClockEstimator projects remaining wall-clock time from the ratio of
// elapsed wall time to elapsed simulation time observed so far.
type WallClockEstimator struct {
	start time.Time
	t0    float64
	now   Clock
}

// NewWallClockEstimator begins timing at t0 (the simulation's starting
// time), using now (time.Now if nil) as the clock.
func NewWallClockEstimator(t0 float64, now Clock) *WallClockEstimator {
	if now == nil {
		now = time.Now
	}
	return &WallClockEstimator{start: now(), t0: t0, now: now}
}

// Remaining projects the wall-clock duration remaining to reach deadline,
// given the simulation has currently reached t. It returns 0 if no
// simulation progress has been made yet (elapsed sim time is zero).
func (e *WallClockEstimator) Remaining(t, deadline float64) time.Duration {
	elapsedSim := t - e.t0
	if elapsedSim <= 0 {
		return 0
	}
	elapsedWall := e.now().Sub(e.start)
	remainingSim := deadline - t
	if remainingSim <= 0 {
		return 0
	}
	rate := float64(elapsedWall) / elapsedSim
	return time.Duration(rate * remainingSim)
}

// Poller checks for a trigger file's presence, unlinking it once observed.
type Poller struct {
	Path string
}

// Check reports whether the trigger file is present, removing it if so.
// A disabled poller (empty Path) never fires.
func (p Poller) Check() (bool, error) {
	if p.Path == "" {
		return false, nil
	}
	if _, err := os.Stat(p.Path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("trigger: checking %s: %w", p.Path, err)
	}
	if err := os.Remove(p.Path); err != nil {
		return false, fmt.Errorf("trigger: removing %s: %w", p.Path, err)
	}
	return true, nil
}

// ProcessStats reports the current process's wall time and resident
// memory, for the structured debug-log line.
type ProcessStats struct {
	WallTime time.Duration
	RSSBytes uint64
}

// ReadProcessStats samples the calling process's own resource usage via
// gopsutil.
func ReadProcessStats(start time.Time) (ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, fmt.Errorf("trigger: opening self process handle: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("trigger: reading memory info: %w", err)
	}
	return ProcessStats{WallTime: time.Since(start), RSSBytes: mem.RSS}, nil
}

// NewCallback builds the rk.ServiceCallback the integrator invokes after
// every accepted step on the master: it appends a structured progress line
// to debugLog and probes poller, requesting interruption when the trigger
// file appears.
func NewCallback(debugLog *logbuf.Buffer, poller Poller, estimator *WallClockEstimator, deadline float64) rk.ServiceCallback {
	start := time.Now()
	return func(v rk.View) bool {
		remaining := estimator.Remaining(v.T, deadline)
		stats, statErr := ReadProcessStats(start)
		if statErr != nil {
			debugLog.Append("step=%d t=%g h=%g deadline=%g remaining_wall=%s stats_error=%v",
				v.Steps, v.T, v.H, v.Deadline, remaining, statErr)
		} else {
			debugLog.Append("step=%d t=%g h=%g deadline=%g remaining_wall=%s wall=%s rss=%d",
				v.Steps, v.T, v.H, v.Deadline, remaining, stats.WallTime, stats.RSSBytes)
		}

		fired, err := poller.Check()
		if err != nil {
			debugLog.Append("trigger poll error: %v", err)
			return false
		}
		return fired
	}
}
