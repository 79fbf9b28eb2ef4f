package batch

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/tebeka/atexit"
)

// Mode selects how Postprocessor.Run invokes the script.
type Mode int

const (
	// Wait invokes the script and blocks until it exits.
	Wait Mode = iota
	// Concurrent forks the script with stdout/stderr redirected to
	// /dev/null and a near-minimum scheduling priority, returning
	// immediately; the children are reaped at Reap.
	Concurrent
)

// Postprocessor runs the user's postprocess script after each accepted
// batch iteration and reaps any concurrent children it spawned.
type Postprocessor struct {
	Script  string
	NoFail  bool // a nonzero exit in Wait mode does not escalate to a halt
	mu      sync.Mutex
	running []runningChild
}

type runningChild struct {
	cmd     *exec.Cmd
	devnull *os.File
}

// NewPostprocessor builds a Postprocessor for the given script path; an
// empty script means postprocessing is disabled and Run is a no-op. The
// returned Postprocessor registers its Reap method with atexit so
// abandoned concurrent children are still waited on if the process exits
// through an unrelated atexit.Exit call elsewhere.
func NewPostprocessor(script string, noFail bool) *Postprocessor {
	p := &Postprocessor{Script: script, NoFail: noFail}
	if script != "" {
		atexit.Register(func() { _ = p.Reap() })
	}
	return p
}

// Run executes the script for one batch iteration's suffix, in the
// configured mode. In Wait mode, a nonzero exit returns an error unless
// NoFail is set. In Concurrent mode, Run never blocks on the script and
// never returns a script-exit error; the child's outcome is only visible
// through Reap's returned errors.
func (p *Postprocessor) Run(mode Mode, suffix string) error {
	if p.Script == "" {
		return nil
	}

	switch mode {
	case Wait:
		cmd := exec.Command(p.Script, suffix)
		err := cmd.Run()
		if err != nil && !p.NoFail {
			return fmt.Errorf("batch: postprocess script failed for %q: %w", suffix, err)
		}
		return nil
	case Concurrent:
		cmd := exec.Command(p.Script, suffix)
		devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("batch: opening %s: %w", os.DevNull, err)
		}
		cmd.Stdout = devnull
		cmd.Stderr = devnull
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			devnull.Close()
			return fmt.Errorf("batch: starting postprocess script for %q: %w", suffix, err)
		}
		lowerPriority(cmd.Process.Pid)
		p.mu.Lock()
		p.running = append(p.running, runningChild{cmd: cmd, devnull: devnull})
		p.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("batch: unknown postprocess mode %d", mode)
	}
}

// Reap waits for every concurrent child spawned so far and returns the
// first error encountered, if any. The master calls it before finalizing.
func (p *Postprocessor) Reap() error {
	p.mu.Lock()
	cmds := p.running
	p.running = nil
	p.mu.Unlock()

	var firstErr error
	for _, child := range cmds {
		err := child.cmd.Wait()
		child.devnull.Close()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("batch: concurrent postprocess child %d exited: %w", child.cmd.Process.Pid, err)
		}
	}
	return firstErr
}

func lowerPriority(pid int) {
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, 19)
}
