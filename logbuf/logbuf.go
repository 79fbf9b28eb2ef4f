// Package logbuf implements the master-side log and progress buffer
// (§4.8): a single in-memory, append-only buffer whose commit to disk is
// throttled to once per window unless a forced commit is requested.
package logbuf

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// CommitInterval is the minimum time between unforced commits, per §4.8.
const CommitInterval = 3 * time.Second

// Buffer is the append-only log buffer. It is touched only by the master,
// per the concurrency model's shared-resource rule.
type Buffer struct {
	mu          sync.Mutex
	lines       []string
	uncommitted int
	lastCommit  time.Time
	now         func() time.Time
}

// New creates an empty Buffer. now defaults to time.Now; tests may override
// it to make the throttle deterministic.
func New() *Buffer {
	return &Buffer{now: time.Now}
}

// SetClock overrides the buffer's notion of the current time, for tests.
func (b *Buffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Append formats and appends one line. It does not touch disk.
func (b *Buffer) Append(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
	b.uncommitted++
}

// Lines returns every line appended so far, committed or not.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Commit writes every uncommitted line to path, appending. It is a no-op
// unless forced or CommitInterval has elapsed since the last commit.
func (b *Buffer) Commit(path string, forced bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uncommitted == 0 {
		return nil
	}
	now := b.now()
	if !forced && !b.lastCommit.IsZero() && now.Sub(b.lastCommit) < CommitInterval {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logbuf: opening %s: %w", path, err)
	}
	defer f.Close()

	pending := b.lines[len(b.lines)-b.uncommitted:]
	for _, line := range pending {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("logbuf: writing %s: %w", path, err)
		}
	}

	b.uncommitted = 0
	b.lastCommit = now
	return nil
}

// Summary renders every appended line as a two-column progress table
// (index, line), for the CLI's human-readable dump mode.
func (b *Buffer) Summary() string {
	b.mu.Lock()
	lines := make([]string, len(b.lines))
	copy(lines, b.lines)
	b.mu.Unlock()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "line"})
	for i, line := range lines {
		t.AppendRow(table.Row{i, line})
	}
	return t.Render()
}
