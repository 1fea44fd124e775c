// Package stack drives incremental registration and stacking: frames are
// loaded concurrently, aligned in memory-sized batches, and folded into a
// running mean that stays exact no matter how the batches fall.
package stack

import (
	"stargazer/internal/fits"
	"stargazer/internal/frame"
)

// Level grades progress notifications for the consuming surface.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Callbacks are the hooks a surface (CLI, watcher, web monitor) registers to
// observe a run. Any or all may be nil; the pipeline never requires them.
type Callbacks struct {
	// Progress receives human-readable run events.
	Progress func(message string, level Level)
	// Counter receives the processed and total frame counts.
	Counter func(current, total int)
	// Preview receives the running stack after every fold so partial
	// results are observable.
	Preview func(stack *frame.Frame, hdr *fits.Header)
}

func (c *Callbacks) report(message string, level Level) {
	if c != nil && c.Progress != nil {
		c.Progress(message, level)
	}
}

func (c *Callbacks) count(current, total int) {
	if c != nil && c.Counter != nil {
		c.Counter(current, total)
	}
}

func (c *Callbacks) preview(stack *frame.Frame, hdr *fits.Header) {
	if c != nil && c.Preview != nil {
		c.Preview(stack, hdr)
	}
}
