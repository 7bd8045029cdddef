package queue

import (
	"nbexec/internal/console"
	"nbexec/internal/logging"
	"nbexec/internal/options"
)

// =============================================================================
// EXECUTION CONTEXT
// =============================================================================
//
// ExecContext is the per-unit connection to console lifecycle events.
// Submission is asynchronous (the dispatcher may not have forwarded a
// command yet when advance runs), so range exhaustion alone never
// means a unit is done: the context counts submissions against
// finished evaluations and reports completion only when both sides
// balance. All mutation happens on the queue's actor goroutine; the
// console listener only posts tasks onto it.

// ExecContext tracks what has been sent to the console for one unit
// and detects when the console has finished producing its output.
type ExecContext struct {
	docID      string
	chunkID    string
	pixelWidth int
	charWidth  int
	opts       *options.ExecOptions

	submitted int // commands handed to the dispatcher
	finished  int // eval-finished signals observed for this chunk
	lastErr   error

	detach func()
}

// NewExecContext creates a context for one unit. The rendering
// parameters come from the unit's document queue so console output is
// formatted for that document's display.
func NewExecContext(docID, chunkID string, pixelWidth, charWidth int, opts *options.ExecOptions) *ExecContext {
	return &ExecContext{
		docID:      docID,
		chunkID:    chunkID,
		pixelWidth: pixelWidth,
		charWidth:  charWidth,
		opts:       opts,
	}
}

// Options returns the unit's parsed execution options.
func (c *ExecContext) Options() *options.ExecOptions {
	return c.opts
}

// Connect subscribes the context to console lifecycle events. Events
// are funnelled through post so completion state is only ever touched
// on the queue's actor goroutine.
func (c *ExecContext) Connect(cons console.Console, post func(func())) {
	c.detach = cons.OnLifecycle(func(ev console.Event) {
		if ev.ChunkID != c.chunkID || ev.Type != console.EvalFinished {
			return
		}
		out, err := ev.Output, ev.Err
		post(func() {
			c.finished++
			if err != nil {
				c.lastErr = err
			}
			logging.QueueDebug("chunk %s eval finished (%d/%d, output=%dB)",
				c.chunkID, c.finished, c.submitted, len(out))
		})
	})
}

// Disconnect releases the console subscription. Idempotent; called on
// success, error, and cancellation-by-deletion alike.
func (c *ExecContext) Disconnect() {
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
}

// NoteSubmission records that one command for this unit was handed to
// the dispatcher.
func (c *ExecContext) NoteSubmission() {
	c.submitted++
}

// Complete reports whether the unit has no pending ranges and the
// console has finished evaluating everything submitted for it. A unit
// that never submitted anything is not complete.
func (c *ExecContext) Complete(pendingRanges bool) bool {
	return !pendingRanges && c.submitted > 0 && c.finished >= c.submitted
}

// LastError returns the most recent evaluation error, if any.
func (c *ExecContext) LastError() error {
	return c.lastErr
}
