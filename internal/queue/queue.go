// Package queue implements the global notebook execution queue: an
// ordered collection of per-document queues driven through one shared
// stateful console, exactly one chunk at a time. Advance and update
// are funnelled through a single owning goroutine, so queue state has
// exactly one writer no matter how many triggers fire; the only truly
// concurrent element is the dispatch worker that forwards console
// input in the background.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"nbexec/internal/console"
	"nbexec/internal/events"
	"nbexec/internal/logging"
	"nbexec/internal/notebook"
	"nbexec/internal/options"
)

// ErrClosed is returned for operations on a queue that has shut down.
var ErrClosed = errors.New("execution queue is closed")

// Config configures a Queue.
type Config struct {
	// ClientID tags every console submission with the owning client.
	ClientID string

	// TaskBuffer bounds the serialized task backlog. Zero picks a
	// default.
	TaskBuffer int

	// OnComplete, if set, is called once (from its own goroutine)
	// after an advance leaves the queue with no documents and no unit
	// in flight. The owner uses it to tear the queue down.
	OnComplete func()
}

// Queue is the process-wide execution queue. There is at most one
// live instance at a time; its owner creates it lazily on the first
// execution request and destroys it once complete.
type Queue struct {
	cfg        Config
	console    console.Console
	emitter    events.Emitter
	dispatcher *Dispatcher

	tasks        chan func()
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	detachPrompt func()

	// State below is owned by the actor goroutine. The currently
	// executing unit, when present, is always the first unit of the
	// first document queue.
	docs             []*notebook.DocQueue
	execUnit         *notebook.QueueUnit
	execCtx          *ExecContext
	everAdded        bool
	completeNotified bool

	unitsStarted   int64
	unitsFinished  int64
	unitsCancelled int64
}

// New creates a queue bound to a console and starts its actor and
// dispatch worker. The prompt (idle) signal is wired to Advance here;
// Close detaches it.
func New(cons console.Console, emitter events.Emitter, cfg Config) (*Queue, error) {
	if cons == nil {
		return nil, errors.New("execution queue requires a console")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("execution queue requires a client id")
	}
	if emitter == nil {
		emitter = events.Discard
	}
	if cfg.TaskBuffer <= 0 {
		cfg.TaskBuffer = 128
	}

	q := &Queue{
		cfg:     cfg,
		console: cons,
		emitter: emitter,
		tasks:   make(chan func(), cfg.TaskBuffer),
		done:    make(chan struct{}),
	}
	q.dispatcher = NewDispatcher(cons.Submit)

	q.wg.Add(1)
	go q.run()

	q.detachPrompt = cons.OnPrompt(q.Advance)

	logging.Queue("exec queue started (client=%s)", cfg.ClientID)
	return q, nil
}

// Close detaches from the console, stops the actor, and joins the
// dispatch worker. Pending tasks and console commands are discarded.
// Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.detachPrompt()
		close(q.done)
		q.wg.Wait()
		q.dispatcher.Close()
		logging.Queue("exec queue finished")
	})
}

// -----------------------------------------------------------------------------
// Actor plumbing
// -----------------------------------------------------------------------------

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case fn := <-q.tasks:
			fn()
		}
	}
}

// post schedules a task without waiting for it. Used by the trigger
// paths that must not block on queue work (prompt signal, lifecycle
// events).
func (q *Queue) post(fn func()) {
	select {
	case q.tasks <- fn:
	case <-q.done:
	}
}

// do schedules a task and waits for it to run.
func (q *Queue) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case q.tasks <- func() { fn(); close(ran) }:
	case <-q.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// -----------------------------------------------------------------------------
// Public operations
// -----------------------------------------------------------------------------

// Advance schedules one advance step. Safe to call from the console's
// prompt callback: it never blocks on transport and returns before
// the step runs.
func (q *Queue) Advance() {
	q.post(func() {
		if err := q.advance(); err != nil {
			logging.QueueError("advance failed: %v", err)
		}
	})
}

// AddDocument appends a document queue and immediately performs one
// advance, so a new document starts on an idle console without
// waiting for an unrelated idle signal. The advance error (an option
// parse failure on the selected unit) is surfaced to the caller; the
// unit stays queued.
func (q *Queue) AddDocument(dq *notebook.DocQueue) error {
	var advErr error
	err := q.do(func() {
		q.docs = append(q.docs, dq)
		q.everAdded = true
		logging.Queue("doc %s queued (%d units)", dq.DocID, dq.Len())
		advErr = q.advance()
	})
	if err != nil {
		return err
	}
	return advErr
}

// Update applies a structural edit to the document queue owning the
// unit. A missing document is a benign no-op: races between mutation
// and completion are expected. Deleting the currently executing unit
// cancels it.
func (q *Queue) Update(unit *notebook.QueueUnit, op notebook.QueueOp, before string) error {
	return q.do(func() {
		q.update(unit, op, before)
	})
}

// Complete reports whether the queue has no pending documents and no
// unit in flight. A closed queue is complete.
func (q *Queue) Complete() bool {
	complete := true
	if err := q.do(func() {
		complete = len(q.docs) == 0 && q.execUnit == nil
	}); err != nil {
		return true
	}
	return complete
}

// -----------------------------------------------------------------------------
// Advance step (actor goroutine)
// -----------------------------------------------------------------------------

// advance performs at most one state transition: retire a finished
// unit and/or begin the next one. Retire-then-select runs in a single
// call so one idle signal never stalls rapid-fire short chunks.
func (q *Queue) advance() error {
	if len(q.docs) == 0 && q.execUnit == nil {
		q.maybeNotifyComplete()
		return nil
	}

	// Defer while the console is mid-evaluation from an unrelated
	// trigger; the next idle signal re-attempts.
	if q.console.Busy() {
		return nil
	}

	if q.execUnit != nil {
		if !q.execCtx.Complete(q.execUnit.Pending()) {
			// Submit the next range, or wait for the console to catch
			// up with what was already sent.
			if q.execUnit.Pending() {
				q.submitCurrent()
			}
			return nil
		}
		q.retireCurrent()
	}

	return q.executeNextUnit()
}

// retireCurrent removes the finished unit from its document queue,
// notifies the client, and releases the execution context.
func (q *Queue) retireCurrent() {
	unit := q.execUnit
	logging.Queue("chunk %s complete", unit.ChunkID)

	if len(q.docs) > 0 {
		dq := q.docs[0]
		dq.Update(unit, notebook.OpDelete, "")
		if dq.Complete() {
			logging.Queue("doc %s complete", dq.DocID)
			q.docs = q.docs[1:]
		}
	}

	q.emitter.Emit(events.ChunkFinished(unit.DocID, unit.ChunkID))

	q.execCtx.Disconnect()
	q.execCtx = nil
	q.execUnit = nil
	atomic.AddInt64(&q.unitsFinished, 1)
}

// executeNextUnit selects the first unit of the first incomplete
// document queue and begins executing it.
func (q *Queue) executeNextUnit() error {
	for len(q.docs) > 0 && q.docs[0].Complete() {
		q.docs = q.docs[1:]
	}
	if len(q.docs) == 0 {
		q.maybeNotifyComplete()
		return nil
	}

	dq := q.docs[0]
	unit := dq.FirstUnit()

	// Malformed options stall the document rather than skipping the
	// unit; the caller repairs the chunk and retries.
	opts, err := options.Parse(unit.Options)
	if err != nil {
		logging.QueueError("chunk %s has malformed options: %v", unit.ChunkID, err)
		return fmt.Errorf("chunk %s: %w", unit.ChunkID, err)
	}

	ctx := NewExecContext(unit.DocID, unit.ChunkID, dq.PixelWidth, dq.CharWidth, opts)
	ctx.Connect(q.console, q.post)

	q.execCtx = ctx
	q.execUnit = unit
	atomic.AddInt64(&q.unitsStarted, 1)
	logging.Queue("chunk %s started", unit.ChunkID)
	q.emitter.Emit(events.ChunkStarted(unit.DocID, unit.ChunkID))

	// Begin immediately so progress doesn't wait for an extra idle
	// cycle.
	q.submitCurrent()
	return nil
}

// submitCurrent pops the next range of the in-flight unit and hands
// the corresponding command to the dispatch worker. The range-executed
// notification goes out before any evaluation confirmation exists.
func (q *Queue) submitCurrent() {
	unit := q.execUnit
	r := unit.PopRange()

	code := unit.Text(r)
	if !q.execCtx.Options().Eval() {
		// Evaluation suppressed: submit the sentinel so the console
		// still produces a completion signal for this chunk.
		code = ""
	}

	q.dispatcher.Enqueue(console.NewInput(code, unit.ChunkID, q.cfg.ClientID))
	q.execCtx.NoteSubmission()
	q.emitter.Emit(events.RangeExecuted(unit.DocID, unit.ChunkID, r))
	logging.QueueDebug("chunk %s range [%d,+%d) submitted", unit.ChunkID, r.Start, r.Length)
}

// -----------------------------------------------------------------------------
// Mutation (actor goroutine)
// -----------------------------------------------------------------------------

func (q *Queue) update(unit *notebook.QueueUnit, op notebook.QueueOp, before string) {
	for _, dq := range q.docs {
		if dq.DocID != unit.DocID {
			continue
		}
		if op == notebook.OpDelete && q.isCurrent(unit) {
			q.cancelCurrent()
		}
		dq.Update(unit, op, before)
		logging.QueueDebug("doc %s: %s chunk %s (before=%q)", unit.DocID, op, unit.ChunkID, before)
		return
	}
	// No matching document: the doc likely completed while the edit
	// was in flight. Benign.
	logging.QueueDebug("update for unknown doc %s ignored", unit.DocID)
}

func (q *Queue) isCurrent(unit *notebook.QueueUnit) bool {
	return q.execUnit != nil &&
		q.execUnit.DocID == unit.DocID &&
		q.execUnit.ChunkID == unit.ChunkID
}

// cancelCurrent abandons the in-flight unit: its context is released
// and no further ranges are submitted. Commands already handed to the
// dispatcher are still delivered. chunk-finished is never sent for a
// cancelled unit; chunk-cancelled is sent instead so observers can
// tell the difference.
func (q *Queue) cancelCurrent() {
	unit := q.execUnit
	logging.Queue("chunk %s cancelled by deletion", unit.ChunkID)

	q.execCtx.Disconnect()
	q.execCtx = nil
	q.execUnit = nil
	atomic.AddInt64(&q.unitsCancelled, 1)

	q.emitter.Emit(events.ChunkCancelled(unit.DocID, unit.ChunkID))
}

func (q *Queue) maybeNotifyComplete() {
	if q.completeNotified || !q.everAdded || q.cfg.OnComplete == nil {
		return
	}
	if len(q.docs) == 0 && q.execUnit == nil {
		q.completeNotified = true
		go q.cfg.OnComplete()
	}
}

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metrics is a point-in-time snapshot of queue state.
type Metrics struct {
	Documents      int               `json:"documents"`
	PendingUnits   int               `json:"pending_units"`
	CurrentDoc     string            `json:"current_doc,omitempty"`
	CurrentChunk   string            `json:"current_chunk,omitempty"`
	UnitsStarted   int64             `json:"units_started"`
	UnitsFinished  int64             `json:"units_finished"`
	UnitsCancelled int64             `json:"units_cancelled"`
	Dispatcher     DispatcherMetrics `json:"dispatcher"`
}

// GetMetrics returns a snapshot. On a closed queue only the counters
// survive.
func (q *Queue) GetMetrics() Metrics {
	m := Metrics{
		UnitsStarted:   atomic.LoadInt64(&q.unitsStarted),
		UnitsFinished:  atomic.LoadInt64(&q.unitsFinished),
		UnitsCancelled: atomic.LoadInt64(&q.unitsCancelled),
	}
	_ = q.do(func() {
		m.Documents = len(q.docs)
		for _, dq := range q.docs {
			m.PendingUnits += dq.Len()
		}
		if q.execUnit != nil {
			m.CurrentDoc = q.execUnit.DocID
			m.CurrentChunk = q.execUnit.ChunkID
		}
	})
	m.Dispatcher = q.dispatcher.GetMetrics()
	return m
}
