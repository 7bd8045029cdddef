package queue

import (
	"sync"
	"sync/atomic"

	"nbexec/internal/console"
	"nbexec/internal/logging"
)

// =============================================================================
// DISPATCH WORKER
// =============================================================================
//
// Dispatcher serializes submission of console input on a single
// long-lived background goroutine. Enqueue never blocks, which keeps
// the queue's advance step (and through it the console's idle-signal
// path) free of transport latency. Commands are forwarded in exact
// enqueue order; later ranges of a chunk depend on earlier ones having
// executed first. Forward errors are logged and skipped; there is no
// retry and no way to cancel a command once enqueued.

// Dispatcher owns the background console-input worker.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []console.Input
	closed  bool

	submit func(console.Input) error
	wg     sync.WaitGroup

	enqueued  int64
	forwarded int64
	failed    int64
	discarded int64
}

// NewDispatcher creates a dispatcher forwarding to submit and starts
// its worker goroutine.
func NewDispatcher(submit func(console.Input) error) *Dispatcher {
	d := &Dispatcher{submit: submit}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(1)
	go d.worker()
	logging.Dispatch("dispatch worker started")
	return d
}

// Enqueue appends a command to the intake. It returns immediately and
// is safe to call from the advance step; after Close the command is
// silently discarded.
func (d *Dispatcher) Enqueue(in console.Input) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		atomic.AddInt64(&d.discarded, 1)
		return
	}
	d.pending = append(d.pending, in)
	atomic.AddInt64(&d.enqueued, 1)
	d.cond.Signal()
}

// Close stops the worker and waits for it to exit. Commands still in
// the intake are discarded; there is no drain guarantee.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	atomic.AddInt64(&d.discarded, int64(len(d.pending)))
	d.pending = nil
	d.cond.Signal()
	d.mu.Unlock()

	d.wg.Wait()
	logging.Dispatch("dispatch worker stopped (forwarded=%d, failed=%d, discarded=%d)",
		atomic.LoadInt64(&d.forwarded), atomic.LoadInt64(&d.failed), atomic.LoadInt64(&d.discarded))
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		in := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		if err := d.submit(in); err != nil {
			// Transport errors don't stop the worker; the queue
			// assumes delivery and carries on optimistically.
			atomic.AddInt64(&d.failed, 1)
			logging.DispatchError("failed to submit console input for chunk %s: %v", in.ChunkID(), err)
			continue
		}
		atomic.AddInt64(&d.forwarded, 1)
		logging.DispatchDebug("forwarded console input for chunk %s", in.ChunkID())
	}
}

// DispatcherMetrics reports dispatcher counters.
type DispatcherMetrics struct {
	Pending   int   `json:"pending"`
	Enqueued  int64 `json:"enqueued"`
	Forwarded int64 `json:"forwarded"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}

// GetMetrics returns current dispatcher metrics.
func (d *Dispatcher) GetMetrics() DispatcherMetrics {
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	return DispatcherMetrics{
		Pending:   pending,
		Enqueued:  atomic.LoadInt64(&d.enqueued),
		Forwarded: atomic.LoadInt64(&d.forwarded),
		Failed:    atomic.LoadInt64(&d.failed),
		Discarded: atomic.LoadInt64(&d.discarded),
	}
}
