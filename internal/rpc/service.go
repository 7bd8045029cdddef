// Package rpc exposes the notebook execution queue over HTTP: two
// synchronous JSON endpoints mirroring the notebook session RPCs
// (execute_notebook_chunks, update_notebook_exec_queue), a WebSocket
// event stream for remote observers, and a status endpoint. The
// service owns the global queue's lifecycle: created lazily on the
// first execution request, torn down once it reports complete.
package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nbexec/internal/console"
	"nbexec/internal/events"
	"nbexec/internal/logging"
	"nbexec/internal/notebook"
	"nbexec/internal/queue"
)

// ClientIDHeader carries the requesting client's identity. Requests
// without it get a generated id.
const ClientIDHeader = "X-Nbexec-Client"

// Service wires the HTTP surface to the queue, console, and hub.
type Service struct {
	console    console.Console
	hub        *events.Hub
	taskBuffer int

	upgrader websocket.Upgrader

	mu    sync.Mutex
	queue *queue.Queue
}

// NewService creates the RPC service. taskBuffer is passed through to
// queues the service creates.
func NewService(cons console.Console, hub *events.Hub, taskBuffer int) *Service {
	return &Service{
		console:    cons,
		hub:        hub,
		taskBuffer: taskBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Observers are trusted tooling on the same host or
			// behind the operator's proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the service's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/execute_notebook_chunks", s.handleExecuteChunks)
	mux.HandleFunc("POST /rpc/update_notebook_exec_queue", s.handleUpdateQueue)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Shutdown tears down the queue (if live) and drops all subscribers.
func (s *Service) Shutdown() {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	if q != nil {
		q.Close()
	}
	s.hub.Close()
}

// -----------------------------------------------------------------------------
// Queue lifecycle
// -----------------------------------------------------------------------------

// ensureQueue returns the live queue, creating it on first use. A new
// request while one is live appends to it rather than replacing it.
// Caller must hold s.mu.
func (s *Service) ensureQueue(clientID string) (*queue.Queue, error) {
	if s.queue != nil {
		return s.queue, nil
	}
	q, err := queue.New(s.console, s.hub, queue.Config{
		ClientID:   clientID,
		TaskBuffer: s.taskBuffer,
		OnComplete: s.reapQueue,
	})
	if err != nil {
		return nil, err
	}
	s.queue = q
	return q, nil
}

// reapQueue destroys the queue once it has drained, mirroring the
// original session's prompt-hook cleanup. Re-checks completeness
// under the lock: a new document may have arrived in the meantime.
func (s *Service) reapQueue() {
	s.mu.Lock()
	q := s.queue
	if q == nil || !q.Complete() {
		s.mu.Unlock()
		return
	}
	s.queue = nil
	s.mu.Unlock()

	q.Close()
	logging.RPC("exec queue drained and released")
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// handleExecuteChunks queues a document's chunks for execution,
// creating the global queue if absent, and triggers an immediate
// advance via AddDocument.
func (s *Service) handleExecuteChunks(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	dq, err := notebook.DocQueueFromJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	clientID := r.Header.Get(ClientIDHeader)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	s.mu.Lock()
	q, err := s.ensureQueue(clientID)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logging.RPC("execute request: doc %s, %d units (client=%s)", dq.DocID, dq.Len(), clientID)

	err = q.AddDocument(dq)
	if errors.Is(err, queue.ErrClosed) {
		// The queue drained and was reaped between the lookup and the
		// add. Replace it with a fresh one and retry once.
		s.mu.Lock()
		if s.queue == q {
			s.queue = nil
		}
		q, err = s.ensureQueue(clientID)
		s.mu.Unlock()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		err = q.AddDocument(dq)
	}
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		// Option parse failure on the selected unit: the work stays
		// queued, the caller repairs and retries.
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeOK(w)
}

// updateRequest is the wire form of a queue mutation.
type updateRequest struct {
	Unit   json.RawMessage `json:"unit"`
	Op     string          `json:"op"`
	Before string          `json:"before"`
}

// handleUpdateQueue applies a structural edit to queued work. No live
// queue, or an unknown document, is success: the race with completion
// is expected and benign.
func (s *Service) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	op, err := notebook.ParseQueueOp(req.Op)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	unit, err := notebook.UnitFromJSON(req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		writeOK(w)
		return
	}

	logging.RPC("update request: %s chunk %s in doc %s", op, unit.ChunkID, unit.DocID)

	if err := q.Update(unit, op, req.Before); err != nil {
		// Queue closed between the nil check and the call; same race,
		// same answer.
		writeOK(w)
		return
	}
	writeOK(w)
}

// handleEvents upgrades to a WebSocket and streams queue events in
// emit order. An optional doc_id query filters to one document.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc_id")

	sub := s.hub.Subscribe(docID)
	if sub == nil {
		writeError(w, http.StatusServiceUnavailable, errSubscriberLimit)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Cancel()
		logging.RPCError("websocket upgrade failed: %v", err)
		return
	}

	logging.Events("observer connected (doc=%q, remote=%s)", docID, conn.RemoteAddr())

	// Writer: the subscription channel closes when the hub drops or
	// cancels the subscriber.
	go func() {
		defer conn.Close()
		for ev := range sub.C {
			if err := conn.WriteJSON(ev); err != nil {
				logging.EventsDebug("observer write failed: %v", err)
				sub.Cancel()
				return
			}
		}
	}()

	// Reader: only exists to notice the peer going away.
	go func() {
		defer sub.Cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// statusResponse is the /status payload.
type statusResponse struct {
	QueueLive bool           `json:"queue_live"`
	Queue     *queue.Metrics `json:"queue,omitempty"`
	Events    events.Metrics `json:"events"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	resp := statusResponse{Events: s.hub.GetMetrics()}
	if q != nil {
		m := q.GetMetrics()
		resp.QueueLive = true
		resp.Queue = &m
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// -----------------------------------------------------------------------------
// Response helpers
// -----------------------------------------------------------------------------

var errSubscriberLimit = &serviceError{"subscriber limit reached"}

type serviceError struct{ msg string }

func (e *serviceError) Error() string { return e.msg }

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeError(w http.ResponseWriter, code int, err error) {
	logging.RPCError("request failed (%d): %v", code, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}
