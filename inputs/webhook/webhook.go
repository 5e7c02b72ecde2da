// Package webhook is the concrete realization of the "Web-hook input
// channel" external interface: an HTTP endpoint that, on every POST,
// stores the request body as the current value and fires a refresh —
// there is no read/watch cycle here since the channel has no external
// state to poll, only pushes to receive.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/liveflow/pipeline"
)

// Payload is one webhook delivery.
type Payload struct {
	Body        []byte
	ContentType string
}

// Endpoint is both an http.Handler (mountable on a chi.Router) and a
// pipeline.Input[Payload] reporting the most recent delivery.
type Endpoint struct {
	cell chan Payload

	mu          sync.Mutex
	current     Payload
	hasCurrent  bool
	subscribers map[int]func()
	nextSubID   int
}

// New builds a webhook Endpoint. Register it on a router with
// router.Post(path, endpoint) and pass endpoint itself as the Input
// read by a Term (e.g. via pipeline.Primitive).
func New() *Endpoint {
	return &Endpoint{
		cell:        make(chan Payload, 1),
		subscribers: make(map[int]func()),
	}
}

func (e *Endpoint) anyInput() {}

// ServeHTTP implements http.Handler: it reads the request body and
// stores it as the pending delivery. It does not notify subscribers;
// FireOn (and Mount) do that after calling it.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("webhook: reading body: %v", err), http.StatusBadRequest)
		return
	}

	select {
	case e.cell <- Payload{Body: body, ContentType: r.Header.Get("Content-Type")}:
	default:
		<-e.cell
		e.cell <- Payload{Body: body, ContentType: r.Header.Get("Content-Type")}
	}

	w.WriteHeader(http.StatusAccepted)
}

// Get implements pipeline.Input: it drains any pending delivery into
// the current value (non-blocking) and returns it.
func (e *Endpoint) Get(ctx context.Context) (pipeline.Output[Payload], *pipeline.JobID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case p := <-e.cell:
		e.current = p
		e.hasCurrent = true
	default:
	}
	if !e.hasCurrent {
		return pipeline.Active[Payload](pipeline.Running), nil
	}
	return pipeline.Ok(e.current), nil
}

// Subscribe implements pipeline.Input.
func (e *Endpoint) Subscribe(refresh func()) pipeline.Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = refresh
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// notify is called whenever a delivery should wake subscribers.
// ServeHTTP intentionally does not call it directly (Get's drain is
// what makes the new value visible); a caller that wants immediate
// re-evaluation on every POST should register the owning Engine's
// Broadcaster.Fire as a handler middleware instead, since Endpoint
// itself has no engine reference (Design Notes §9: no global state).
func (e *Endpoint) notify() {
	e.mu.Lock()
	refreshes := make([]func(), 0, len(e.subscribers))
	for _, r := range e.subscribers {
		refreshes = append(refreshes, r)
	}
	e.mu.Unlock()
	for _, r := range refreshes {
		r()
	}
}

// FireOn wraps an Endpoint so every accepted delivery also calls
// broadcaster.Fire, giving immediate re-evaluation instead of waiting
// for the engine's own Input-subscription fan-out.
func FireOn(e *Endpoint, broadcaster *pipeline.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.ServeHTTP(w, r)
		e.notify()
		broadcaster.Fire()
	}
}

// Mount registers endpoint on router at path using chi's method
// routing.
func Mount(router chi.Router, path string, endpoint *Endpoint, broadcaster *pipeline.Broadcaster) {
	router.Post(path, FireOn(endpoint, broadcaster))
}
