package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ReadFunc fetches the current external state for a Monitor.
type ReadFunc[T any] func(ctx context.Context) (T, error)

// WatchFunc sets up an external-change watcher. It must call refresh
// whenever the underlying state may have changed, and must block
// until ctx is cancelled or the watch is no longer wanted, returning
// any terminal error (which causes a retry with backoff).
type WatchFunc func(ctx context.Context, refresh func()) error

// WatchNever returns a WatchFunc that never fires refresh — useful
// for inputs read only once per subscription, or for tests.
func WatchNever[T any]() WatchFunc {
	return func(ctx context.Context, refresh func()) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

// monitorState is the Monitor's internal lifecycle, per §4.3.
type monitorState int

const (
	stateIdle monitorState = iota
	stateFetching
	stateReady
)

// Monitor is the generic Input driver built from read + watch, with a
// state machine that looks like:
//
//	Idle ──(first subscribe)──▶ Watching+Fetching ──▶ Watching+Ready
//	 ▲                                    │
//	 │                     (watcher fires refresh)
//	 │                                    ▼
//	 │                         Watching+Fetching (again)
//	 └──(last unsubscribe)─────────────────┘  → cancel watch, return to Idle
//
// While no subscriber exists neither read nor watch runs. A pending
// read is never cancelled by an incoming refresh; instead, on
// completion, a second fetch is scheduled if a refresh arrived
// meanwhile. Refreshes are coalesced: a refresh-triggered fetch may
// start at most once per RefreshWindow (default 10s), and refreshes
// arriving while a delayed fetch is already scheduled merge into it.
// The first fetch on subscribe and the follow-up fetch for a refresh
// that arrived mid-fetch are not held back by the window.
type Monitor[T any] struct {
	cell *cell[T]

	read  ReadFunc[T]
	watch WatchFunc
	pp    string

	// RefreshWindow is the minimum spacing between the start of two
	// fetches triggered by watch refreshes. Defaults to 10s.
	RefreshWindow time.Duration
	// BackoffMax caps the watch retry backoff. Defaults to 60s.
	BackoffMax time.Duration

	mu          sync.Mutex
	state       monitorState
	subscribers int
	pending     bool
	limiter     *rate.Limiter
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

// NewMonitor builds a Monitor from a read/watch pair and a short
// description used to label its Analysis node.
func NewMonitor[T any](read ReadFunc[T], watch WatchFunc, pp string) *Monitor[T] {
	m := &Monitor[T]{
		cell:          newCell[T](Active[T](ReadyToRerun)),
		read:          read,
		watch:         watch,
		pp:            pp,
		RefreshWindow: 10 * time.Second,
		BackoffMax:    60 * time.Second,
	}
	m.limiter = rate.NewLimiter(rate.Every(m.RefreshWindow), 1)
	return m
}

func (m *Monitor[T]) anyInput() {}

// PP returns the monitor's short description.
func (m *Monitor[T]) PP() string { return m.pp }

// Get reads the current output without blocking.
func (m *Monitor[T]) Get(ctx context.Context) (Output[T], *JobID) {
	return m.cell.get(ctx)
}

// Subscribe registers refresh for change notifications and, on the
// first subscriber, transitions Idle → Watching+Fetching.
func (m *Monitor[T]) Subscribe(refresh func()) Unsubscribe {
	unsub := m.cell.subscribe(refresh)

	m.mu.Lock()
	m.subscribers++
	first := m.subscribers == 1
	m.mu.Unlock()

	if first {
		m.startWatching()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			m.mu.Lock()
			m.subscribers--
			last := m.subscribers == 0
			m.mu.Unlock()
			if last {
				m.stopWatching()
			}
		})
	}
}

func (m *Monitor[T]) startWatching() {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancelWatch = cancel
	m.watchDone = make(chan struct{})
	done := m.watchDone
	m.limiter.SetLimit(rate.Every(m.RefreshWindow))
	m.mu.Unlock()

	go m.fetch(ctx)
	go m.runWatch(ctx, done)
}

func (m *Monitor[T]) stopWatching() {
	m.mu.Lock()
	cancel := m.cancelWatch
	m.cancelWatch = nil
	m.state = stateIdle
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// runWatch drives the watch callback, retrying with exponential
// backoff (1s, capped at BackoffMax) when it returns an error. watch
// failures are logged; they do not mark the input permanently
// errored — only a failing read does that.
func (m *Monitor[T]) runWatch(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = m.BackoffMax
	b.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		err := m.watch(ctx, func() { m.onRefresh(ctx) })
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// watch returned without an error and without ctx being
			// done: treat as "nothing more to watch" and stop.
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		log.Warn().Str("monitor", m.pp).Err(err).Dur("retry_in", wait).Msg("monitor watch failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// onRefresh is called by the watcher whenever the underlying state
// may have changed. It is edge-triggered and coalesced: at most one
// fetch may start per RefreshWindow.
func (m *Monitor[T]) onRefresh(ctx context.Context) {
	m.mu.Lock()
	if m.state == stateFetching {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	r := m.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		m.mu.Lock()
		queued := m.pending
		m.pending = true
		m.mu.Unlock()
		if queued {
			// a delayed fetch is already scheduled; merge into it.
			r.Cancel()
			return
		}
		time.AfterFunc(d, func() { m.fetch(ctx) })
		return
	}

	m.fetch(ctx)
}

// fetch runs read once, publishes the result, and — if a refresh
// arrived while the fetch was in flight — immediately schedules
// another fetch.
func (m *Monitor[T]) fetch(ctx context.Context) {
	m.mu.Lock()
	if m.state == stateFetching {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.state = stateFetching
	m.pending = false
	m.mu.Unlock()

	job := NewJobID()
	v, err := m.read(ctx)

	var out Output[T]
	if err != nil {
		log.Warn().Str("monitor", m.pp).Err(err).Msg("monitor read failed")
		out = Failed[T](Msg(err.Error()))
	} else {
		out = Ok(v)
	}
	m.cell.set(out, &job)
	m.cell.notify()

	m.mu.Lock()
	m.state = stateReady
	rerun := m.pending
	m.pending = false
	m.mu.Unlock()

	if rerun {
		m.fetch(ctx)
	}
}
