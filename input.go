package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Unsubscribe cancels a subscription registered with Input.Subscribe.
// It is idempotent: calling it more than once is a no-op.
type Unsubscribe func()

// Input is a mutable, subscribable cell holding the current Output of
// some external state. Reading an input is idempotent within one
// evaluation pass; subscribers must be safe to call concurrently, and
// a change notification must be delivered at-least-once for any state
// mutation that occurred before the notification was requested.
// Duplicate notifications are permitted and must be safe.
type Input[T any] interface {
	// Get reads the current output without blocking.
	Get(ctx context.Context) (Output[T], *JobID)
	// Subscribe registers refresh to be called at most once per
	// underlying change notification.
	Subscribe(refresh func()) Unsubscribe
}

// JobID attributes an Input's current output to an external job (a
// build, a fetch), for display in an Analysis node.
type JobID string

// NewJobID mints a fresh, unique job id.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// AnyInput is the type-erased identity of an Input, used by the engine
// and the reactive dependency graph to recognize "same input as
// before" across re-evaluations. Every Input implementation in this
// package (Var, Monitor, the ConstantInput value) is identified by its
// own stable pointer.
type AnyInput interface {
	anyInput()
}

// cell is the shared, concrete backing store for Var and Monitor (and
// so for the Monitor-based plugins under inputs/). Each of them owns
// exactly one cell.
type cell[T any] struct {
	mu          sync.RWMutex
	out         Output[T]
	job         *JobID
	subscribers map[int]func()
	nextSubID   int
}

func newCell[T any](initial Output[T]) *cell[T] {
	return &cell[T]{
		out:         initial,
		subscribers: make(map[int]func()),
	}
}

func (c *cell[T]) anyInput() {}

func (c *cell[T]) get(context.Context) (Output[T], *JobID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.out, c.job
}

// set updates the cell's current output and job id. It does not
// itself notify subscribers; callers decide whether the change
// warrants a refresh (a Monitor always does; a test double may not).
func (c *cell[T]) set(out Output[T], job *JobID) {
	c.mu.Lock()
	c.out = out
	c.job = job
	c.mu.Unlock()
}

func (c *cell[T]) subscribe(refresh func()) Unsubscribe {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = refresh
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// notify calls every currently-registered subscriber. Safe to call
// concurrently with subscribe/unsubscribe; a subscriber added or
// removed mid-notify is not guaranteed to be included or excluded.
func (c *cell[T]) notify() {
	c.mu.RLock()
	refreshes := make([]func(), 0, len(c.subscribers))
	for _, r := range c.subscribers {
		refreshes = append(refreshes, r)
	}
	c.mu.RUnlock()

	for _, r := range refreshes {
		r()
	}
}

// Var is a plain in-memory mutable Input, the simplest possible
// external state: Set writes a new value and notifies subscribers
// synchronously, with no read/watch cycle of its own.
type Var[T any] struct {
	cell *cell[T]
}

// NewVar builds a Var holding initial.
func NewVar[T any](initial T) *Var[T] {
	return &Var[T]{cell: newCell[T](Ok(initial))}
}

func (v *Var[T]) anyInput() {}

// Get implements Input.
func (v *Var[T]) Get(ctx context.Context) (Output[T], *JobID) {
	return v.cell.get(ctx)
}

// Subscribe implements Input.
func (v *Var[T]) Subscribe(refresh func()) Unsubscribe {
	return v.cell.subscribe(refresh)
}

// Set replaces the current value and notifies every subscriber.
func (v *Var[T]) Set(value T) {
	v.cell.set(Ok(value), nil)
	v.cell.notify()
}

// Value reads the current value directly, without going through
// Output's Ok/Active/Error tri-state (Var is always Ok).
func (v *Var[T]) Value() T {
	out, _ := v.cell.get(context.Background())
	val, _ := out.Value()
	return val
}

// constantInput is an Input whose Output never changes. Useful in
// tests and for wrapping a value that genuinely will not vary.
type constantInput[T any] struct {
	out Output[T]
}

// ConstantInput builds an Input that always reports out and never
// notifies subscribers.
func ConstantInput[T any](out Output[T]) Input[T] {
	return &constantInput[T]{out: out}
}

func (c *constantInput[T]) anyInput() {}

func (c *constantInput[T]) Get(context.Context) (Output[T], *JobID) {
	return c.out, nil
}

func (c *constantInput[T]) Subscribe(func()) Unsubscribe {
	return func() {}
}
