package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes an Engine's tick loop. Zero-value fields fall back to
// DefaultConfig's values via WithDefaults.
type Config struct {
	// CoalesceWindow is the minimum spacing between the start of two
	// ticks, a starvation guard against tight spinning when many
	// refreshes land at once. Default 100ms.
	CoalesceWindow time.Duration
	// ShutdownGrace is a shutdown deadline carried in the configuration
	// (and loaded by package config). Thread does not consult it: it
	// returns as soon as its context is cancelled and does not wait for
	// in-flight cache jobs.
	ShutdownGrace time.Duration
	// Debug captures a stack trace on every PipelineError.
	Debug bool
}

// DefaultConfig returns the engine's default tuning.
func DefaultConfig() Config {
	return Config{
		CoalesceWindow: 100 * time.Millisecond,
		ShutdownGrace:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = d.CoalesceWindow
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}

// Broadcaster is the engine-owned fan-out object that turns one
// external signal (a file change, a cron tick, an HTTP POST) into a
// "rerun now" wake of the tick loop, without any package-level state
// (Design Notes §9: avoid global state in the rewrite). Monitors and
// concrete input plugins that need to force an immediate re-evaluation
// (rather than waiting for their own Input subscription to fire) hold
// a reference to the Engine's Broadcaster.
type Broadcaster struct {
	mu      sync.Mutex
	wake    chan struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{wake: make(chan struct{}, 1)}
}

// Fire requests an immediate re-evaluation. Safe to call concurrently
// and any number of times between ticks; requests coalesce.
func (b *Broadcaster) Fire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Observer receives every published (Output, Analysis) pair. Engine
// calls it synchronously from the tick loop; it must not block for
// long or it will delay the next subscription setup.
type Observer[T any] func(Output[T], Analysis)

// Engine runs the re-evaluate/publish/subscribe/wait loop of §4.7
// against a pipeline function that builds a fresh Term every tick.
type Engine[T any] struct {
	config      Config
	pipeline    func() Term[T]
	broadcaster *Broadcaster
	graph       *reactiveGraph

	mu        sync.RWMutex
	observers []Observer[T]
	analysis  Analysis
}

// NewEngine builds an Engine around pipeline. pipeline is called
// once per tick, so it
// is expected to construct (or reuse) a Term describing the current
// desired computation.
func NewEngine[T any](config Config, pipeline func() Term[T]) *Engine[T] {
	CaptureStacks = CaptureStacks || config.Debug
	return &Engine[T]{
		config:      config.withDefaults(),
		pipeline:    pipeline,
		broadcaster: newBroadcaster(),
		graph:       newReactiveGraph(),
		analysis:    Booting(),
	}
}

// Broadcaster returns the engine's fan-out object, for wiring into
// monitors/input plugins that need to force an immediate rerun (e.g.
// inputs/webhook on every received POST).
func (e *Engine[T]) Broadcaster() *Broadcaster { return e.broadcaster }

// Observe registers an observer called with every published output.
// It is not retroactively called with the current state.
func (e *Engine[T]) Observe(obs Observer[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// Analysis returns the most recently published Analysis snapshot
// (Booting() before the first tick completes).
func (e *Engine[T]) Analysis() Analysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.analysis
}

// Thread runs the evaluation loop until ctx is cancelled, per §4.7:
//
//  1. Evaluate pipeline() yielding (output, analysis, deps).
//  2. Publish output and analysis atomically to observers.
//  3. Subscribe a one-shot refresh on every input in deps.
//  4. Suspend until any refresh fires or Broadcaster.Fire is called.
//  5. Unsubscribe, go to 1.
//
// Thread only returns once ctx is cancelled, matching the "runs
// forever, returns only on cancellation" contract.
func (e *Engine[T]) Thread(ctx context.Context) error {
	var lastTick time.Time

	for {
		if since := time.Since(lastTick); since < e.config.CoalesceWindow {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.config.CoalesceWindow - since):
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastTick = time.Now()
		out, analysis, deps, err := e.evalTick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("pipeline evaluation panicked, will retry next tick")
		} else {
			e.publish(out, analysis)
		}

		e.graph.Reset(analysis.RootID, deps)

		if waitErr := e.waitForRefresh(ctx, deps); waitErr != nil {
			return waitErr
		}
	}
}

// evalTick runs one evaluation, recovering from a panic in pipeline()
// or in a Term's eval so one bad factory or eval call fails the tick
// instead of killing the whole loop.
func (e *Engine[T]) evalTick(ctx context.Context) (out Output[T], analysis Analysis, deps []dependency, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic evaluating pipeline: %v\n%s", r, stack)
		}
	}()

	term := e.pipeline()
	out, analysis, deps = Eval(ctx, term)
	return out, analysis, deps, nil
}

func (e *Engine[T]) publish(out Output[T], analysis Analysis) {
	e.mu.Lock()
	e.analysis = analysis
	observers := make([]Observer[T], len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, obs := range observers {
		obs(out, analysis)
	}
}

// waitForRefresh subscribes a one-shot refresh to every dependency and
// blocks until one fires, ctx is cancelled, or Broadcaster.Fire is
// called, then unsubscribes all of them.
func (e *Engine[T]) waitForRefresh(ctx context.Context, deps []dependency) error {
	woke := make(chan struct{}, 1)
	var once sync.Once
	wake := func() {
		once.Do(func() {
			select {
			case woke <- struct{}{}:
			default:
			}
		})
	}

	unsubs := make([]Unsubscribe, 0, len(deps))
	for _, d := range deps {
		unsubs = append(unsubs, d.subscribe(wake))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-woke:
		return nil
	case <-e.broadcaster.wake:
		return nil
	}
}
