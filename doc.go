// Package pipeline implements the core of an incremental pipeline engine:
// a library for describing long-running, continuously-evaluated
// computations ("pipelines") whose inputs change over time.
//
// # Overview
//
// A pipeline is built out of Terms. A Term[T] is an immutable
// description of a computation that yields a value of type T; terms
// compose applicatively (Pair, Map) and monadically (Bind). Evaluating
// a term produces an Output[T] (Ok / Active / Error) and an Analysis:
// a labeled dependency graph describing which primitive components
// produced the result and which are blocked on which inputs.
//
// Primitive leaf terms read from Inputs — live, subscribable cells
// typically backed by a Monitor, which wraps a read/watch pair of
// callbacks supplied by a plugin (a git poller, a webhook receiver, a
// filesystem watcher, ...).
//
// An Engine ties the two together: it evaluates a root term, publishes
// the resulting Output and Analysis, subscribes to every Input the
// evaluation depended on, and waits for any of them to signal change
// before re-evaluating.
//
// # Basic usage
//
//	counter := pipeline.NewMonitor(func(ctx context.Context) (int, error) {
//	    return readCounter(), nil
//	}, pipeline.WatchNever[int](), "counter")
//
//	doubled := pipeline.Bind(
//	    pipeline.Primitive[int](counter, "counter"),
//	    "double",
//	    func(n int) pipeline.Term[int] { return pipeline.Return(n * 2) },
//	)
//
//	eng := pipeline.NewEngine(pipeline.Config{}, func() pipeline.Term[int] { return doubled })
//	go eng.Thread(ctx)
//
// # Output cache
//
// Side-effecting operations (posting a build status, triggering a
// deploy) are coordinated through a Cache: a deduplicating,
// at-most-one-in-flight memo for one Operation, keyed by the
// Operation's Key, with rebuild-on-demand and schedule-based expiry.
//
// # Thread safety
//
// Term evaluation is single-threaded and cooperative: one Engine runs
// one evaluation at a time. Inputs, Monitors, and the Cache are safe
// for concurrent access from the goroutines their own callbacks spawn.
package pipeline
