package pipeline

import "context"

// dependency pairs an Input discovered during evaluation with the
// subscribe closure the engine needs to react to its later changes.
type dependency struct {
	input     AnyInput
	subscribe func(refresh func()) Unsubscribe
}

// Env is the per-evaluation environment threaded through Term.eval: it
// carries the context for any blocking reads and accumulates both the
// Analysis graph and the set of Inputs this evaluation depended on, so
// the engine knows what to subscribe to before waiting for the next
// change. One Env is built fresh for every tick; it is not safe for
// concurrent use, since a single goroutine drives each evaluation.
type Env struct {
	ctx     context.Context
	builder *analysisBuilder
	deps    map[AnyInput]dependency
	order   []AnyInput
}

func newEnv(ctx context.Context) *Env {
	return &Env{
		ctx:     ctx,
		builder: newAnalysisBuilder(),
		deps:    make(map[AnyInput]dependency),
	}
}

// Context returns the evaluation's context, for Terms that read
// blocking or cancellable external state (Primitive, BindInput).
func (e *Env) Context() context.Context { return e.ctx }

// dependOn records that this evaluation read from input, so the
// engine can later subscribe to it. Recording the same input twice in
// one evaluation is a no-op after the first.
func (e *Env) dependOn(input AnyInput, subscribe func(refresh func()) Unsubscribe) {
	if _, seen := e.deps[input]; seen {
		return
	}
	e.deps[input] = dependency{input: input, subscribe: subscribe}
	e.order = append(e.order, input)
}

// dependencies returns the Inputs this evaluation read from, in first-
// read order.
func (e *Env) dependencies() []dependency {
	out := make([]dependency, len(e.order))
	for i, in := range e.order {
		out[i] = e.deps[in]
	}
	return out
}

func (e *Env) addNode(n *Node)                                      { e.builder.addNode(n) }
func (e *Env) addEdge(from, to string, dynamic bool, role string)    { e.builder.addEdge(from, to, dynamic, role) }
func (e *Env) analysis(rootID string) Analysis                      { return e.builder.build(rootID) }
