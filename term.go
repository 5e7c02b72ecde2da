package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Unit is the pipeline engine's equivalent of OCaml's unit: a value
// carrying no information, used by All and Gate's control term.
type Unit = struct{}

// Pair2 is the result of pairing two terms.
type Pair2[A, B any] struct {
	First  A
	Second B
}

var termIDCounter uint64

// newTermID allocates a node id at Term construction time (not at
// evaluation time), so that a Term value built once and evaluated
// repeatedly across engine ticks keeps a stable Analysis node id; only
// rebuilding the term tree (e.g. a pipeline() closure that constructs
// fresh Binds every call) produces fresh ids.
func newTermID(kind string) string {
	return fmt.Sprintf("%s-%d", kind, atomic.AddUint64(&termIDCounter, 1))
}

// Term describes a (possibly not yet resolved) computation. Terms are
// immutable descriptions; eval interprets one against an Env, reading
// whatever Inputs it needs and producing both an Output and the
// Analysis node that describes this step.
type Term[T any] interface {
	eval(env *Env) (Output[T], string)
}

// Return builds a Term that always evaluates to Ok(v).
func Return[T any](v T) Term[T] {
	return &returnTerm[T]{id: newTermID("const"), value: v}
}

type returnTerm[T any] struct {
	id    string
	value T
}

func (t *returnTerm[T]) eval(env *Env) (Output[T], string) {
	out := Ok(t.value)
	env.addNode(&Node{ID: t.id, Label: fmt.Sprintf("%v", t.value), Kind: KindConstant, Status: statusFromOutput(out)})
	return out, t.id
}

// Fail builds a Term that always evaluates to an Error.
func Fail[T any](msg Msg) Term[T] {
	return &failTerm[T]{id: newTermID("fail"), msg: msg}
}

type failTerm[T any] struct {
	id  string
	msg Msg
}

func (t *failTerm[T]) eval(env *Env) (Output[T], string) {
	out := Failed[T](t.msg)
	env.addNode(&Node{ID: t.id, Label: string(t.msg), Kind: KindFailed, Status: statusFromOutput(out)})
	return out, t.id
}

// AlwaysActive builds a Term that always evaluates to Active(reason).
func AlwaysActive[T any](reason ActiveReason) Term[T] {
	return &activeTerm[T]{id: newTermID("active"), reason: reason}
}

type activeTerm[T any] struct {
	id     string
	reason ActiveReason
}

func (t *activeTerm[T]) eval(env *Env) (Output[T], string) {
	out := Active[T](t.reason)
	env.addNode(&Node{ID: t.id, Label: t.reason.String(), Kind: KindActive, Status: statusFromOutput(out)})
	return out, t.id
}

// Primitive wraps an Input as a leaf Term: reading it registers the
// evaluation's dependency on that input.
func Primitive[T any](input Input[T], label string) Term[T] {
	return &primitiveTerm[T]{id: newTermID("primitive"), input: input, label: label}
}

type primitiveTerm[T any] struct {
	id    string
	input Input[T]
	label string
}

func (t *primitiveTerm[T]) eval(env *Env) (Output[T], string) {
	out, job := t.input.Get(env.Context())
	if ai, ok := t.input.(AnyInput); ok {
		env.dependOn(ai, t.input.Subscribe)
	}
	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindPrimitive, Status: statusFromOutput(out), JobID: job})
	return out, t.id
}

// Map applies f to the Ok value of inner, passing Active/Error through
// unchanged.
func Map[T, U any](inner Term[T], label string, f func(T) U) Term[U] {
	return &mapTerm[T, U]{id: newTermID("map"), inner: inner, label: label, f: f}
}

type mapTerm[T, U any] struct {
	id    string
	inner Term[T]
	label string
	f     func(T) U
}

func (t *mapTerm[T, U]) eval(env *Env) (Output[U], string) {
	oin, innerID := t.inner.eval(env)
	out := MapOutput(oin, t.f)
	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindMap, Status: statusFromOutput(out)})
	env.addEdge(t.id, innerID, false, "")
	return out, t.id
}

// Pair combines two terms: Ok iff both are Ok (left takes priority on
// Error, then on Active), evaluated left to right.
func Pair[A, B any](a Term[A], b Term[B]) Term[Pair2[A, B]] {
	return &pairTerm[A, B]{id: newTermID("pair"), a: a, b: b}
}

type pairTerm[A, B any] struct {
	id string
	a  Term[A]
	b  Term[B]
}

func (t *pairTerm[A, B]) eval(env *Env) (Output[Pair2[A, B]], string) {
	oa, aID := t.a.eval(env)
	ob, bID := t.b.eval(env)

	var out Output[Pair2[A, B]]
	switch {
	case oa.IsError():
		m, _ := oa.Err()
		out = Failed[Pair2[A, B]](m)
	case ob.IsError():
		m, _ := ob.Err()
		out = Failed[Pair2[A, B]](m)
	case oa.IsActive():
		r, _ := oa.Reason()
		out = Active[Pair2[A, B]](r)
	case ob.IsActive():
		r, _ := ob.Reason()
		out = Active[Pair2[A, B]](r)
	default:
		va, _ := oa.Value()
		vb, _ := ob.Value()
		out = Ok(Pair2[A, B]{First: va, Second: vb})
	}

	env.addNode(&Node{ID: t.id, Label: "pair", Kind: KindPair, Status: statusFromOutput(out)})
	env.addEdge(t.id, aID, false, "first")
	env.addEdge(t.id, bID, false, "second")
	return out, t.id
}

// Bind sequences x into f only once x resolves Ok; while x is Active
// or Error, f is never called and the Bind node reports Blocked,
// carrying x's status through unchanged. label documents the static
// half of the dependency for display before y exists.
func Bind[T, U any](x Term[T], label string, f func(T) Term[U]) Term[U] {
	return &bindTerm[T, U]{id: newTermID("bind"), x: x, label: label, f: f}
}

type bindTerm[T, U any] struct {
	id    string
	x     Term[T]
	label string
	f     func(T) Term[U]
}

func (t *bindTerm[T, U]) eval(env *Env) (Output[U], string) {
	ox, xID := t.x.eval(env)

	if !ox.IsOk() {
		var out Output[U]
		if ox.IsActive() {
			r, _ := ox.Reason()
			out = Active[U](r)
		} else {
			m, _ := ox.Err()
			out = Failed[U](m)
		}
		env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindBind, Status: blockedStatus()})
		env.addEdge(t.id, xID, false, "static")
		return out, t.id
	}

	v, _ := ox.Value()
	y := t.f(v)
	oy, yID := y.eval(env)

	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindBind, Status: statusFromOutput(oy)})
	env.addEdge(t.id, xID, false, "static")
	env.addEdge(t.id, yID, true, "dynamic")
	return oy, t.id
}

// BindInput is Bind specialized to Inputs: once x resolves Ok, f
// produces an Input to read (and subscribe to) rather than another
// Term.
func BindInput[T, U any](x Term[T], label string, f func(T) Input[U]) Term[U] {
	return &bindInputTerm[T, U]{id: newTermID("bindinput"), x: x, label: label, f: f}
}

type bindInputTerm[T, U any] struct {
	id    string
	x     Term[T]
	label string
	f     func(T) Input[U]
}

func (t *bindInputTerm[T, U]) eval(env *Env) (Output[U], string) {
	ox, xID := t.x.eval(env)

	if !ox.IsOk() {
		var out Output[U]
		if ox.IsActive() {
			r, _ := ox.Reason()
			out = Active[U](r)
		} else {
			m, _ := ox.Err()
			out = Failed[U](m)
		}
		env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindBind, Status: blockedStatus()})
		env.addEdge(t.id, xID, false, "static")
		return out, t.id
	}

	v, _ := ox.Value()
	inp := t.f(v)
	out, job := inp.Get(env.Context())
	if ai, ok := inp.(AnyInput); ok {
		env.dependOn(ai, inp.Subscribe)
	}

	leafID := t.id + "-leaf"
	env.addNode(&Node{ID: leafID, Label: t.label, Kind: KindPrimitive, Status: statusFromOutput(out), JobID: job})
	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindBind, Status: statusFromOutput(out)})
	env.addEdge(t.id, xID, false, "static")
	env.addEdge(t.id, leafID, true, "dynamic")
	return out, t.id
}

// State wraps inner so its Output is always Ok, carrying inner's
// status (including Active/Error) as the value. A State node never
// itself reports Active or Error.
func State[T any](inner Term[T]) Term[Output[T]] {
	return &stateTerm[T]{id: newTermID("state"), inner: inner}
}

type stateTerm[T any] struct {
	id    string
	inner Term[T]
}

func (t *stateTerm[T]) eval(env *Env) (Output[Output[T]], string) {
	oin, innerID := t.inner.eval(env)
	out := Ok(oin)
	env.addNode(&Node{ID: t.id, Label: "state", Kind: KindState, Status: statusFromOutput(out)})
	env.addEdge(t.id, innerID, false, "")
	return out, t.id
}

// Catch promotes inner's Error into an Ok(Error ...) value, leaving
// Active to pass through as the outer Term's own Active status.
func Catch[T any](inner Term[T]) Term[Output[T]] {
	return &catchTerm[T]{id: newTermID("catch"), inner: inner}
}

type catchTerm[T any] struct {
	id    string
	inner Term[T]
}

func (t *catchTerm[T]) eval(env *Env) (Output[Output[T]], string) {
	oin, innerID := t.inner.eval(env)

	var out Output[Output[T]]
	if oin.IsActive() {
		r, _ := oin.Reason()
		out = Active[Output[T]](r)
	} else {
		out = Ok(oin)
	}

	env.addNode(&Node{ID: t.id, Label: "catch", Kind: KindCatch, Status: statusFromOutput(out)})
	env.addEdge(t.id, innerID, false, "")
	return out, t.id
}

// Gate always evaluates both ctrl and x (for Analysis completeness);
// the result mirrors x iff ctrl is Ok, otherwise mirrors ctrl's
// Active/Error status.
func Gate[T any](ctrl Term[Unit], x Term[T]) Term[T] {
	return &gateTerm[T]{id: newTermID("gate"), ctrl: ctrl, x: x}
}

type gateTerm[T any] struct {
	id   string
	ctrl Term[Unit]
	x    Term[T]
}

func (t *gateTerm[T]) eval(env *Env) (Output[T], string) {
	octrl, ctrlID := t.ctrl.eval(env)
	ox, xID := t.x.eval(env)

	var out Output[T]
	switch {
	case octrl.IsOk():
		out = ox
	case octrl.IsActive():
		r, _ := octrl.Reason()
		out = Active[T](r)
	default:
		m, _ := octrl.Err()
		out = Failed[T](m)
	}

	env.addNode(&Node{ID: t.id, Label: "gate", Kind: KindGate, Status: statusFromOutput(out)})
	env.addEdge(t.id, ctrlID, false, "ctrl")
	env.addEdge(t.id, xID, false, "value")
	return out, t.id
}

// ListMap evaluates f over every element of xs (once xs itself is
// Ok), preserving input order in the output list. pp labels the edge
// to each element's child node for display.
func ListMap[A, B any](xs Term[[]A], label string, pp func(A) string, f func(A) Term[B]) Term[[]B] {
	return &listMapTerm[A, B]{id: newTermID("list_map"), xs: xs, label: label, pp: pp, f: f}
}

type listMapTerm[A, B any] struct {
	id    string
	xs    Term[[]A]
	label string
	pp    func(A) string
	f     func(A) Term[B]
}

func (t *listMapTerm[A, B]) eval(env *Env) (Output[[]B], string) {
	oxs, xsID := t.xs.eval(env)

	if !oxs.IsOk() {
		var out Output[[]B]
		if oxs.IsActive() {
			r, _ := oxs.Reason()
			out = Active[[]B](r)
		} else {
			m, _ := oxs.Err()
			out = Failed[[]B](m)
		}
		env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindListMap, Status: blockedStatus()})
		env.addEdge(t.id, xsID, false, "source")
		return out, t.id
	}

	elements, _ := oxs.Value()
	results := make([]B, len(elements))
	var errs []Msg
	active := false
	var activeReason ActiveReason

	for i, el := range elements {
		child := t.f(el)
		oc, cid := child.eval(env)
		env.addEdge(t.id, cid, true, t.pp(el))

		switch {
		case oc.IsError():
			m, _ := oc.Err()
			errs = append(errs, m)
		case oc.IsActive():
			if !active {
				active = true
				activeReason, _ = oc.Reason()
			}
		default:
			v, _ := oc.Value()
			results[i] = v
		}
	}

	var out Output[[]B]
	switch {
	case len(errs) > 0:
		out = Failed[[]B](combineMessages(errs))
	case active:
		out = Active[[]B](activeReason)
	default:
		out = Ok(results)
	}

	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindListMap, Status: statusFromOutput(out)})
	env.addEdge(t.id, xsID, false, "source")
	return out, t.id
}

// All combines a set of unit-valued terms: Ok iff all are Ok, Active
// if any remain Active (and none Error), Error otherwise with
// messages concatenated (first few).
func All(xs []Term[Unit]) Term[Unit] {
	return &allTerm{id: newTermID("all"), xs: xs}
}

type allTerm struct {
	id string
	xs []Term[Unit]
}

func (t *allTerm) eval(env *Env) (Output[Unit], string) {
	var errs []Msg
	active := false
	var activeReason ActiveReason

	for _, x := range t.xs {
		ox, xid := x.eval(env)
		env.addEdge(t.id, xid, false, "")

		switch {
		case ox.IsError():
			m, _ := ox.Err()
			errs = append(errs, m)
		case ox.IsActive():
			if !active {
				active = true
				activeReason, _ = ox.Reason()
			}
		}
	}

	var out Output[Unit]
	switch {
	case len(errs) > 0:
		out = Failed[Unit](combineMessages(errs))
	case active:
		out = Active[Unit](activeReason)
	default:
		out = Ok(Unit{})
	}

	env.addNode(&Node{ID: t.id, Label: "all", Kind: KindAll, Status: statusFromOutput(out)})
	return out, t.id
}

// Collect evaluates a fixed, statically-known list of terms and
// gathers their Ok values in order, combined the same way All
// combines Unit terms (Error beats Active beats Ok, messages
// concatenated first-few). Unlike ListMap, the list of terms is fixed
// at construction time rather than derived from a source Term[[]A];
// use Collect when the element terms themselves are already built
// (e.g. one polling Term per statically configured service).
func Collect[T any](xs []Term[T], label string) Term[[]T] {
	return &collectTerm[T]{id: newTermID("collect"), label: label, xs: xs}
}

type collectTerm[T any] struct {
	id    string
	label string
	xs    []Term[T]
}

func (t *collectTerm[T]) eval(env *Env) (Output[[]T], string) {
	results := make([]T, len(t.xs))
	var errs []Msg
	active := false
	var activeReason ActiveReason

	for i, x := range t.xs {
		ox, xid := x.eval(env)
		env.addEdge(t.id, xid, false, "")

		switch {
		case ox.IsError():
			m, _ := ox.Err()
			errs = append(errs, m)
		case ox.IsActive():
			if !active {
				active = true
				activeReason, _ = ox.Reason()
			}
		default:
			v, _ := ox.Value()
			results[i] = v
		}
	}

	var out Output[[]T]
	switch {
	case len(errs) > 0:
		out = Failed[[]T](combineMessages(errs))
	case active:
		out = Active[[]T](activeReason)
	default:
		out = Ok(results)
	}

	env.addNode(&Node{ID: t.id, Label: t.label, Kind: KindAll, Status: statusFromOutput(out)})
	return out, t.id
}

// Component wraps inner under a named node, purely for display: it
// does not change inner's evaluation semantics.
func Component[T any](label string, inner Term[T]) Term[T] {
	return ComponentL[T](NewLabel(label), inner)
}

// ComponentL is Component with a full Label, carrying the label's Meta
// onto the resulting Analysis node (e.g. for a source repository URL
// or job class tag that a renderer wants to key off of).
func ComponentL[T any](label Label, inner Term[T]) Term[T] {
	return &componentTerm[T]{id: newTermID("component"), label: label, inner: inner}
}

type componentTerm[T any] struct {
	id    string
	label Label
	inner Term[T]
}

func (t *componentTerm[T]) eval(env *Env) (Output[T], string) {
	oin, innerID := t.inner.eval(env)
	env.addNode(&Node{ID: t.id, Label: t.label.String(), Kind: KindComponent, Status: statusFromOutput(oin), Meta: t.label.Meta})
	env.addEdge(t.id, innerID, false, "")
	return oin, t.id
}

// Eval runs term against a fresh Env rooted at ctx, returning its
// Output and the Analysis snapshot describing how it got there.
func Eval[T any](ctx context.Context, term Term[T]) (Output[T], Analysis, []dependency) {
	env := newEnv(ctx)
	out, rootID := term.eval(env)
	return out, env.analysis(rootID), env.dependencies()
}
