package pipeline

// Map2 combines two terms with f, Ok iff both are Ok. It is Pair
// followed by Map, spelled out so call sites never touch Pair2
// directly. One combinator per arity in place of a code-generated
// DeriveN family, since the arities needed here are small and fixed.
func Map2[A, B, T any](a Term[A], b Term[B], label string, f func(A, B) T) Term[T] {
	return Map(Pair(a, b), label, func(p Pair2[A, B]) T {
		return f(p.First, p.Second)
	})
}

// Map3 combines three terms with f, Ok iff all three are Ok.
func Map3[A, B, C, T any](a Term[A], b Term[B], c Term[C], label string, f func(A, B, C) T) Term[T] {
	return Map(Pair(Pair(a, b), c), label, func(p Pair2[Pair2[A, B], C]) T {
		return f(p.First.First, p.First.Second, p.Second)
	})
}

// Map4 combines four terms with f, Ok iff all four are Ok.
func Map4[A, B, C, D, T any](a Term[A], b Term[B], c Term[C], d Term[D], label string, f func(A, B, C, D) T) Term[T] {
	return Map(Pair(Pair(a, b), Pair(c, d)), label, func(p Pair2[Pair2[A, B], Pair2[C, D]]) T {
		return f(p.First.First, p.First.Second, p.Second.First, p.Second.Second)
	})
}

// Seq2 is Map2 specialized to discard both values, useful for
// sequencing two Unit-producing terms that must both succeed without
// All's "concatenate every message" combination semantics applying to
// just the two of them (e.g. when one is a Gate guard).
func Seq2[A, B any](a Term[A], b Term[B], label string) Term[Unit] {
	return Map2(a, b, label, func(A, B) Unit { return Unit{} })
}

// AllOf is All, spelled for a variadic call site instead of a slice
// literal.
func AllOf(xs ...Term[Unit]) Term[Unit] {
	return All(xs)
}

// Const is Map's constant-function case: replace inner's Ok value with
// a different, statically-known value rather than deriving it,
// keeping inner's Analysis edge intact.
func Const[T, U any](inner Term[T], label string, v U) Term[U] {
	return Map(inner, label, func(T) U { return v })
}

// Discard maps inner's Ok value away entirely, keeping only whether
// it succeeded; useful for feeding a Term[T] into All or Gate's
// control position.
func Discard[T any](inner Term[T], label string) Term[Unit] {
	return Const[T, Unit](inner, label, Unit{})
}
