package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnEvaluatesOk(t *testing.T) {
	out, analysis, deps := Eval(context.Background(), Return(5))
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Empty(t, deps)
	root, ok := analysis.Get()
	require.True(t, ok)
	assert.Equal(t, KindConstant, root.Kind)
}

func TestFailEvaluatesError(t *testing.T) {
	out, _, _ := Eval(context.Background(), Fail[int]("broken"))
	assert.True(t, out.IsError())
	m, _ := out.Err()
	assert.Equal(t, Msg("broken"), m)
}

func TestMapPropagatesActiveAndError(t *testing.T) {
	activeOut, _, _ := Eval(context.Background(), Map(AlwaysActive[int](Running), "m", func(n int) int { return n + 1 }))
	assert.True(t, activeOut.IsActive())

	errOut, _, _ := Eval(context.Background(), Map(Fail[int]("x"), "m", func(n int) int { return n + 1 }))
	assert.True(t, errOut.IsError())

	okOut, _, _ := Eval(context.Background(), Map(Return(1), "m", func(n int) int { return n + 1 }))
	v, _ := okOut.Value()
	assert.Equal(t, 2, v)
}

func TestPairPriorityErrorOverActive(t *testing.T) {
	out, _, _ := Eval(context.Background(), Pair(Fail[int]("bad"), AlwaysActive[string](Running)))
	assert.True(t, out.IsError())

	out2, _, _ := Eval(context.Background(), Pair(AlwaysActive[int](Running), Return("ok")))
	assert.True(t, out2.IsActive())

	out3, _, _ := Eval(context.Background(), Pair(Return(1), Return("ok")))
	v, _ := out3.Value()
	assert.Equal(t, Pair2[int, string]{First: 1, Second: "ok"}, v)
}

func TestBindBlockedWhileUpstreamUnresolved(t *testing.T) {
	called := false
	term := Bind(AlwaysActive[int](Running), "bind", func(n int) Term[int] {
		called = true
		return Return(n * 2)
	})
	out, analysis, _ := Eval(context.Background(), term)
	assert.True(t, out.IsActive())
	assert.False(t, called)
	root, _ := analysis.Get()
	assert.Equal(t, PhaseBlocked, root.Status.Phase)
}

func TestBindRunsOnceUpstreamOk(t *testing.T) {
	out, analysis, _ := Eval(context.Background(), Bind(Return(3), "bind", func(n int) Term[int] {
		return Return(n * 2)
	}))
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, 6, v)

	var dynamicSeen bool
	for _, e := range analysis.Edges {
		if e.Dynamic {
			dynamicSeen = true
		}
	}
	assert.True(t, dynamicSeen)
}

func TestStateNeverItselfFailsOrBlocks(t *testing.T) {
	out, _, _ := Eval(context.Background(), State(Fail[int]("x")))
	require.True(t, out.IsOk())
	inner, _ := out.Value()
	assert.True(t, inner.IsError())
}

func TestCatchPromotesErrorToOk(t *testing.T) {
	out, _, _ := Eval(context.Background(), Catch(Fail[int]("oops")))
	require.True(t, out.IsOk())
	inner, _ := out.Value()
	assert.True(t, inner.IsError())

	activeOut, _, _ := Eval(context.Background(), Catch(AlwaysActive[int](Running)))
	assert.True(t, activeOut.IsActive())
}

func TestGateMirrorsControlStatus(t *testing.T) {
	out, _, _ := Eval(context.Background(), Gate(Fail[Unit]("closed"), Return(1)))
	assert.True(t, out.IsError())

	out2, _, _ := Eval(context.Background(), Gate(Return(Unit{}), Return(1)))
	v, _ := out2.Value()
	assert.Equal(t, 1, v)
}

func TestListMapPreservesOrderAndCombinesErrors(t *testing.T) {
	xs := Return([]int{1, 2, 3})
	term := ListMap(xs, "lm", func(n int) string { return "" }, func(n int) Term[int] {
		if n == 2 {
			return Fail[int]("bad element")
		}
		return Return(n * 10)
	})
	out, _, _ := Eval(context.Background(), term)
	assert.True(t, out.IsError())

	allOk := ListMap(xs, "lm", func(n int) string { return "" }, func(n int) Term[int] {
		return Return(n * 10)
	})
	out2, _, _ := Eval(context.Background(), allOk)
	v, ok := out2.Value()
	require.True(t, ok)
	assert.Equal(t, []int{10, 20, 30}, v)
}

func TestAllCombinesUnitTerms(t *testing.T) {
	out, _, _ := Eval(context.Background(), All([]Term[Unit]{Return(Unit{}), Return(Unit{})}))
	assert.True(t, out.IsOk())

	out2, _, _ := Eval(context.Background(), All([]Term[Unit]{Return(Unit{}), Fail[Unit]("e1"), Fail[Unit]("e2")}))
	assert.True(t, out2.IsError())
	m, _ := out2.Err()
	assert.Contains(t, string(m), "e1")
	assert.Contains(t, string(m), "e2")
}

func TestComponentPassesThroughMeta(t *testing.T) {
	label := NewLabel("svc").WithMeta("tier", "gold")
	out, analysis, _ := Eval(context.Background(), ComponentL(label, Return(1)))
	v, _ := out.Value()
	assert.Equal(t, 1, v)
	root, _ := analysis.Get()
	assert.Equal(t, "gold", root.Meta["tier"])
}

func TestCollectGathersInOrder(t *testing.T) {
	out, _, _ := Eval(context.Background(), Collect([]Term[int]{Return(1), Return(2), Return(3)}, "collect"))
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestTermIDsStableAcrossRepeatedEval(t *testing.T) {
	term := Return(1)
	_, a1, _ := Eval(context.Background(), term)
	_, a2, _ := Eval(context.Background(), term)
	assert.Equal(t, a1.RootID, a2.RootID)
}

func TestMap2And3(t *testing.T) {
	out, _, _ := Eval(context.Background(), Map2(Return(2), Return(3), "mul", func(a, b int) int { return a * b }))
	v, _ := out.Value()
	assert.Equal(t, 6, v)

	out2, _, _ := Eval(context.Background(), Map3(Return(1), Return(2), Return(3), "sum", func(a, b, c int) int { return a + b + c }))
	v2, _ := out2.Value()
	assert.Equal(t, 6, v2)
}
