package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReactiveGraphResetTracksDependents(t *testing.T) {
	g := newReactiveGraph()
	v := NewVar(0)

	g.Reset("root-1", []dependency{{input: v}})
	assert.ElementsMatch(t, []string{"root-1"}, g.Dependents(v))
}

func TestReactiveGraphResetReplacesPreviousDeps(t *testing.T) {
	g := newReactiveGraph()
	v1 := NewVar(0)
	v2 := NewVar("x")

	g.Reset("root-1", []dependency{{input: v1}})
	g.Reset("root-1", []dependency{{input: v2}})

	assert.Empty(t, g.Dependents(v1))
	assert.ElementsMatch(t, []string{"root-1"}, g.Dependents(v2))
}

func TestAppendUniqueAndRemoveElement(t *testing.T) {
	s := appendUnique([]string{"a"}, "b")
	s = appendUnique(s, "a")
	assert.Equal(t, []string{"a", "b"}, s)

	s = removeElement(s, "a")
	assert.Equal(t, []string{"b"}, s)
}
