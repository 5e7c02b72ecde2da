package extensions

import (
	"fmt"
	"sort"

	"github.com/liveflow/pipeline"
	"github.com/m1gwings/treedrawer/tree"
	"github.com/rs/zerolog"
)

// GraphDebug returns an Observer that, whenever the tick's output is
// an Error, renders the published Analysis as an ASCII tree (rooted at
// analysis.RootID, static edges before dynamic ones) and logs it at
// Error level, the same way a failed dependency graph gets dumped for
// postmortem when a resolution fails.
func GraphDebug[T any](logger zerolog.Logger) pipeline.Observer[T] {
	return func(out pipeline.Output[T], analysis pipeline.Analysis) {
		if !out.IsError() {
			return
		}
		msg, _ := out.Err()
		rendered := renderTree(analysis)
		logger.Error().Str("dependency_graph", rendered).Msg(string(msg))
	}
}

func renderTree(a pipeline.Analysis) string {
	if _, ok := a.Get(); !ok {
		return "(empty analysis)"
	}

	children := make(map[string][]pipeline.Edge, len(a.Nodes))
	for _, e := range a.Edges {
		children[e.From] = append(children[e.From], e)
	}
	for from := range children {
		sort.Slice(children[from], func(i, j int) bool {
			// static edges first, then alphabetical by target for a
			// deterministic rendering.
			ei, ej := children[from][i], children[from][j]
			if ei.Dynamic != ej.Dynamic {
				return !ei.Dynamic
			}
			return ei.To < ej.To
		})
	}

	root := buildNode(a, a.RootID, children, make(map[string]bool))
	if root == nil {
		return "(cyclic or empty analysis)"
	}
	return root.String()
}

func buildNode(a pipeline.Analysis, id string, children map[string][]pipeline.Edge, visited map[string]bool) *tree.Tree {
	if visited[id] {
		return nil
	}
	visited[id] = true

	n, ok := a.Nodes[id]
	label := id
	if ok {
		label = fmt.Sprintf("%s [%s] %s", n.Label, n.Kind, n.Status)
	}
	node := tree.NewTree(tree.NodeString(label))

	for _, edge := range children[id] {
		childTree := buildNode(a, edge.To, children, visited)
		if childTree == nil {
			continue
		}
		appendChild(node, childTree)
	}
	return node
}

// appendChild copies child's structure onto a new child of parent;
// treedrawer's API builds trees by value, so grafting an
// already-built subtree means replaying its structure one level at a
// time.
func appendChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		appendChild(newChild, grandchild)
	}
}
