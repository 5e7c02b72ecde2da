package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// NodeKind is the closed set of analysis node shapes, one per Term
// variant (plus Constant and Failed/Active for the leaf terms that
// don't carry their own dedicated struct in this enumeration).
type NodeKind string

const (
	KindConstant  NodeKind = "constant"
	KindPrimitive NodeKind = "primitive"
	KindBind      NodeKind = "bind"
	KindPair      NodeKind = "pair"
	KindMap       NodeKind = "map"
	KindGate      NodeKind = "gate"
	KindState     NodeKind = "state"
	KindCatch     NodeKind = "catch"
	KindAll       NodeKind = "all"
	KindListMap   NodeKind = "list_map"
	KindFailed    NodeKind = "failed"
	KindActive    NodeKind = "active"
	KindComponent NodeKind = "component"
)

// Phase is the coarse status of an Analysis node.
type Phase string

const (
	PhaseReady   Phase = "ready"
	PhaseActive  Phase = "active"
	PhaseBlocked Phase = "blocked"
)

// Status is the node-level rendering of an Output, kept separate from
// Output itself because a Bind node whose upstream hasn't resolved yet
// is Blocked — a state Output has no case for.
type Status struct {
	Phase  Phase
	Ok     bool
	Reason ActiveReason
	Err    Msg
}

func statusFromOutput[T any](o Output[T]) Status {
	switch {
	case o.IsOk():
		return Status{Phase: PhaseReady, Ok: true}
	case o.IsActive():
		r, _ := o.Reason()
		return Status{Phase: PhaseActive, Reason: r}
	default:
		m, _ := o.Err()
		return Status{Phase: PhaseReady, Ok: false, Err: m}
	}
}

func blockedStatus() Status { return Status{Phase: PhaseBlocked} }

func (s Status) String() string {
	switch s.Phase {
	case PhaseReady:
		if s.Ok {
			return "ready(ok)"
		}
		return fmt.Sprintf("ready(err: %s)", s.Err)
	case PhaseActive:
		return fmt.Sprintf("active(%s)", s.Reason)
	default:
		return "blocked"
	}
}

// Node is one vertex of an Analysis graph.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status Status
	JobID  *JobID
	Meta   map[string]any
}

// Edge is a dependency from a derived node to one it depends on. For
// Bind nodes, Dynamic distinguishes the child discovered only after
// the bound value resolves from the static upstream term.
type Edge struct {
	From    string
	To      string
	Dynamic bool
	Role    string
}

// Analysis is the labeled DAG constructed during one evaluation pass:
// one node per component, edges for each dependency. Node ids are
// deterministic for the same term structure (see Term construction:
// ids are assigned once, when a Term value is built, not at eval
// time), so repeated evaluation of an unchanged term tree yields a
// structurally equal Analysis.
type Analysis struct {
	RootID string
	Nodes  map[string]*Node
	Edges  []Edge
}

// Booting is the sentinel Analysis published before the first
// evaluation completes.
func Booting() Analysis {
	root := &Node{ID: "booting", Label: "booting", Kind: KindActive, Status: Status{Phase: PhaseActive, Reason: Running}}
	return Analysis{RootID: root.ID, Nodes: map[string]*Node{root.ID: root}}
}

// Get returns the root node of the analysis, if any.
func (a Analysis) Get() (*Node, bool) {
	n, ok := a.Nodes[a.RootID]
	return n, ok
}

// JobID returns the job id attributed to the root node, if any.
func (a Analysis) JobID() (JobID, bool) {
	n, ok := a.Get()
	if !ok || n.JobID == nil {
		return "", false
	}
	return *n.JobID, true
}

// analysisBuilder accumulates nodes and edges during one evaluation
// pass. It is not safe for concurrent use; evaluation is single
// threaded.
type analysisBuilder struct {
	nodes map[string]*Node
	edges []Edge
}

func newAnalysisBuilder() *analysisBuilder {
	return &analysisBuilder{nodes: make(map[string]*Node)}
}

func (b *analysisBuilder) addNode(n *Node) {
	b.nodes[n.ID] = n
}

func (b *analysisBuilder) addEdge(from, to string, dynamic bool, role string) {
	b.edges = append(b.edges, Edge{From: from, To: to, Dynamic: dynamic, Role: role})
}

func (b *analysisBuilder) build(rootID string) Analysis {
	return Analysis{RootID: rootID, Nodes: b.nodes, Edges: b.edges}
}

// PPDot renders the analysis as a Graphviz "dot" text, the canonical
// choice for a generic labeled DAG; urlOf maps a job id to an
// optional hyperlink. Rendering is the engine's only opinion about
// visualization — any other textual graph syntax is an adapter over
// the same Node/Edge data.
func (a Analysis) PPDot(urlOf func(JobID) (string, bool)) string {
	var b strings.Builder
	b.WriteString("digraph analysis {\n")
	b.WriteString("  rankdir=LR;\n")

	ids := make([]string, 0, len(a.Nodes))
	for id := range a.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := a.Nodes[id]
		shape, color := dotStyle(n.Kind, n.Status)
		label := fmt.Sprintf("%s\\n%s\\n%s", n.Label, n.Kind, n.Status)
		href := ""
		if n.JobID != nil && urlOf != nil {
			if u, ok := urlOf(*n.JobID); ok {
				href = fmt.Sprintf(`, URL="%s"`, u)
			}
		}
		fmt.Fprintf(&b, "  %q [label=%q, shape=%s, color=%s%s];\n", id, label, shape, color, href)
	}

	for _, e := range a.Edges {
		style := "solid"
		if e.Dynamic {
			style = "dashed"
		}
		label := ""
		if e.Role != "" {
			label = fmt.Sprintf(` label=%q,`, e.Role)
		}
		fmt.Fprintf(&b, "  %q -> %q [%s style=%s];\n", e.From, e.To, label, style)
	}

	b.WriteString("}\n")
	return b.String()
}

func dotStyle(kind NodeKind, s Status) (shape, color string) {
	shape = "box"
	if kind == KindPrimitive {
		shape = "ellipse"
	}
	switch s.Phase {
	case PhaseReady:
		if s.Ok {
			return shape, "darkgreen"
		}
		return shape, "red"
	case PhaseActive:
		if s.Reason == Running {
			return shape, "blue"
		}
		return shape, "orange"
	default:
		return shape, "gray"
	}
}

// combineMessages joins up to 3 error messages so a multi-branch
// failure reads as one concise line instead of an unbounded dump.
func combineMessages(msgs []Msg) Msg {
	const max = 3
	if len(msgs) > max {
		rest := len(msgs) - max
		return Msg(fmt.Sprintf("%s (and %d more)", joinMsgs(msgs[:max]), rest))
	}
	return joinMsgs(msgs)
}

func joinMsgs(msgs []Msg) Msg {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = string(m)
	}
	return Msg(strings.Join(parts, "; "))
}
