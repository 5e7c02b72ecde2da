package pipeline

import (
	"fmt"
	"runtime/debug"
)

// CaptureStacks controls whether PipelineError captures a stack trace
// at construction time. Off by default; NewEngine flips it on when
// Config.Debug is set.
var CaptureStacks = false

// PipelineError attributes a failure to the Analysis node (or job) it
// came from. Carries a node id rather than an executor id. In this
// module it wraps store write-through failures; cache publish, monitor
// read/watch and term evaluation failures are reported as Msg values
// and log lines instead.
type PipelineError struct {
	NodeID     string
	Cause      error
	Context    string
	StackTrace []byte
}

func (e *PipelineError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("pipeline error at node %s during %s: %v", e.NodeID, e.Context, e.Cause)
	}
	return fmt.Sprintf("pipeline error at node %s: %v", e.NodeID, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// WrapError builds a PipelineError attributing cause to nodeID within
// context (e.g. "cache publish", "monitor read").
func WrapError(nodeID string, cause error, context string) *PipelineError {
	e := &PipelineError{NodeID: nodeID, Cause: cause, Context: context}
	if CaptureStacks {
		e.StackTrace = debug.Stack()
	}
	return e
}
