package pipeline

import (
	"context"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
)

// TaskBody is the behavior a concrete pipeline stage (internal/tasks)
// implements. Preload runs once when the node's runner starts, before that
// runner executes its first dispatched run (the engine does not wait for
// preloads before dispatching), mirroring the source's runner preload()
// hook used by heavy model-loading stages; bodies with nothing to preload
// embed NoPreload.
type TaskBody interface {
	Name() string
	Preload(ctx context.Context) error
	Run(ctx context.Context, rt *Runtime) Outcome
}

// NoPreload is embedded by task bodies with no heavy initialization.
type NoPreload struct{}

func (NoPreload) Preload(ctx context.Context) error { return nil }

// Node is one DAG vertex: a Task's model-level record, its behavior, and
// its prerequisite/subsequent edges (pointers to the other Nodes, since
// model.Task only carries the IDs).
type Node struct {
	Task *model.Task
	Body TaskBody

	Prerequisites []*Node
	Subsequents   []*Node
}

func NewNode(tid, name string, body TaskBody) *Node {
	return &Node{Task: model.NewTask(tid, name), Body: body}
}

// AddPrerequisite wires dep -> n, recording the edge on both the model
// layer (tid strings, for serialization) and the engine layer (pointers,
// for scheduling).
func (n *Node) AddPrerequisite(dep *Node) {
	n.Prerequisites = append(n.Prerequisites, dep)
	dep.Subsequents = append(dep.Subsequents, n)
	n.Task.Prerequisites = append(n.Task.Prerequisites, dep.Task.TID)
	dep.Task.Subsequents = append(dep.Task.Subsequents, n.Task.TID)
}

// IsPrerequisiteFulfilled reports whether every prerequisite reached a
// success state (COMPLETED, SKIPPED, SOFT_FAILED).
func (n *Node) IsPrerequisiteFulfilled() bool {
	for _, dep := range n.Prerequisites {
		if !dep.Task.IsSuccess() {
			return false
		}
	}
	return true
}

// FirstUnfulfilledPrerequisite returns the first prerequisite Node that
// didn't reach a success state, for naming in a cancellation message. Nil
// if every prerequisite succeeded.
func (n *Node) FirstUnfulfilledPrerequisite() *Node {
	for _, dep := range n.Prerequisites {
		if !dep.Task.IsSuccess() {
			return dep
		}
	}
	return nil
}
