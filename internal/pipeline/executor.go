package pipeline

import "context"

// Executor runs one dispatched Node to completion. InProcessExecutor runs
// the task body directly in the worker's own goroutine (used by tests and
// lightweight stages); SubprocessExecutor (subprocess.go) re-execs the
// worker binary for full OS-level isolation, per SPEC_FULL.md §4.5.
type Executor interface {
	Execute(ctx context.Context, n *Node, args map[string]any, job *RemoteJob) Outcome
}

// InProcessExecutor runs a Node's body directly, recovering panics into a
// failed outcome.
type InProcessExecutor struct{}

func (InProcessExecutor) Execute(ctx context.Context, n *Node, args map[string]any, job *RemoteJob) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeFailed(panicError{rec})
		}
	}()
	rt := NewRuntime(n.Task.TID, args, job)
	select {
	case <-ctx.Done():
		return OutcomeInterrupted()
	default:
	}
	return n.Body.Run(ctx, rt)
}
