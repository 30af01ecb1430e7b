package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"go.uber.org/zap"
)

// Engine runs a DAG of Nodes to completion: readiness tracking via
// prerequisite countdown (Kahn's algorithm), one concurrent execution per
// Node, interrupt propagation, and final job-status computation. Grounded
// on original_source's worker/pipeline/pipeline.py scheduling loop and the
// channel-based ready-queue idiom from the DAG scheduler reference
// example, adapted from its condition-variable wait to Go channels.
type Engine struct {
	job      *RemoteJob
	nodes    []*Node
	logger   *zap.Logger
	executor Executor

	identifier string
}

// NewEngine builds an Engine. executor may be nil, which defaults every
// node to InProcessExecutor; pass a *SubprocessExecutor for full
// OS-process isolation per task.
func NewEngine(job *RemoteJob, nodes []*Node, logger *zap.Logger, executor Executor) *Engine {
	return &Engine{job: job, nodes: nodes, logger: logger, executor: executor}
}

type nodeResult struct {
	node    *Node
	outcome Outcome
}

// Run executes every node to completion, respecting actions delivered on
// actionCh (STOP interrupts every task), and finalizes the job when done.
func (e *Engine) Run(ctx context.Context, actionCh <-chan model.JobAction) {
	e.job.UpdateStatus(model.JobStatusRunning)

	runners := make(map[*Node]*nodeRunner, len(e.nodes))
	results := make(chan nodeResult, len(e.nodes))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range e.nodes {
		r := newNodeRunner(n, e.job, e.logger, e.executor)
		runners[n] = r
		wg.Add(1)
		go func(n *Node, r *nodeRunner) {
			defer wg.Done()
			r.loop(runCtx, results)
		}(n, r)
	}

	inDegree := map[*Node]int{}
	var pending []*Node
	for _, n := range e.nodes {
		inDegree[n] = len(n.Prerequisites)
		if inDegree[n] == 0 {
			pending = append(pending, n)
		}
	}

	running := map[*Node]bool{}
	interrupting := false

	// dispatch reports whether it canceled n, so its subsequents can be
	// counted down (and canceled in turn) without waiting on a result.
	dispatch := func(n *Node) bool {
		if !n.Task.IsPending() {
			return false
		}
		if !n.IsPrerequisiteFulfilled() {
			reason := "prerequisite not fulfilled"
			if dep := n.FirstUnfulfilledPrerequisite(); dep != nil {
				reason = fmt.Sprintf("prerequisite %s (%s) not fulfilled", dep.Task.Name, dep.Task.TID)
			}
			n.Task.Update(model.TaskStatusCanceled, reason)
			e.job.UpdateTask(n.Task.TID, model.TaskStatusCanceled, reason)
			return true
		}
		args := e.mergeArgs(n)
		n.Task.Update(model.TaskStatusQueued, "")
		e.job.UpdateTask(n.Task.TID, model.TaskStatusQueued, "")
		running[n] = true
		runners[n].dispatch(args)
		return false
	}

	for len(pending) > 0 || len(running) > 0 {
		for len(pending) > 0 {
			n := pending[0]
			pending = pending[1:]
			if dispatch(n) {
				for _, sub := range n.Subsequents {
					inDegree[sub]--
					if inDegree[sub] == 0 {
						pending = append(pending, sub)
					}
				}
			}
		}

		if len(running) == 0 {
			break
		}

		select {
		case action, ok := <-actionCh:
			if ok && action == model.JobActionStop && !interrupting {
				interrupting = true
				e.logger.Info("job stop requested, interrupting tasks")
				e.job.UpdateStatus(model.JobStatusInterrupting)
				for n := range running {
					runners[n].interrupt()
				}
			}
		case res := <-results:
			delete(running, res.node)
			if args, ok := res.node.Task.PassingArgs["identifier"]; ok {
				if s, ok := args.(string); ok {
					e.identifier = s
				}
			}
			for _, sub := range res.node.Subsequents {
				inDegree[sub]--
				if inDegree[sub] == 0 {
					pending = append(pending, sub)
				}
			}
		}
	}

	for _, r := range runners {
		r.stop()
	}
	wg.Wait()

	e.job.Done()
}

// mergeArgs assembles a node's input args: every prerequisite's
// passing_args plus {media: job.media}, per spec.md §4.5 step 3.
func (e *Engine) mergeArgs(n *Node) map[string]any {
	args := map[string]any{}
	for _, dep := range n.Prerequisites {
		for k, v := range dep.Task.PassingArgs {
			args[k] = v
		}
	}
	args["media"] = e.job.Media()
	if e.identifier != "" {
		args["identifier"] = e.identifier
	}
	return args
}
