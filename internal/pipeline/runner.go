package pipeline

import (
	"context"
	"sync"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"go.uber.org/zap"
)

// nodeRunner owns one Node's long-lived execution slot: it preloads once,
// then blocks for dispatched argument sets, running at most one instance
// at a time (spec.md §4.5 "engine runs at most one instance of each Task
// at a time"). Each dispatched run gets its own cancelable context so
// interrupt() only affects the in-flight run, not future ones.
type nodeRunner struct {
	node     *Node
	job      *RemoteJob
	logger   *zap.Logger
	executor Executor

	argsCh chan map[string]any
	stopCh chan struct{}

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func newNodeRunner(n *Node, job *RemoteJob, logger *zap.Logger, executor Executor) *nodeRunner {
	if executor == nil {
		executor = InProcessExecutor{}
	}
	return &nodeRunner{
		node:     n,
		job:      job,
		logger:   logger,
		executor: executor,
		argsCh:   make(chan map[string]any, 1),
		stopCh:   make(chan struct{}),
	}
}

func (r *nodeRunner) dispatch(args map[string]any) {
	select {
	case r.argsCh <- args:
	default:
		r.logger.Warn("node already has a pending dispatch", zap.String("task", r.node.Task.Name))
	}
}

func (r *nodeRunner) interrupt() {
	r.node.Task.Update(model.TaskStatusInterrupting, "")
	r.mu.Lock()
	cancel := r.cancelFunc
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *nodeRunner) stop() {
	close(r.stopCh)
}

// loop is the runner goroutine body: preload once, then execute dispatched
// runs until stopped.
func (r *nodeRunner) loop(ctx context.Context, results chan<- nodeResult) {
	if err := r.node.Body.Preload(ctx); err != nil {
		r.logger.Error("preload failed", zap.String("task", r.node.Task.Name), zap.Error(err))
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case args := <-r.argsCh:
			r.execute(ctx, args, results)
		}
	}
}

func (r *nodeRunner) execute(parent context.Context, args map[string]any, results chan<- nodeResult) {
	runCtx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancelFunc = cancel
	r.mu.Unlock()
	defer cancel()

	r.node.Task.Update(model.TaskStatusRunning, "")
	r.job.UpdateTask(r.node.Task.TID, model.TaskStatusRunning, "")

	outcome := r.runWithRecover(runCtx, args)

	status := outcomeTaskStatus(outcome)
	message := outcome.Message
	if message == "" && outcome.Err != nil {
		message = outcome.Err.Error()
	}
	r.node.Task.Update(status, message)
	r.node.Task.Done()
	r.job.UpdateTask(r.node.Task.TID, status, message)

	results <- nodeResult{node: r.node, outcome: outcome}
}

// runWithRecover invokes the configured Executor, recovering any panic
// that escapes it into OutcomeFailed so a single misbehaving task body
// can never crash the worker process (spec.md §7 propagation policy).
func (r *nodeRunner) runWithRecover(ctx context.Context, args map[string]any) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task body panicked", zap.String("task", r.node.Task.Name), zap.Any("panic", rec))
			outcome = OutcomeFailed(panicError{rec})
		}
	}()
	return r.executor.Execute(ctx, r.node, args, r.job)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "task panicked" }

func outcomeTaskStatus(o Outcome) model.TaskStatus {
	switch {
	case o.Completed():
		return model.TaskStatusCompleted
	case o.SoftFailed():
		return model.TaskStatusSoftFailed
	case o.Interrupted():
		return model.TaskStatusInterrupted
	default:
		return model.TaskStatusFailed
	}
}
