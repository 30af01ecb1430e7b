package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingBinder is a minimal Binder that just remembers every patch it
// was handed, so tests can assert on the forwarded update stream without a
// real master connection.
type recordingBinder struct {
	mu      sync.Mutex
	patches []JobUpdate
}

func (b *recordingBinder) GetJobInfo() (*model.Job, error) { return nil, nil }
func (b *recordingBinder) Listen() <-chan model.JobAction  { return make(chan model.JobAction) }
func (b *recordingBinder) Update(patch JobUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patches = append(b.patches, patch)
}
func (b *recordingBinder) Close() error { return nil }

// fnBody adapts a plain function into a TaskBody for test fixtures.
type fnBody struct {
	NoPreload
	name string
	run  func(ctx context.Context, rt *Runtime) Outcome
}

func (f *fnBody) Name() string { return f.name }
func (f *fnBody) Run(ctx context.Context, rt *Runtime) Outcome { return f.run(ctx, rt) }

func newTestJob() (*RemoteJob, *recordingBinder) {
	binder := &recordingBinder{}
	job := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{URL: "https://example.com/x"})
	return NewRemoteJob(job, binder, zap.NewNop()), binder
}

func TestEngineRunsLinearDAGInOrder(t *testing.T) {
	rj, _ := newTestJob()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	a := NewNode("a", "a", &fnBody{name: "a", run: func(ctx context.Context, rt *Runtime) Outcome {
		record("a")
		rt.SetPassingArgs(map[string]any{"from_a": 1})
		return OutcomeCompleted()
	}})
	b := NewNode("b", "b", &fnBody{name: "b", run: func(ctx context.Context, rt *Runtime) Outcome {
		v, ok := rt.Arg("from_a")
		assert.True(t, ok, "b must see a's passing args")
		assert.Equal(t, 1, v)
		record("b")
		return OutcomeCompleted()
	}})
	b.AddPrerequisite(a)
	rj.InitTasks([]*model.Task{a.Task, b.Task})

	engine := NewEngine(rj, []*Node{a, b}, zap.NewNop(), InProcessExecutor{})

	done := make(chan struct{})
	go func() {
		engine.Run(context.Background(), make(chan model.JobAction))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish in time")
	}

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, model.TaskStatusCompleted, a.Task.Status)
	assert.Equal(t, model.TaskStatusCompleted, b.Task.Status)
}

// TestInitTasksForwardsExactlyTheDAGsTaskList diffs the InitTasks patch a
// binder receives against the Nodes' own Task records: InitTasks must
// forward the identical slice, not a reordered or filtered copy.
func TestInitTasksForwardsExactlyTheDAGsTaskList(t *testing.T) {
	rj, binder := newTestJob()

	a := NewNode("a", "a", &fnBody{name: "a"})
	b := NewNode("b", "b", &fnBody{name: "b"})
	b.AddPrerequisite(a)

	want := []*model.Task{a.Task, b.Task}
	rj.InitTasks(want)

	binder.mu.Lock()
	require.Len(t, binder.patches, 1)
	got := binder.patches[0].InitTasks
	binder.mu.Unlock()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("InitTasks patch mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineCancelsDependentsOfAFailedPrerequisite(t *testing.T) {
	rj, _ := newTestJob()

	a := NewNode("a", "a", &fnBody{name: "a", run: func(ctx context.Context, rt *Runtime) Outcome {
		return OutcomeFailed(assert.AnError)
	}})
	b := NewNode("b", "b", &fnBody{name: "b", run: func(ctx context.Context, rt *Runtime) Outcome {
		t.Fatal("b must never run once its prerequisite failed")
		return OutcomeCompleted()
	}})
	b.AddPrerequisite(a)

	engine := NewEngine(rj, []*Node{a, b}, zap.NewNop(), InProcessExecutor{})

	done := make(chan struct{})
	go func() {
		engine.Run(context.Background(), make(chan model.JobAction))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish in time")
	}

	assert.Equal(t, model.TaskStatusFailed, a.Task.Status)
	assert.Equal(t, model.TaskStatusCanceled, b.Task.Status)
	assert.Contains(t, b.Task.Message, "a", "cancellation message must name the failed prerequisite")
}

func TestEngineStopActionInterruptsRunningTasks(t *testing.T) {
	rj, _ := newTestJob()

	started := make(chan struct{})
	a := NewNode("a", "a", &fnBody{name: "a", run: func(ctx context.Context, rt *Runtime) Outcome {
		close(started)
		<-ctx.Done()
		return OutcomeInterrupted()
	}})

	engine := NewEngine(rj, []*Node{a}, zap.NewNop(), InProcessExecutor{})
	actions := make(chan model.JobAction, 1)

	done := make(chan struct{})
	go func() {
		engine.Run(context.Background(), actions)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task a never started")
	}
	actions <- model.JobActionStop

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish after stop")
	}

	assert.Equal(t, model.TaskStatusInterrupted, a.Task.Status)
}

func TestRemoteJobDoneComputesFinalStatus(t *testing.T) {
	rj, binder := newTestJob()
	rj.job.Tasks = []*model.Task{
		{TID: "t1", Status: model.TaskStatusCompleted},
		{TID: "t2", Status: model.TaskStatusSoftFailed},
	}
	rj.Done()

	binder.mu.Lock()
	defer binder.mu.Unlock()
	require.NotEmpty(t, binder.patches)
	last := binder.patches[len(binder.patches)-1]
	assert.Equal(t, model.JobStatusCompleted, last.Status)
	assert.True(t, last.IsProcessExited)
}
