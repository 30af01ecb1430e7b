package scheduler

import (
	"context"
	"sync"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"go.uber.org/zap"
)

// workerConn tracks one live Worker connection so a later user control
// request (e.g. stop) can be forwarded onto it.
type workerConn struct {
	jobID string
	conn  *wire.Conn

	mu      sync.Mutex
	pending []string
}

func (w *workerConn) forward(action string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Exactly one action at a time is honored: a control request that
	// arrives before the previous one is delivered is dropped.
	if len(w.pending) > 0 {
		return
	}
	w.pending = append(w.pending, action)
	_ = w.conn.Send(controlFrame{Action: action})
	w.pending = w.pending[:0]
}

type controlFrame struct {
	Action string `json:"action"`
}

var (
	workerConnsMu sync.Mutex
	workerConns   = map[string]*workerConn{}
)

func (m *Master) registerWorkerConn(jobID string, c *wire.Conn) *workerConn {
	wc := &workerConn{jobID: jobID, conn: c}
	workerConnsMu.Lock()
	workerConns[jobID] = wc
	workerConnsMu.Unlock()
	return wc
}

func (m *Master) unregisterWorkerConn(jobID string) {
	workerConnsMu.Lock()
	delete(workerConns, jobID)
	workerConnsMu.Unlock()
}

func (m *Master) workerConnFor(jobID string) *workerConn {
	workerConnsMu.Lock()
	defer workerConnsMu.Unlock()
	return workerConns[jobID]
}

// handleWorker serves a Worker's connection: send its serialized job,
// then merge every subsequent update frame and fan it out to listeners.
func (m *Master) handleWorker(ctx context.Context, c *wire.Conn, jobID string) {
	job, err := m.Registry.Get(jobID)
	if err != nil {
		_ = c.Send(proto.ErrorFrame{Error: err.Error()})
		return
	}

	m.registerWorkerConn(jobID, c)
	defer m.unregisterWorkerConn(jobID)

	job.mu.Lock()
	snapshot := job.Model
	job.mu.Unlock()
	if err := c.Send(snapshot); err != nil {
		return
	}

	for {
		var update workerUpdate
		if err := c.Recv(&update); err != nil {
			m.finalizeJob(job, err)
			return
		}
		job.touch()

		job.mu.Lock()
		applyWorkerUpdate(job.Model, update)
		finished := update.IsProcessExited
		snap := job.Model
		job.mu.Unlock()

		job.Broadcast()

		if finished {
			m.finalizeJob(job, nil)
			return
		}
		_ = snap
	}
}

// workerUpdate is the partial-patch payload a Worker streams back: Job.update
// semantics from spec.md §4.4 — media patches named fields, tasks patches
// individual Tasks by tid, other top-level keys assign directly.
type workerUpdate struct {
	Status          model.JobStatus      `json:"status,omitempty"`
	Message         string               `json:"message,omitempty"`
	Media           *model.Media         `json:"media,omitempty"`
	InitTasks       []*model.Task        `json:"initTasks,omitempty"`
	Tasks           map[string]taskPatch `json:"tasks,omitempty"`
	Artifacts       []*model.Artifact    `json:"artifacts,omitempty"`
	ArtifactTags    map[string]int       `json:"artifact_tags,omitempty"`
	IsProcessExited bool                 `json:"isProcessExited,omitempty"`
}

type taskPatch struct {
	Status      model.TaskStatus `json:"status,omitempty"`
	Message     string           `json:"message,omitempty"`
	Output      string           `json:"output,omitempty"`
	PassingArgs map[string]any   `json:"passing_args,omitempty"`
}

func applyWorkerUpdate(j *model.Job, u workerUpdate) {
	j.Update(u.Status, u.Media, u.Message)
	if u.InitTasks != nil {
		j.Tasks = u.InitTasks
	}
	for tid, patch := range u.Tasks {
		t, err := findTask(j, tid)
		if err != nil {
			continue
		}
		if patch.Status != "" {
			t.Update(patch.Status, patch.Message)
		} else if patch.Message != "" {
			t.PassiveUpdate(patch.Message)
		}
		if patch.Output != "" {
			t.Output = patch.Output
		}
		if patch.PassingArgs != nil {
			t.SetPassingArgs(patch.PassingArgs)
		}
	}
	for _, a := range u.Artifacts {
		j.AddArtifact(a)
	}
	for k, v := range u.ArtifactTags {
		if j.ArtifactTags == nil {
			j.ArtifactTags = map[string]int{}
		}
		j.ArtifactTags[k] = v
	}
}

func findTask(j *model.Job, tid string) (*model.Task, error) {
	for _, t := range j.Tasks {
		if t.TID == tid {
			return t, nil
		}
	}
	return nil, model.ErrTaskNotFound
}

func (m *Master) finalizeJob(job *Job, connErr error) {
	job.mu.Lock()
	if !job.Model.Status.IsTerminal() {
		job.Model.Done()
	}
	job.mu.Unlock()
	job.Broadcast()

	if m.Metrics != nil {
		m.Metrics.JobsActive.Dec()
		m.Metrics.JobsTotal.WithLabelValues(string(job.Model.Status)).Inc()
	}
	if err := m.Registry.Dump(job); err != nil {
		m.Logger.Warn("failed to persist job", zap.String("jid", job.Model.JID), zap.Error(err))
	}
	if connErr != nil {
		m.Logger.Info("worker connection closed", zap.String("jid", job.Model.JID), zap.Error(connErr))
	}
}
