package pipeline

import (
	"sync"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"go.uber.org/zap"
)

// RemoteJob is the worker-side handle on the Job being executed: it wraps
// the model.Job snapshot fetched from the Binder and forwards every
// mutation back through it, mirroring original_source's RemoteJob.
type RemoteJob struct {
	mu  sync.Mutex
	job *model.Job

	binder Binder
	logger *zap.Logger
}

func NewRemoteJob(job *model.Job, binder Binder, logger *zap.Logger) *RemoteJob {
	return &RemoteJob{job: job, binder: binder, logger: logger}
}

func (r *RemoteJob) JID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.JID
}

func (r *RemoteJob) Type() model.JobType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Type
}

func (r *RemoteJob) Media() model.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Media
}

func (r *RemoteJob) Tasks() []*model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Task, len(r.job.Tasks))
	copy(out, r.job.Tasks)
	return out
}

// InitTasks attaches the DAG's task list to the job once at pipeline
// startup and forwards it to the binder, so Master (and any listener)
// learns the full set of stages before the first per-task update arrives.
func (r *RemoteJob) InitTasks(tasks []*model.Task) {
	r.mu.Lock()
	r.job.Tasks = tasks
	r.mu.Unlock()
	r.binder.Update(JobUpdate{InitTasks: tasks})
}

// UpdateStatus patches the job's top-level status and forwards the delta.
func (r *RemoteJob) UpdateStatus(status model.JobStatus) {
	r.mu.Lock()
	r.job.Update(status, nil, "")
	r.mu.Unlock()
	r.binder.Update(JobUpdate{Status: status})
}

// UpdateTask patches one task's status/message and forwards the delta. The
// task's message also becomes the job's own last-seen message, mirroring
// spec.md §3's job.message as the human-readable last line across the
// whole pipeline, not just one task.
func (r *RemoteJob) UpdateTask(tid string, status model.TaskStatus, message string) {
	r.mu.Lock()
	t, err := findTask(r.job, tid)
	if err == nil {
		t.Update(status, message)
	}
	if message != "" {
		r.job.Message = message
	}
	r.mu.Unlock()
	update := JobUpdate{Tasks: map[string]TaskPatch{tid: {Status: status, Message: message}}}
	if message != "" {
		update.Message = message
	}
	r.binder.Update(update)
}

// PassiveUpdateTask patches the task's progress message without risking a
// downgrade of a terminal/interrupting task.
func (r *RemoteJob) PassiveUpdateTask(tid, message string) {
	r.mu.Lock()
	t, err := findTask(r.job, tid)
	if err == nil {
		t.PassiveUpdate(message)
	}
	if message != "" {
		r.job.Message = message
	}
	r.mu.Unlock()
	update := JobUpdate{Tasks: map[string]TaskPatch{tid: {Message: message}}}
	if message != "" {
		update.Message = message
	}
	r.binder.Update(update)
}

func (r *RemoteJob) SetPassingArgs(tid string, args map[string]any) {
	r.mu.Lock()
	t, err := findTask(r.job, tid)
	if err == nil {
		t.SetPassingArgs(args)
	}
	r.mu.Unlock()
	r.binder.Update(JobUpdate{Tasks: map[string]TaskPatch{tid: {PassingArgs: args}}})
}

func (r *RemoteJob) AddArtifact(a *model.Artifact) {
	r.mu.Lock()
	r.job.AddArtifact(a)
	r.mu.Unlock()
	r.binder.Update(JobUpdate{Artifacts: []*model.Artifact{a}})
}

// AddTaskArtifact appends an Artifact to both the job's artifact list and
// the owning task's own Artifacts slice, optionally tagging it as a
// well-known output (e.g. "subtitles", "Vocals").
func (r *RemoteJob) AddTaskArtifact(tid string, a *model.Artifact, tag string) {
	r.mu.Lock()
	r.job.AddArtifact(a)
	if t, err := findTask(r.job, tid); err == nil {
		t.AddArtifact(a)
	}
	if tag != "" {
		if r.job.ArtifactTags == nil {
			r.job.ArtifactTags = map[string]int{}
		}
		r.job.ArtifactTags[tag] = len(r.job.Artifacts) - 1
	}
	r.mu.Unlock()
	r.binder.Update(JobUpdate{Artifacts: []*model.Artifact{a}})
}

// Log forwards a task log line; in-process task bodies that hold a
// *zap.Logger normally log directly, so this exists chiefly to satisfy
// Emitter for bodies that only have a Runtime in scope.
func (r *RemoteJob) Log(level, message string) {
	if r.logger == nil {
		return
	}
	switch level {
	case "warning", "warn":
		r.logger.Warn(message)
	case "error":
		r.logger.Error(message)
	case "debug":
		r.logger.Debug(message)
	default:
		r.logger.Info(message)
	}
}

// Done computes and forwards the final job status per spec.md §4.4:
// INTERRUPTED if any task ended interrupted, else FAILED if any task
// ended non-success, else COMPLETED.
func (r *RemoteJob) Done() {
	r.mu.Lock()
	r.job.Done()
	status := r.job.Status
	r.mu.Unlock()
	r.binder.Update(JobUpdate{Status: status, IsProcessExited: true})
}

func findTask(j *model.Job, tid string) (*model.Task, error) {
	for _, t := range j.Tasks {
		if t.TID == tid {
			return t, nil
		}
	}
	return nil, model.ErrTaskNotFound
}
