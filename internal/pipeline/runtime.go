package pipeline

import (
	"github.com/jc-comp/karaoke-scheduler/internal/model"
)

// Emitter is everything a running Task body needs to talk back to the Job,
// regardless of whether the body is executing in-process or inside a
// re-exec'd subprocess. *RemoteJob satisfies it directly for in-process
// execution; subprocessEmitter (subprocess.go) satisfies it by writing
// Event frames back to the parent over the subprocess transport.
type Emitter interface {
	JID() string
	Media() model.Media
	PassiveUpdateTask(tid, message string)
	SetPassingArgs(tid string, args map[string]any)
	AddTaskArtifact(tid string, a *model.Artifact, tag string)
	Log(level, message string)
}

// Runtime is the handle a TaskBody's Run method uses to talk back to the
// Job: it carries this run's merged input args (every prerequisite's
// passing_args plus {media: job.media}, per spec.md §4.5 step 3) and
// forwards progress/artifacts/passing-args through an Emitter.
type Runtime struct {
	TID  string
	Args map[string]any

	emitter Emitter
}

// NewRuntime builds a Runtime bound to emitter, for executors and tests that
// need to drive a TaskBody outside the engine's own dispatch loop.
func NewRuntime(tid string, args map[string]any, emitter Emitter) *Runtime {
	return &Runtime{TID: tid, Args: args, emitter: emitter}
}

func (rt *Runtime) Media() model.Media {
	return rt.emitter.Media()
}

// JID returns the id of the job this task is running under.
func (rt *Runtime) JID() string {
	return rt.emitter.JID()
}

// Arg fetches a merged input argument by name.
func (rt *Runtime) Arg(name string) (any, bool) {
	v, ok := rt.Args[name]
	return v, ok
}

// PassiveUpdate reports a progress line (e.g. a `\r`-terminated percentage)
// without risking a terminal-state downgrade.
func (rt *Runtime) PassiveUpdate(message string) {
	rt.emitter.PassiveUpdateTask(rt.TID, message)
}

// SetPassingArgs publishes this task's dataflow output for subsequents.
func (rt *Runtime) SetPassingArgs(args map[string]any) {
	rt.emitter.SetPassingArgs(rt.TID, args)
}

// AddArtifact appends an Artifact to the job, tagging it if tag is
// non-empty.
func (rt *Runtime) AddArtifact(a *model.Artifact, tag string) {
	rt.emitter.AddTaskArtifact(rt.TID, a, tag)
}

// Info/Warn/Error route a log line through the same event channel a
// subprocess task uses, so logs from in-process and subprocess bodies end
// up in the same place: the process logger and the task's output buffer.
func (rt *Runtime) Info(message string)  { rt.emitter.Log("info", message) }
func (rt *Runtime) Warn(message string)  { rt.emitter.Log("warning", message) }
func (rt *Runtime) Error(message string) { rt.emitter.Log("error", message) }
