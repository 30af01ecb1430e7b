package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"go.uber.org/zap"
)

// EventTarget names the typed messages a task subprocess streams back to
// its parent over the subprocess/daemon transport (spec.md §4.5).
type EventTarget string

const (
	EventPassiveUpdate EventTarget = "passive_update"
	EventPassingArgs   EventTarget = "passing_args"
	EventArtifact      EventTarget = "artifact"
	EventInfo          EventTarget = "info"
	EventDebug         EventTarget = "debug"
	EventWarning       EventTarget = "warning"
	EventError         EventTarget = "error"
	EventOutcome       EventTarget = "outcome"
)

// Event is the single wire shape carried on the subprocess/daemon
// transport, NUL-delimited JSON via internal/wire.Conn, same as the
// master/slave/worker control channel (SPEC_FULL.md §4.1).
type Event struct {
	Target       EventTarget     `json:"target"`
	TID          string          `json:"tid,omitempty"`
	Message      string          `json:"message,omitempty"`
	PassingArgs  map[string]any  `json:"passing_args,omitempty"`
	Artifact     *model.Artifact `json:"artifact,omitempty"`
	Tag          string          `json:"tag,omitempty"`
	Outcome      *wireOutcome    `json:"outcome,omitempty"`
	IgnoreAction bool            `json:"ignore_action,omitempty"`
}

type wireOutcome struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toWireOutcome(o Outcome) *wireOutcome {
	w := &wireOutcome{Kind: o.Status(), Message: o.Message}
	if o.Err != nil {
		w.Error = o.Err.Error()
	}
	return w
}

func fromWireOutcome(w *wireOutcome) Outcome {
	if w == nil {
		return OutcomeFailed(fmt.Errorf("subprocess: missing outcome"))
	}
	switch model.TaskStatus(w.Kind) {
	case model.TaskStatusCompleted:
		return OutcomeCompleted()
	case model.TaskStatusSoftFailed:
		return OutcomeSoftFailed(w.Message)
	case model.TaskStatusInterrupted:
		return OutcomeInterrupted()
	default:
		if w.Error != "" {
			return OutcomeFailed(fmt.Errorf("%s", w.Error))
		}
		return OutcomeFailed(fmt.Errorf("subprocess: %s", w.Message))
	}
}

// pipePair adapts a child process's separate stdin writer and stdout
// reader into the single io.ReadWriteCloser internal/wire.Conn expects.
type pipePair struct {
	io.Reader
	io.WriteCloser
}

func (p pipePair) Close() error { return p.WriteCloser.Close() }

// SubprocessExecutor runs each dispatched Task in a freshly re-exec'd copy
// of the worker binary (`os.Executable()`), per SPEC_FULL.md §4.5's
// subprocess transport: stdin carries one JSON args frame, stdout carries
// the NUL-delimited event stream, stderr lines are folded into "info"
// events. This is the Go-idiomatic equivalent of the source's
// multiprocessing.Process + Queue IPC, using a pipe instead of a shared
// memory queue.
type SubprocessExecutor struct {
	WorkerBinary string
	Logger       *zap.Logger
}

func (e *SubprocessExecutor) Execute(ctx context.Context, n *Node, args map[string]any, job *RemoteJob) Outcome {
	bin := e.WorkerBinary
	if bin == "" {
		var err error
		bin, err = os.Executable()
		if err != nil {
			return OutcomeFailed(fmt.Errorf("subprocess: resolve worker binary: %w", err))
		}
	}

	cmd := exec.CommandContext(ctx, bin, "--task-subprocess", "--task", n.Task.Name, "--tid", n.Task.TID)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return OutcomeFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return OutcomeFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return OutcomeFailed(err)
	}

	if err := cmd.Start(); err != nil {
		return OutcomeFailed(fmt.Errorf("subprocess: start: %w", err))
	}

	conn := wire.New(pipePair{Reader: stdout, WriteCloser: stdin})

	argsFrame := struct {
		JobID string         `json:"job_id"`
		Args  map[string]any `json:"args"`
	}{JobID: job.JID(), Args: args}
	if err := conn.Send(argsFrame); err != nil {
		_ = cmd.Process.Kill()
		return OutcomeFailed(fmt.Errorf("subprocess: send args: %w", err))
	}

	go e.drainStderr(stderr, n.Task.TID, job)

	var outcome Outcome
	for {
		var ev Event
		if err := conn.Recv(&ev); err != nil {
			outcome = OutcomeFailed(fmt.Errorf("subprocess: event stream closed: %w", err))
			break
		}
		if ev.Target == EventOutcome {
			outcome = fromWireOutcome(ev.Outcome)
			break
		}
		e.applyEvent(ev, job)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return OutcomeInterrupted()
	}
	if waitErr != nil && outcome.kind == outcomeCompleted {
		return OutcomeFailed(fmt.Errorf("subprocess: exited: %w", waitErr))
	}
	return outcome
}

func (e *SubprocessExecutor) applyEvent(ev Event, job *RemoteJob) {
	switch ev.Target {
	case EventPassiveUpdate:
		job.PassiveUpdateTask(ev.TID, ev.Message)
	case EventPassingArgs:
		job.SetPassingArgs(ev.TID, ev.PassingArgs)
	case EventArtifact:
		if ev.Artifact != nil {
			job.AddTaskArtifact(ev.TID, ev.Artifact, ev.Tag)
		}
	case EventInfo, EventDebug, EventWarning, EventError:
		job.Log(string(ev.Target), ev.Message)
	}
}

func (e *SubprocessExecutor) drainStderr(r io.Reader, tid string, job *RemoteJob) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		job.Log("info", scanner.Text())
	}
}

// --- Child-side entrypoint ------------------------------------------------

// subprocessEmitter is the Emitter a task body sees when running inside a
// re-exec'd subprocess: every call becomes an Event frame written back to
// the parent over stdout, instead of a direct RemoteJob mutation.
type subprocessEmitter struct {
	conn  *wire.Conn
	jid   string
	media model.Media
}

func (e *subprocessEmitter) JID() string        { return e.jid }
func (e *subprocessEmitter) Media() model.Media { return e.media }

func (e *subprocessEmitter) PassiveUpdateTask(tid, message string) {
	_ = e.conn.Send(Event{Target: EventPassiveUpdate, TID: tid, Message: message})
}

func (e *subprocessEmitter) SetPassingArgs(tid string, args map[string]any) {
	_ = e.conn.Send(Event{Target: EventPassingArgs, TID: tid, PassingArgs: args})
}

func (e *subprocessEmitter) AddTaskArtifact(tid string, a *model.Artifact, tag string) {
	_ = e.conn.Send(Event{Target: EventArtifact, TID: tid, Artifact: a, Tag: tag})
}

func (e *subprocessEmitter) Log(level, message string) {
	_ = e.conn.Send(Event{Target: EventTarget(level), Message: message})
}

// RunSubprocessTask is the worker binary's `--task-subprocess` entrypoint:
// it reads the single args frame from stdin, runs body against it, and
// streams the outcome back on stdout. Recovers panics into a failed
// outcome so a task body's bug never surfaces as an unexplained nonzero
// exit.
func RunSubprocessTask(tid string, body TaskBody) int {
	conn := wire.New(pipePair{Reader: os.Stdin, WriteCloser: stdoutWriteCloser{}})

	var argsFrame struct {
		JobID string         `json:"job_id"`
		Args  map[string]any `json:"args"`
	}
	if err := conn.Recv(&argsFrame); err != nil {
		return 1
	}

	media := mediaFromArgs(argsFrame.Args)
	emitter := &subprocessEmitter{conn: conn, jid: argsFrame.JobID, media: media}
	rt := &Runtime{TID: tid, Args: argsFrame.Args, emitter: emitter}

	outcome := runWithRecover(body, rt)
	_ = conn.Send(Event{Target: EventOutcome, TID: tid, Outcome: toWireOutcome(outcome)})
	return 0
}

func runWithRecover(body TaskBody, rt *Runtime) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeFailed(fmt.Errorf("task panicked: %v", rec))
		}
	}()
	return body.Run(context.Background(), rt)
}

func mediaFromArgs(args map[string]any) model.Media {
	raw, ok := args["media"]
	if !ok {
		return model.Media{}
	}
	m, ok := raw.(model.Media)
	if ok {
		return m
	}
	// Args decoded off the wire carry media as a generic JSON object.
	data, err := json.Marshal(raw)
	if err != nil {
		return model.Media{}
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return model.Media{}
	}
	return m
}

// stdoutWriteCloser adapts os.Stdout (which has no meaningful Close, since
// closing it would tear down the process's own stdout) into the
// io.WriteCloser pipePair expects.
type stdoutWriteCloser struct{}

func (stdoutWriteCloser) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutWriteCloser) Close() error                { return nil }
