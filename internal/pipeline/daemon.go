package pipeline

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"go.uber.org/zap"
)

// DaemonExecutor dials a persistent Unix domain socket per heavy task
// type (<media_path>/.sockets/<task>.sock), grounded on
// original_source/karaoke/worker/daemon.py's one-process-per-task-type
// layout, reusing the exact event protocol SubprocessExecutor speaks over
// a pipe. When no daemon is listening it falls back to SubprocessExecutor,
// so the engine needs exactly one code path for "send args, receive
// events" regardless of transport.
type DaemonExecutor struct {
	SocketDir string
	Fallback  *SubprocessExecutor
	Logger    *zap.Logger
}

func SocketPath(mediaPath, task string) string {
	return filepath.Join(mediaPath, ".sockets", fmt.Sprintf("%s.sock", task))
}

func (e *DaemonExecutor) Execute(ctx context.Context, n *Node, args map[string]any, job *RemoteJob) Outcome {
	raw, err := net.Dial("unix", SocketPath(e.SocketDir, n.Task.Name))
	if err != nil {
		e.Logger.Debug("no daemon listening, falling back to subprocess",
			zap.String("task", n.Task.Name), zap.Error(err))
		return e.Fallback.Execute(ctx, n, args, job)
	}
	defer raw.Close()

	conn := wire.New(raw)
	argsFrame := struct {
		Task  string         `json:"task"`
		TID   string         `json:"tid"`
		JobID string         `json:"job_id"`
		Args  map[string]any `json:"args"`
	}{Task: n.Task.Name, TID: n.Task.TID, JobID: job.JID(), Args: args}
	if err := conn.Send(argsFrame); err != nil {
		return OutcomeFailed(fmt.Errorf("daemon: send args: %w", err))
	}

	for {
		var ev Event
		if err := conn.Recv(&ev); err != nil {
			return OutcomeFailed(fmt.Errorf("daemon: event stream closed: %w", err))
		}
		if ev.Target == EventOutcome {
			return fromWireOutcome(ev.Outcome)
		}
		e.applyEvent(ev, job)

		select {
		case <-ctx.Done():
			_ = conn.Send(Event{Target: EventError, TID: n.Task.TID, Message: "interrupt", IgnoreAction: false})
		default:
		}
	}
}

func (e *DaemonExecutor) applyEvent(ev Event, job *RemoteJob) {
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

// DaemonServer listens for a single heavy task type's daemon socket and
// serves the same Execute-shaped protocol a subprocess would, but keeping
// the task body's Preload (model weights, etc.) resident across runs.
type DaemonServer struct {
	Task   TaskBody
	Logger *zap.Logger

	ln net.Listener
}

func NewDaemonServer(socketDir string, task TaskBody, logger *zap.Logger) (*DaemonServer, error) {
	path := SocketPath(socketDir, task.Name())
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen %s: %w", path, err)
	}
	return &DaemonServer{Task: task, Logger: logger, ln: ln}, nil
}

func (d *DaemonServer) Serve(ctx context.Context) error {
	if err := d.Task.Preload(ctx); err != nil {
		return fmt.Errorf("daemon: preload %s: %w", d.Task.Name(), err)
	}
	go func() {
		<-ctx.Done()
		_ = d.ln.Close()
	}()
	for {
		raw, err := d.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go d.handle(ctx, raw)
	}
}

func (d *DaemonServer) handle(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	conn := wire.New(raw)

	var argsFrame struct {
		Task  string         `json:"task"`
		TID   string         `json:"tid"`
		JobID string         `json:"job_id"`
		Args  map[string]any `json:"args"`
	}
	if err := conn.Recv(&argsFrame); err != nil {
		return
	}

	emitter := &daemonEmitter{conn: conn, jid: argsFrame.JobID, media: mediaFromArgs(argsFrame.Args)}
	rt := &Runtime{TID: argsFrame.TID, Args: argsFrame.Args, emitter: emitter}

	outcome := runWithRecover(d.Task, rt)
	_ = conn.Send(Event{Target: EventOutcome, TID: argsFrame.TID, Outcome: toWireOutcome(outcome)})
}

type daemonEmitter struct {
	conn  *wire.Conn
	jid   string
	media model.Media
}

func (e *daemonEmitter) JID() string        { return e.jid }
func (e *daemonEmitter) Media() model.Media { return e.media }

func (e *daemonEmitter) PassiveUpdateTask(tid, message string) {
	_ = e.conn.Send(Event{Target: EventPassiveUpdate, TID: tid, Message: message})
}

func (e *daemonEmitter) SetPassingArgs(tid string, args map[string]any) {
	_ = e.conn.Send(Event{Target: EventPassingArgs, TID: tid, PassingArgs: args})
}

func (e *daemonEmitter) AddTaskArtifact(tid string, a *model.Artifact, tag string) {
	_ = e.conn.Send(Event{Target: EventArtifact, TID: tid, Artifact: a, Tag: tag})
}

func (e *daemonEmitter) Log(level, message string) {
	_ = e.conn.Send(Event{Target: EventTarget(level), Message: message})
}
