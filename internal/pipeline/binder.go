// Package pipeline implements the worker-side job binder and the DAG task
// execution engine described by SPEC_FULL.md §4.4/§4.5.
package pipeline

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"go.uber.org/zap"
)

// Binder is a worker's connection to whatever owns its Job record: the
// Master over a framed TCP connection (SchedulerBinder) or nothing at all,
// for local debugging invocations (CommandBinder). Both satisfy the same
// interface the source system's worker/binder/base.py defines.
type Binder interface {
	// GetJobInfo fetches (or constructs) the Job this worker will run.
	GetJobInfo() (*model.Job, error)
	// Listen starts a background goroutine delivering inbound actions
	// (e.g. stop) to the returned channel.
	Listen() <-chan model.JobAction
	// Update forwards a partial Job patch to whatever is tracking it.
	Update(patch JobUpdate)
	Close() error
}

// JobUpdate mirrors the wire shape a Worker streams back to Master.
type JobUpdate struct {
	Status          model.JobStatus      `json:"status,omitempty"`
	Message         string               `json:"message,omitempty"`
	Media           *model.Media         `json:"media,omitempty"`
	InitTasks       []*model.Task        `json:"initTasks,omitempty"`
	Tasks           map[string]TaskPatch `json:"tasks,omitempty"`
	Artifacts       []*model.Artifact    `json:"artifacts,omitempty"`
	ArtifactTags    map[string]int       `json:"artifact_tags,omitempty"`
	IsProcessExited bool                 `json:"isProcessExited,omitempty"`
}

type TaskPatch struct {
	Status      model.TaskStatus `json:"status,omitempty"`
	Message     string           `json:"message,omitempty"`
	Output      string           `json:"output,omitempty"`
	PassingArgs map[string]any   `json:"passing_args,omitempty"`
}

// --- SchedulerBinder ---------------------------------------------------

// SchedulerBinder is the normal, Master-attached binder used by
// `worker --jobId <jid>`.
type SchedulerBinder struct {
	conn   *wire.Conn
	jobID  string
	logger *zap.Logger

	actions chan model.JobAction
}

func NewSchedulerBinder(masterAddr, jobID string, logger *zap.Logger) (*SchedulerBinder, error) {
	raw, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: dial master: %w", err)
	}
	c := wire.New(raw)
	if err := c.Send(proto.Hello{Role: proto.RoleWorker, JobID: jobID}); err != nil {
		c.Close()
		return nil, err
	}
	return &SchedulerBinder{
		conn:    c,
		jobID:   jobID,
		logger:  logger,
		actions: make(chan model.JobAction, 4),
	}, nil
}

func (b *SchedulerBinder) GetJobInfo() (*model.Job, error) {
	var job model.Job
	if err := b.conn.Recv(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *SchedulerBinder) Listen() <-chan model.JobAction {
	go b.listenLoop()
	return b.actions
}

func (b *SchedulerBinder) listenLoop() {
	for {
		var f controlFrame
		if err := b.conn.Recv(&f); err != nil {
			close(b.actions)
			return
		}
		action, err := model.ParseJobAction(f.Action)
		if err != nil {
			b.logger.Warn("ignoring unrecognized action", zap.String("action", f.Action))
			continue
		}
		select {
		case b.actions <- action:
		default:
			b.logger.Warn("dropping action: one already pending", zap.String("action", f.Action))
		}
	}
}

type controlFrame struct {
	Action string `json:"action"`
}

func (b *SchedulerBinder) Update(patch JobUpdate) {
	_ = b.conn.Send(patch)
}

func (b *SchedulerBinder) Close() error {
	return b.conn.Close()
}

// --- CommandBinder -------------------------------------------------------

// CommandBinder runs the pipeline against a locally-constructed Job with
// no Master connection, for `worker --url`/`--filepath` debug invocations.
// Recovered from original_source's worker/binder/command.py: Update prints
// progress to stdout instead of forwarding over a socket.
type CommandBinder struct {
	job    *model.Job
	out    *bufio.Writer
	logger *zap.Logger
}

func NewCommandBinder(job *model.Job, logger *zap.Logger) *CommandBinder {
	return &CommandBinder{job: job, out: bufio.NewWriter(os.Stdout), logger: logger}
}

func (b *CommandBinder) GetJobInfo() (*model.Job, error) {
	return b.job, nil
}

func (b *CommandBinder) Listen() <-chan model.JobAction {
	ch := make(chan model.JobAction)
	return ch // never fires: CommandBinder has no remote control plane
}

func (b *CommandBinder) Update(patch JobUpdate) {
	for tid, t := range patch.Tasks {
		if t.Message != "" {
			fmt.Fprintf(b.out, "[%s] %s\r", tid, t.Message)
			b.out.Flush()
		}
		if t.Status != "" {
			fmt.Fprintf(b.out, "[%s] -> %s\n", tid, t.Status)
			b.out.Flush()
		}
	}
	if patch.Status != "" {
		fmt.Fprintf(b.out, "job -> %s\n", patch.Status)
		b.out.Flush()
	}
	if patch.Message != "" {
		fmt.Fprintf(b.out, "job: %s\r", patch.Message)
		b.out.Flush()
	}
}

func (b *CommandBinder) Close() error {
	return b.out.Flush()
}
