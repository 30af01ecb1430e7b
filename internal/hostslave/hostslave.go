// Package hostslave implements the per-machine Host-slave process: it
// registers with the Master, forks a Worker process per submitted job,
// and forwards lifecycle events, grounded on
// original_source/karaoke/scheduler/slave.py (SchedulerSlave).
package hostslave

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Slave is the Host-slave process. It holds one control connection to the
// Master and a table of live worker child processes.
type Slave struct {
	MasterAddr   string
	WorkerBinary string
	MaxChildren  int
	Logger       *zap.Logger

	mu        sync.Mutex
	children  map[string]*exec.Cmd // jobID -> worker process
	working   bool
}

// New constructs a Slave. workerBinary is the path to the worker
// executable forked per submission (mirrors `worker --jobId <jid>`).
func New(masterAddr, workerBinary string, maxChildren int, logger *zap.Logger) *Slave {
	if maxChildren <= 0 {
		maxChildren = 1
	}
	return &Slave{
		MasterAddr:   masterAddr,
		WorkerBinary: workerBinary,
		MaxChildren:  maxChildren,
		Logger:       logger,
		children:     map[string]*exec.Cmd{},
	}
}

// Run connects to Master and serves the control channel until ctx is
// canceled, reconnecting every 5s on failure — mirroring the source's
// top-level retry loop around SchedulerSlave.connect/listen.
func (s *Slave) Run(ctx context.Context, healthAddr string) error {
	go s.serveHealth(ctx, healthAddr)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.connectAndServe(ctx); err != nil {
			s.Logger.Warn("host-slave connection lost, retrying", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Slave) connectAndServe(ctx context.Context) error {
	raw, err := net.Dial("tcp", s.MasterAddr)
	if err != nil {
		return fmt.Errorf("hostslave: dial master: %w", err)
	}
	c := wire.New(raw)
	defer c.Close()

	if err := c.Send(proto.Hello{Role: proto.RoleSlave}); err != nil {
		return err
	}
	s.Logger.Info("host-slave registered with master", zap.String("master", s.MasterAddr))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		var f proto.SlaveFrame
		if err := c.Recv(&f); err != nil {
			return err
		}
		s.handleFrame(ctx, c, f)
	}
}

func (s *Slave) handleFrame(ctx context.Context, c *wire.Conn, f proto.SlaveFrame) {
	switch f.Action {
	case proto.SlaveActionSubmit:
		s.spawnWorker(ctx, c, f.JobID)
	case proto.SlaveActionTerminate:
		s.terminateWorker(f.JobID)
	}
}

// spawnWorker forks `worker --jobId <jid>` and reports the resulting pid
// (or nil on failure) back on the control channel, then waits for the
// child's exit in the background to report its returncode.
func (s *Slave) spawnWorker(ctx context.Context, c *wire.Conn, jobID string) {
	s.setWorking(true)

	cmd := exec.Command(s.WorkerBinary, "--jobId", jobID)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		s.Logger.Error("failed to spawn worker", zap.String("jid", jobID), zap.Error(err))
		s.setWorking(false)
		_ = c.Send(proto.SlaveFrame{Action: proto.SlaveActionSubmit, JobID: jobID, Pid: nil})
		return
	}

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.children[jobID] = cmd
	s.mu.Unlock()

	_ = c.Send(proto.SlaveFrame{Action: proto.SlaveActionSubmit, JobID: jobID, Pid: &pid})

	go func() {
		err := cmd.Wait()
		returncode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				returncode = exitErr.ExitCode()
			} else {
				returncode = -1
			}
		}
		s.mu.Lock()
		delete(s.children, jobID)
		remaining := len(s.children)
		s.mu.Unlock()
		s.setWorking(remaining > 0)

		_ = c.Send(proto.SlaveFrame{Action: proto.SlaveActionUpdate, JobID: jobID, Returncode: &returncode})
	}()
}

func (s *Slave) terminateWorker(jobID string) {
	s.mu.Lock()
	cmd, ok := s.children[jobID]
	s.mu.Unlock()
	if !ok || cmd.Process == nil {
		return
	}
	s.Logger.Info("terminating worker", zap.String("jid", jobID))
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

func (s *Slave) setWorking(working bool) {
	s.mu.Lock()
	s.working = working
	s.mu.Unlock()
}

func (s *Slave) occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

func (s *Slave) serveHealth(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"occupied":%d,"max_children":%d}`, s.occupied(), s.MaxChildren)
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.Logger.Warn("healthz server stopped", zap.Error(err))
	}
}
