package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Master owns the authoritative job registry and multiplexes user,
// worker and host-slave connections on one TCP listener.
type Master struct {
	Registry           *Registry
	Slaves             *SlaveManager
	Metrics            *Metrics
	Logger             *zap.Logger
	MinJobResponseTime time.Duration
	SubmitTimeout      time.Duration
	Limiter            *SubmitLimiter

	ln net.Listener
}

// New builds a Master. reg and slaves are constructed by the caller
// (cmd/master) so tests can substitute fakes; New builds Metrics itself,
// registered on prometheus.DefaultRegisterer.
func New(reg *Registry, slaves *SlaveManager, logger *zap.Logger, minJobResponseTime time.Duration) *Master {
	return &Master{
		Registry:           reg,
		Slaves:             slaves,
		Metrics:            NewMetrics(prometheus.DefaultRegisterer),
		Logger:             logger,
		MinJobResponseTime: minJobResponseTime,
		SubmitTimeout:      10 * time.Second,
		Limiter:            NewSubmitLimiter(0, nil),
	}
}

// ListenAndServe binds addr, serves a /metrics endpoint on metricsAddr, and
// runs the accept loop until ctx is canceled.
func (m *Master) ListenAndServe(ctx context.Context, addr, metricsAddr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("scheduler: listen %s: %w", addr, err)
	}
	m.ln = ln
	m.Logger.Info("master listening", zap.String("addr", addr))

	httpSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("scheduler: metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return m.acceptLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		var result *multierror.Error
		if err := httpSrv.Shutdown(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func (m *Master) acceptLoop(ctx context.Context) error {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("scheduler: accept: %w", err)
			}
		}
		go m.handleConnection(ctx, conn)
	}
}

func (m *Master) handleConnection(ctx context.Context, raw net.Conn) {
	c := wire.New(raw)
	defer c.Close()

	var hello proto.Hello
	if err := c.Recv(&hello); err != nil {
		m.Logger.Debug("connection closed before hello", zap.Error(err))
		return
	}

	switch hello.Role {
	case proto.RoleUser:
		m.handleUser(ctx, c, RemoteIP(raw))
	case proto.RoleWorker:
		m.handleWorker(ctx, c, hello.JobID)
	case proto.RoleSlave:
		m.handleSlave(ctx, c)
	default:
		_ = c.Send(proto.ErrorFrame{Error: fmt.Sprintf("unknown role %q", hello.Role)})
	}
}

func (m *Master) handleUser(ctx context.Context, c *wire.Conn, remoteIP string) {
	var cleanup func()

	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for {
		var req proto.UserRequest
		if err := c.Recv(&req); err != nil {
			return
		}
		switch req.Action {
		case proto.ActionSubmit:
			m.handleSubmit(ctx, c, req, remoteIP)
		case proto.ActionQuery:
			if cleanup != nil {
				cleanup()
			}
			cleanup = m.handleQuery(ctx, c, req.JobID)
		case proto.ActionArtifact:
			m.handleArtifactRequest(c, req)
		case proto.ActionControl:
			m.handleControl(c, req)
		default:
			_ = c.Send(proto.ErrorFrame{Error: fmt.Sprintf("unknown action %q", req.Action)})
		}
	}
}

func (m *Master) handleSubmit(ctx context.Context, c *wire.Conn, req proto.UserRequest, remoteIP string) {
	if !m.Limiter.Allow(remoteIP) {
		_ = c.Send(proto.ErrorFrame{Error: "submission rate limit exceeded, try again shortly"})
		return
	}

	var media model.Media
	var jobType model.JobType = model.JobTypeYouTube
	if req.Job != nil {
		var payload struct {
			Type  model.JobType `json:"type"`
			Media model.Media   `json:"media"`
		}
		if err := json.Unmarshal(req.Job, &payload); err == nil {
			if payload.Type != "" {
				jobType = payload.Type
			}
			media = payload.Media
		}
	}

	mj := model.NewJob(uuid.NewString(), jobType, media)
	job := m.Registry.Create(mj)
	job.touch()

	slave, proc, err := m.Slaves.Submit(ctx, mj.JID, m.SubmitTimeout)
	if err != nil {
		m.Registry.Remove(mj.JID)
		_ = c.Send(proto.ErrorFrame{Error: err.Error()})
		return
	}

	job.mu.Lock()
	job.Model.Update(model.JobStatusQueued, nil, "")
	job.process = proc
	job.mu.Unlock()

	if m.Metrics != nil {
		m.Metrics.JobsActive.Inc()
	}

	watchdogCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		proc.Wait()
	}()
	go NewWatchdog(job, slave, m.MinJobResponseTime, m.Registry, m.Metrics, m.Logger).Run(watchdogCtx)

	_ = c.Send(job.Model)
}

// handleQuery serves a Query action: it sends the requested job's (or,
// for jobID "*", every resident job's) current snapshot, subscribes the
// connection to future broadcasts, and returns a cleanup func the caller
// must run when the connection's subscription should end. A nil result
// means nothing was subscribed (an error frame was already sent).
func (m *Master) handleQuery(ctx context.Context, c *wire.Conn, jobID string) func() {
	if jobID == "*" {
		for _, job := range m.Registry.All() {
			job.mu.Lock()
			snap := job.Model
			job.mu.Unlock()
			if err := c.Send(snap); err != nil {
				return nil
			}
		}

		ch := make(chan *model.Job, 64)
		m.Registry.AddGlobalListener(ch)

		go func() {
			for {
				select {
				case snap, ok := <-ch:
					if !ok {
						return
					}
					if err := c.Send(snap); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		return func() { m.Registry.RemoveGlobalListener(ch) }
	}

	job, err := m.Registry.Get(jobID)
	if err != nil {
		_ = c.Send(proto.ErrorFrame{Error: err.Error()})
		return nil
	}

	// A listener attaching after a Master restart missed every broadcast
	// since the last on-disk dump; replay what Redis still remembers before
	// the current snapshot so it catches up instead of jumping straight to
	// the tail.
	for _, snap := range m.Registry.Events(jobID) {
		if err := c.Send(snap); err != nil {
			return nil
		}
	}

	ch := make(chan *model.Job, 8)
	job.AddListener(ch)
	_ = c.Send(job.Model)

	go func() {
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				if err := c.Send(snap); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { job.RemoveListener(ch) }
}

func (m *Master) handleArtifactRequest(c *wire.Conn, req proto.UserRequest) {
	job, err := m.Registry.Get(req.JobID)
	if err != nil {
		_ = c.Send(proto.ErrorFrame{Error: err.Error()})
		return
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if req.Artifact < 0 || req.Artifact >= len(job.Model.Artifacts) {
		_ = c.Send(proto.ErrorFrame{Error: "artifact index out of range"})
		return
	}
	a := job.Model.Artifacts[req.Artifact]
	_ = c.Send(proto.ArtifactReply{ArtifactType: string(a.Type), Artifact: a})
}

func (m *Master) handleControl(c *wire.Conn, req proto.UserRequest) {
	job, err := m.Registry.Get(req.JobID)
	if err != nil {
		_ = c.Send(proto.ErrorFrame{Error: err.Error()})
		return
	}
	job.mu.Lock()
	proc := job.process
	job.mu.Unlock()
	if proc == nil {
		_ = c.Send(proto.ErrorFrame{Error: "job has no attached process"})
		return
	}
	// The control action is sent straight onto the worker's own
	// connection by workerConn.forward.
	if wc := m.workerConnFor(req.JobID); wc != nil {
		wc.forward(req.Control)
	}
}

func (m *Master) handleSlave(ctx context.Context, c *wire.Conn) {
	id := uuid.NewString()
	slave := newSlave(id, c)
	m.Slaves.Add(slave)
	if m.Metrics != nil {
		m.Metrics.SlavesRegistered.Set(float64(m.Slaves.Count()))
	}
	defer func() {
		m.Slaves.Remove(id)
		if m.Metrics != nil {
			m.Metrics.SlavesRegistered.Set(float64(m.Slaves.Count()))
		}
	}()

	for {
		var f proto.SlaveFrame
		if err := c.Recv(&f); err != nil {
			return
		}
		slave.HandleFrame(f)
	}
}
