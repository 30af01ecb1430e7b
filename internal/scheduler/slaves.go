package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"go.uber.org/zap"
)

// Slave is the Master's handle on one registered host-slave's control
// connection.
type Slave struct {
	ID   string
	conn *wire.Conn

	mu      sync.Mutex
	working bool

	pending   map[string]chan proto.SlaveFrame // jobID -> ack channel, for submit
	processes map[string]*RemoteProcess         // jobID -> attached remote process
}

func newSlave(id string, conn *wire.Conn) *Slave {
	return &Slave{
		ID:        id,
		conn:      conn,
		pending:   map[string]chan proto.SlaveFrame{},
		processes: map[string]*RemoteProcess{},
	}
}

func (s *Slave) setWorking(working bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = working
}

func (s *Slave) isWorking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working
}

// HandleFrame routes an inbound frame from the slave's own connection:
// submit acks, update (process exit) reports, and working-flag pings.
func (s *Slave) HandleFrame(f proto.SlaveFrame) {
	switch f.Action {
	case proto.SlaveActionSubmit:
		s.mu.Lock()
		ch, ok := s.pending[f.JobID]
		delete(s.pending, f.JobID)
		s.mu.Unlock()
		if ok {
			ch <- f
		}
	case proto.SlaveActionUpdate:
		s.mu.Lock()
		proc, ok := s.processes[f.JobID]
		s.mu.Unlock()
		if ok && f.Returncode != nil {
			proc.Update(*f.Returncode)
		}
	case proto.SlaveActionStatus:
		if f.Working != nil {
			s.setWorking(*f.Working)
		}
	}
}

// Submit sends a submit request and blocks (bounded by ctx) for the
// slave's pid ack, returning an attached RemoteProcess handle on success.
func (s *Slave) Submit(ctx context.Context, jobID string) (*RemoteProcess, error) {
	ack := make(chan proto.SlaveFrame, 1)
	s.mu.Lock()
	s.pending[jobID] = ack
	s.mu.Unlock()

	if err := s.conn.Send(proto.SlaveFrame{Action: proto.SlaveActionSubmit, JobID: jobID}); err != nil {
		return nil, err
	}

	select {
	case f := <-ack:
		if f.Pid == nil {
			return nil, model.ErrSubmitTimeout
		}
		proc := NewRemoteProcess(s.ID, jobID, *f.Pid)
		s.mu.Lock()
		s.processes[jobID] = proc
		s.mu.Unlock()
		return proc, nil
	case <-ctx.Done():
		return nil, model.ErrSubmitTimeout
	}
}

// Terminate asks the slave to SIGTERM the worker attached to jobID.
func (s *Slave) Terminate(jobID string) error {
	return s.conn.Send(proto.SlaveFrame{Action: proto.SlaveActionTerminate, JobID: jobID})
}

// SlaveManager tracks every registered host-slave and implements
// round-robin-over-idle selection: it advances a cursor through the slave
// list and skips any slave currently marked working, wrapping once per
// submission. This replaces the source's tail-popping LRU (see DESIGN.md),
// which could starve a busy slave forever as new slaves kept arriving at
// the tail.
type SlaveManager struct {
	mu      sync.Mutex
	order   []string
	slaves  map[string]*Slave
	cursor  int
	logger  *zap.Logger
}

func NewSlaveManager(logger *zap.Logger) *SlaveManager {
	return &SlaveManager{
		slaves: map[string]*Slave{},
		logger: logger,
	}
}

func (m *SlaveManager) Add(s *Slave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.slaves[s.ID]; exists {
		return
	}
	m.slaves[s.ID] = s
	m.order = append(m.order, s.ID)
	m.logger.Info("slave registered", zap.String("slave", s.ID))
}

func (m *SlaveManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slaves, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Info("slave removed", zap.String("slave", id))
}

func (m *SlaveManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// pickLocked advances the round-robin cursor to the next idle slave,
// falling back to the cursor's current slave (busy or not) if every slave
// is working. Caller holds m.mu.
func (m *SlaveManager) pickLocked() (*Slave, bool) {
	n := len(m.order)
	if n == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		s := m.slaves[m.order[idx]]
		if s != nil && !s.isWorking() {
			m.cursor = (idx + 1) % n
			return s, true
		}
	}
	// all busy: still advance and hand the job to the next slave in line
	s := m.slaves[m.order[m.cursor]]
	m.cursor = (m.cursor + 1) % n
	return s, s != nil
}

// Submit picks an idle slave (round-robin) and submits jobID to it,
// waiting up to timeout for its pid ack.
func (m *SlaveManager) Submit(ctx context.Context, jobID string, timeout time.Duration) (*Slave, *RemoteProcess, error) {
	m.mu.Lock()
	s, ok := m.pickLocked()
	m.mu.Unlock()
	if !ok {
		return nil, nil, model.ErrNoSlavesAvailable
	}

	submitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.setWorking(true)
	proc, err := s.Submit(submitCtx, jobID)
	if err != nil {
		s.setWorking(false)
		return nil, nil, err
	}
	return s, proc, nil
}
