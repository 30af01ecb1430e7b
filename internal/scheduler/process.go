package scheduler

import "sync"

// RemoteProcess is the Master's handle on a Worker process running on a
// remote Host-slave. It mirrors original_source's Process: a pid plus an
// exit event fired when the owning slave reports a returncode.
type RemoteProcess struct {
	SlaveID string
	JobID   string
	Pid     int

	mu         sync.Mutex
	exited     bool
	returncode int
	done       chan struct{}
}

func NewRemoteProcess(slaveID, jobID string, pid int) *RemoteProcess {
	return &RemoteProcess{
		SlaveID: slaveID,
		JobID:   jobID,
		Pid:     pid,
		done:    make(chan struct{}),
	}
}

// Wait blocks until Update has been called, then returns the returncode.
func (p *RemoteProcess) Wait() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.returncode
}

// Update records the worker's exit and fires Wait's channel exactly once.
func (p *RemoteProcess) Update(returncode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.returncode = returncode
	close(p.done)
}

func (p *RemoteProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}
