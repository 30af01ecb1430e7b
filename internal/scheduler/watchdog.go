package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"go.uber.org/zap"
)

const watchdogPollInterval = 60 * time.Second

// Watchdog polls a single running job's liveness clock and interrupts it
// if the worker goes quiet for longer than minResponseTime. One instance
// runs per job with an attached remote process, grounded on
// original_source's process_guard loop (60s poll, 300s default timeout).
type Watchdog struct {
	job             *Job
	slave           *Slave
	minResponseTime time.Duration
	registry        *Registry
	metrics         *Metrics
	logger          *zap.Logger
}

func NewWatchdog(j *Job, s *Slave, minResponseTime time.Duration, reg *Registry, m *Metrics, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		job:             j,
		slave:           s,
		minResponseTime: minResponseTime,
		registry:        reg,
		metrics:         m,
		logger:          logger,
	}
}

// Run blocks until the job finishes, the process exits, or ctx is
// canceled, polling liveness every watchdogPollInterval.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(watchdogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.job.mu.Lock()
			finished := w.job.Model.Status.IsTerminal()
			idleFor := time.Since(time.Unix(w.job.lastSeen, 0))
			w.job.mu.Unlock()

			if finished {
				return
			}
			if idleFor <= w.minResponseTime {
				continue
			}

			w.logger.Warn("watchdog: job unresponsive, interrupting",
				zap.String("jid", w.job.Model.JID),
				zap.Duration("idle_for", idleFor))
			if w.metrics != nil {
				w.metrics.WatchdogInterrupts.Inc()
			}

			w.job.mu.Lock()
			w.job.Model.Update(model.JobStatusInterrupting, nil, fmt.Sprintf("no update received in %s, interrupting", idleFor.Round(time.Second)))
			w.job.mu.Unlock()
			w.job.Broadcast()

			if w.slave != nil {
				_ = w.slave.Terminate(w.job.Model.JID)
			}

			w.job.mu.Lock()
			w.job.Model.Status = model.JobStatusInterrupted
			now := time.Now()
			w.job.Model.FinishedAt = &now
			w.job.mu.Unlock()
			w.job.Broadcast()
			if w.registry != nil {
				_ = w.registry.Dump(w.job)
			}
			return
		}
	}
}

// touch bumps the job's liveness clock; called on every forwarded worker
// update.
func (j *Job) touch() {
	j.mu.Lock()
	j.lastSeen = time.Now().Unix()
	j.mu.Unlock()
}
