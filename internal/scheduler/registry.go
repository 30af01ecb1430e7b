// Package scheduler implements the Master process: job registry, slave
// pool, round-robin scheduling, watchdog, and listener fan-out.
package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
)

// Registry is the in-memory, authoritative job table, backed by atomic
// JSON dumps under mediaPath so the Master can reload state on restart.
type Registry struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	mediaPath  string
	maxJobs    int
	eventCache *EventCache

	globalMu        sync.Mutex
	globalListeners map[chan *model.Job]struct{}
}

// Job wraps a model.Job with the Master-side bookkeeping CacheJob added in
// the source system: listeners, the attached remote process handle, and
// the watchdog's last-update clock.
type Job struct {
	mu sync.Mutex

	Model *model.Job

	listeners  map[chan *model.Job]struct{}
	process    *RemoteProcess
	lastSeen   int64 // unix seconds, watchdog liveness clock
	eventCache *EventCache
	registry   *Registry
}

func newJob(m *model.Job) *Job {
	return &Job{Model: m, listeners: map[chan *model.Job]struct{}{}}
}

// AddListener registers ch to receive every future update to this job. The
// caller owns ch and must drain it; RemoveListener removes it.
func (j *Job) AddListener(ch chan *model.Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listeners[ch] = struct{}{}
}

func (j *Job) RemoveListener(ch chan *model.Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.listeners, ch)
}

// Broadcast pushes a snapshot of the job to every registered listener,
// dropping the send instead of blocking a slow observer.
func (j *Job) Broadcast() {
	j.mu.Lock()
	for ch := range j.listeners {
		select {
		case ch <- j.Model:
		default:
		}
	}
	snap := j.Model
	j.eventCache.Mirror(j.Model)
	registry := j.registry
	j.mu.Unlock()

	registry.broadcastGlobal(snap)
}

// NewRegistry constructs an empty registry rooted at mediaPath.
func NewRegistry(mediaPath string, maxJobs int) *Registry {
	return &Registry{
		jobs:      map[string]*Job{},
		mediaPath: mediaPath,
		maxJobs:   maxJobs,
	}
}

// SetEventCache attaches the job-event replay cache used by every Job this
// registry creates or loads from here on. Passing nil disables it.
func (r *Registry) SetEventCache(ec *EventCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventCache = ec
}

// Events returns the job snapshots replayed from jid's event stream, or nil
// when replay caching is disabled.
func (r *Registry) Events(jid string) []*model.Job {
	r.mu.RLock()
	ec := r.eventCache
	r.mu.RUnlock()
	return ec.Replay(jid)
}

// All returns every job currently resident in memory, for the "*" query
// that snapshots every job at once.
func (r *Registry) All() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// AddGlobalListener registers ch to receive a snapshot of every job's
// Broadcast, resident at subscription time or created afterwards, for the
// spec's "query for all jobs" action.
func (r *Registry) AddGlobalListener(ch chan *model.Job) {
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	if r.globalListeners == nil {
		r.globalListeners = map[chan *model.Job]struct{}{}
	}
	r.globalListeners[ch] = struct{}{}
}

// RemoveGlobalListener undoes AddGlobalListener.
func (r *Registry) RemoveGlobalListener(ch chan *model.Job) {
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	delete(r.globalListeners, ch)
}

func (r *Registry) broadcastGlobal(snap *model.Job) {
	if r == nil {
		return
	}
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	for ch := range r.globalListeners {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Create registers a brand-new pending Job, evicting one finished job from
// memory first if the registry is already at capacity (the disk copy of
// the evicted job is untouched).
func (r *Registry) Create(m *model.Job) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxJobs > 0 && len(r.jobs) >= r.maxJobs {
		r.evictOneFinishedLocked()
	}
	j := newJob(m)
	j.eventCache = r.eventCache
	j.registry = r
	r.jobs[m.JID] = j
	return j
}

func (r *Registry) evictOneFinishedLocked() {
	for jid, j := range r.jobs {
		j.mu.Lock()
		finished := j.Model.Status.IsTerminal()
		j.mu.Unlock()
		if finished {
			delete(r.jobs, jid)
			return
		}
	}
}

// Get returns the in-memory Job, falling back to the on-disk dump if it
// isn't resident.
func (r *Registry) Get(jid string) (*Job, error) {
	r.mu.RLock()
	j, ok := r.jobs[jid]
	r.mu.RUnlock()
	if ok {
		return j, nil
	}

	m, err := r.loadFromDisk(jid)
	if err != nil {
		return nil, err
	}
	j := newJob(m)
	r.mu.RLock()
	j.eventCache = r.eventCache
	r.mu.RUnlock()
	j.registry = r
	return j, nil
}

func (r *Registry) loadFromDisk(jid string) (*model.Job, error) {
	path := model.DumpPath(r.mediaPath, jid)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrJobNotFound
	}
	var m model.Job
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Dump atomically persists a Job's current state to <media_path>/<jid>.json
// via a temp file + rename, so a reader never observes a partial write.
func (r *Registry) Dump(j *Job) error {
	j.mu.Lock()
	data, err := json.MarshalIndent(j.Model, "", "  ")
	jid := j.Model.JID
	j.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.mediaPath, 0o755); err != nil {
		return err
	}
	final := model.DumpPath(r.mediaPath, jid)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// LoadAll reconstructs the registry's in-memory state from every
// <jid>.json dump found under mediaPath. Called once at Master startup.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.mediaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.mediaPath, e.Name()))
		if err != nil {
			continue
		}
		var m model.Job
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		j := newJob(&m)
		j.eventCache = r.eventCache
		j.registry = r
		r.jobs[m.JID] = j
	}
	return nil
}

// Remove drops a job from memory (used when a submission to a slave
// fails). The disk dump, if any, is left alone.
func (r *Registry) Remove(jid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jid)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
