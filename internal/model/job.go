package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// Job is the root unit of work tracked by the scheduler and executed by a
// worker's task pipeline.
type Job struct {
	JID          string         `json:"jid"`
	Type         JobType        `json:"type"`
	Status       JobStatus      `json:"status"`
	Message      string         `json:"message,omitempty"`
	Media        Media          `json:"media"`
	Tasks        []*Task        `json:"tasks,omitempty"`
	Artifacts    []*Artifact    `json:"artifacts,omitempty"`
	ArtifactTags map[string]int `json:"artifact_tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	SlaveID      string         `json:"slave_id,omitempty"`
}

// NewJob constructs a fresh pending Job. jid is caller-supplied (normally a
// uuid.New().String()) so the caller controls ID generation policy.
func NewJob(jid string, jobType JobType, media Media) *Job {
	now := time.Now()
	return &Job{
		JID:       jid,
		Type:      jobType,
		Status:    JobStatusPending,
		Media:     media,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CachePath returns the canonical on-disk path for a pipeline stage's cache
// artifact under mediaPath: <media_path>/<jid>/<stage>.<ext>. Callers must
// always go through this helper rather than building bare basenames or
// passing absolute paths across job boundaries, so cache entries from one
// job are never mistaken for another's.
func CachePath(mediaPath, jid, stage, ext string) string {
	return filepath.Join(mediaPath, jid, fmt.Sprintf("%s.%s", stage, ext))
}

// DumpPath returns the path the Job itself is persisted to.
func DumpPath(mediaPath, jid string) string {
	return filepath.Join(mediaPath, fmt.Sprintf("%s.json", jid))
}

func (j *Job) AddTask(t *Task) {
	j.Tasks = append(j.Tasks, t)
}

func (j *Job) AddArtifact(a *Artifact) {
	j.Artifacts = append(j.Artifacts, a)
}

func (j *Job) GetArtifact(name string) (*Artifact, error) {
	for _, a := range j.Artifacts {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, ErrArtifactNotFound
}

func (j *Job) GetTask(name string) (*Task, error) {
	for _, t := range j.Tasks {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Update applies a partial status/media/message patch. A Job already in a
// terminal status never transitions again.
func (j *Job) Update(status JobStatus, media *Media, message string) {
	if j.Status.IsTerminal() {
		return
	}
	if status != "" {
		j.Status = status
	}
	if media != nil {
		j.Media.Update(*media)
	}
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = time.Now()
}

// IsFinished reports whether every task has left the pipeline's running set.
func (j *Job) IsFinished() bool {
	for _, t := range j.Tasks {
		if t.IsRunning() || t.IsPending() {
			return false
		}
	}
	return true
}

// FinalStatus aggregates task outcomes into the Job's terminal status: any
// interrupted task makes the job interrupted, any non-success task makes it
// failed, otherwise it completed.
func (j *Job) FinalStatus() JobStatus {
	anyFailed := false
	for _, t := range j.Tasks {
		if t.Status == TaskStatusInterrupted {
			return JobStatusInterrupted
		}
		if !t.IsSuccess() {
			anyFailed = true
		}
	}
	if anyFailed {
		return JobStatusFailed
	}
	return JobStatusCompleted
}

// Done finalizes the job once its pipeline has stopped running.
func (j *Job) Done() {
	j.Status = j.FinalStatus()
	now := time.Now()
	j.FinishedAt = &now
	j.UpdatedAt = now
}
