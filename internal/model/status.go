// Package model defines the Job/Task/Artifact data model shared by the
// master, host-slave and worker processes.
package model

import (
	"encoding/json"
	"fmt"
)

// JobType names where a Job's source media came from.
type JobType string

const (
	JobTypeYouTube JobType = "youtube"
	JobTypeLocal   JobType = "local"
)

func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeYouTube, JobTypeLocal:
		return JobType(s), nil
	default:
		return "", fmt.Errorf("unknown job_type %q", s)
	}
}

func (t JobType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

func (t *JobType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseJobType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// JobStatus is the one-way lifecycle described in spec.md §4.1.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusQueued       JobStatus = "queued"
	JobStatusCreated      JobStatus = "created"
	JobStatusRunning      JobStatus = "running"
	JobStatusInterrupting JobStatus = "interrupting"
	JobStatusInterrupted  JobStatus = "interrupted"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCanceled     JobStatus = "canceled"
)

func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusQueued, JobStatusCreated, JobStatusRunning,
		JobStatusInterrupting, JobStatusInterrupted, JobStatusCompleted,
		JobStatusFailed, JobStatusCanceled:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseJobStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further status transition is legal.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusInterrupted, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobAction is a control-plane action a user may request against a running job.
type JobAction string

const (
	JobActionStart   JobAction = "start"
	JobActionPause   JobAction = "pause"
	JobActionStop    JobAction = "stop"
	JobActionRestart JobAction = "restart"
	JobActionDelete  JobAction = "delete"
)

func ParseJobAction(s string) (JobAction, error) {
	switch JobAction(s) {
	case JobActionStart, JobActionPause, JobActionStop, JobActionRestart, JobActionDelete:
		return JobAction(s), nil
	default:
		return "", fmt.Errorf("unknown job action %q", s)
	}
}

// TaskStatus is the per-Task lifecycle described in spec.md §3/§4.5.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusQueued       TaskStatus = "queued"
	TaskStatusRunning      TaskStatus = "running"
	TaskStatusInterrupting TaskStatus = "interrupting"
	TaskStatusInterrupted  TaskStatus = "interrupted"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusSoftFailed   TaskStatus = "soft_failed"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusCanceled     TaskStatus = "canceled"
	TaskStatusSkipped      TaskStatus = "skipped"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning, TaskStatusInterrupting,
		TaskStatusInterrupted, TaskStatusCompleted, TaskStatusSoftFailed,
		TaskStatusFailed, TaskStatusCanceled, TaskStatusSkipped:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTaskStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsRunning reports whether the task currently occupies a runner slot.
func (s TaskStatus) IsRunning() bool {
	switch s {
	case TaskStatusRunning, TaskStatusQueued, TaskStatusInterrupting:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether prerequisites depending on this task may proceed.
func (s TaskStatus) IsSuccess() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusSkipped, TaskStatusSoftFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task will never transition again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusSoftFailed, TaskStatusFailed,
		TaskStatusCanceled, TaskStatusSkipped, TaskStatusInterrupted:
		return true
	default:
		return false
	}
}

// ArtifactType names the shape of an Artifact's payload.
type ArtifactType string

const (
	ArtifactVideo    ArtifactType = "video"
	ArtifactAudio    ArtifactType = "audio"
	ArtifactJSON     ArtifactType = "json"
	ArtifactText     ArtifactType = "text"
	ArtifactSegments ArtifactType = "segments"
)

func ParseArtifactType(s string) (ArtifactType, error) {
	switch ArtifactType(s) {
	case ArtifactVideo, ArtifactAudio, ArtifactJSON, ArtifactText, ArtifactSegments:
		return ArtifactType(s), nil
	default:
		return "", fmt.Errorf("unknown artifact type %q", s)
	}
}

func (t ArtifactType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

func (t *ArtifactType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseArtifactType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
