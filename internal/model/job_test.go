package model

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobIsPending(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{URL: "https://youtu.be/x"})
	assert.Equal(t, JobStatusPending, j.Status)
	assert.False(t, j.Status.IsTerminal())
}

func TestJobUpdateIgnoredOnceTerminal(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{})
	j.Update(JobStatusCompleted, nil, "")
	require.Equal(t, JobStatusCompleted, j.Status)

	j.Update(JobStatusRunning, nil, "ignored")
	assert.Equal(t, JobStatusCompleted, j.Status, "a terminal job must never transition again")
	assert.Empty(t, j.Message, "a terminal job must never pick up a later message either")
}

func TestJobUpdateSetsMessageOnlyWhenNonEmpty(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{})
	j.Update(JobStatusRunning, nil, "downloading")
	assert.Equal(t, "downloading", j.Message)

	j.Update("", nil, "")
	assert.Equal(t, "downloading", j.Message, "an empty message must not blank out the last one seen")
}

// TestJobUpdatePreservesUnrelatedFields guards the partial-patch contract
// Update makes: a status/message-only patch must leave every other field
// byte-for-byte as it was, so a diff against the pre-patch Job isolates
// exactly the fields the caller intended to touch.
func TestJobUpdatePreservesUnrelatedFields(t *testing.T) {
	before := NewJob("jid-1", JobTypeYouTube, Media{URL: "https://youtu.be/x"})
	before.AddTask(&Task{TID: "t1", Status: TaskStatusQueued})
	before.ArtifactTags = map[string]int{"subtitles": 0}

	after := *before
	after.Tasks = append([]*Task{}, before.Tasks...)
	after.ArtifactTags = map[string]int{"subtitles": 0}
	after.Update(JobStatusRunning, nil, "started")

	diff := cmp.Diff(before.Tasks, after.Tasks)
	assert.Empty(t, diff, "Update must not touch Tasks")
	diff = cmp.Diff(before.ArtifactTags, after.ArtifactTags)
	assert.Empty(t, diff, "Update must not touch ArtifactTags")
	assert.Equal(t, JobStatusRunning, after.Status)
	assert.Equal(t, "started", after.Message)
}

func TestJobFinalStatusPrefersInterruptedOverFailed(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{})
	j.AddTask(&Task{TID: "t1", Status: TaskStatusFailed})
	j.AddTask(&Task{TID: "t2", Status: TaskStatusInterrupted})
	assert.Equal(t, JobStatusInterrupted, j.FinalStatus())
}

func TestJobFinalStatusFailedWhenAnyTaskDidNotSucceed(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{})
	j.AddTask(&Task{TID: "t1", Status: TaskStatusCompleted})
	j.AddTask(&Task{TID: "t2", Status: TaskStatusFailed})
	assert.Equal(t, JobStatusFailed, j.FinalStatus())
}

func TestJobFinalStatusCompletedAllowsSoftFailures(t *testing.T) {
	j := NewJob("jid-1", JobTypeYouTube, Media{})
	j.AddTask(&Task{TID: "t1", Status: TaskStatusCompleted})
	j.AddTask(&Task{TID: "t2", Status: TaskStatusSoftFailed})
	j.AddTask(&Task{TID: "t3", Status: TaskStatusSkipped})
	assert.Equal(t, JobStatusCompleted, j.FinalStatus())
}

func TestCachePathIsScopedPerJob(t *testing.T) {
	a := CachePath("/media", "jid-a", "video", "mp4")
	b := CachePath("/media", "jid-b", "video", "mp4")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "/media/jid-a/video.mp4", a)
}

func TestTaskUpdateIgnoredOnceTerminal(t *testing.T) {
	task := NewTask("t1", "download_video")
	task.Update(TaskStatusCompleted, "done")
	task.Update(TaskStatusFailed, "too late")
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, "done", task.Message)
}

func TestTaskPassiveUpdateNeverDowngradesTerminalOrInterrupting(t *testing.T) {
	task := NewTask("t1", "identify")
	task.Update(TaskStatusInterrupting, "")
	task.PassiveUpdate("50%")
	assert.Empty(t, task.Output, "passive update must not apply while interrupting")

	task2 := NewTask("t2", "identify")
	task2.Update(TaskStatusCompleted, "")
	task2.PassiveUpdate("should not land")
	assert.Empty(t, task2.Output)
}

func TestJobStatusJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(JobStatusRunning)
	require.NoError(t, err)
	assert.JSONEq(t, `"running"`, string(raw))

	var s JobStatus
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, JobStatusRunning, s)
}

func TestJobStatusJSONRejectsUnknownValue(t *testing.T) {
	var s JobStatus
	err := json.Unmarshal([]byte(`"not-a-status"`), &s)
	assert.Error(t, err)
}

func TestTaskStatusIsSuccessAndIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusSoftFailed.IsSuccess())
	assert.True(t, TaskStatusSkipped.IsSuccess())
	assert.False(t, TaskStatusFailed.IsSuccess())

	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusQueued.IsTerminal())
}
