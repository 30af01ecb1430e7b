package tasks

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEmitter is a minimal pipeline.Emitter that records every log and
// passive-update call, so a task body's progress routing can be asserted on
// without a real RemoteJob/binder.
type recordingEmitter struct {
	info    []string
	passive []string
}

func (e *recordingEmitter) JID() string        { return "jid-1" }
func (e *recordingEmitter) Media() model.Media { return model.Media{} }
func (e *recordingEmitter) PassiveUpdateTask(tid, message string) {
	e.passive = append(e.passive, message)
}
func (e *recordingEmitter) SetPassingArgs(tid string, args map[string]any) {}
func (e *recordingEmitter) AddTaskArtifact(tid string, a *model.Artifact, tag string) {}
func (e *recordingEmitter) Log(level, message string) {
	if level == "info" {
		e.info = append(e.info, message)
	}
}

func TestWriteJSONThenReadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.json")

	in := []Word{{Word: "hi", Start: 1, End: 2}}
	require.NoError(t, writeJSON(path, in))

	var out []Word
	require.True(t, readJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestReadJSONMissingFileReturnsFalse(t *testing.T) {
	var out []Word
	assert.False(t, readJSON(filepath.Join(t.TempDir(), "nope.json"), &out))
}

func TestArgStringReturnsEmptyWhenAbsentOrWrongType(t *testing.T) {
	rt := &pipeline.Runtime{Args: map[string]any{"title": "Bohemian Rhapsody", "count": 3}}
	assert.Equal(t, "Bohemian Rhapsody", argString(rt, "title"))
	assert.Empty(t, argString(rt, "count"))
	assert.Empty(t, argString(rt, "missing"))
}

func TestArgDecodeRoundTripsStructuredValues(t *testing.T) {
	rt := &pipeline.Runtime{Args: map[string]any{
		"transcription": []any{map[string]any{"word": "hi", "start": 1.0, "end": 2.0}},
	}}

	var words []Word
	ok := argDecode(rt, "transcription", &words)

	require.True(t, ok)
	require.Len(t, words, 1)
	assert.Equal(t, "hi", words[0].Word)
	assert.Equal(t, 1.0, words[0].Start)
}

func TestArgDecodeMissingKeyReturnsFalse(t *testing.T) {
	rt := &pipeline.Runtime{Args: map[string]any{}}
	var words []Word
	assert.False(t, argDecode(rt, "transcription", &words))
}

func TestScanProgressRoutesNewlinesToInfoAndCarriageReturnsToPassiveUpdate(t *testing.T) {
	rec := &recordingEmitter{}
	rt := pipeline.NewRuntime("t1", nil, rec)

	r := bytes.NewBufferString("downloading... 10%\rdownloading... 50%\rdone\n")
	scanProgress(r, rt)

	assert.Equal(t, []string{"downloading... 10%", "downloading... 50%"}, rec.passive)
	assert.Equal(t, []string{"done"}, rec.info)
}
