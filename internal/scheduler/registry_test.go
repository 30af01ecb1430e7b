package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateEvictsOneFinishedJobAtCapacity(t *testing.T) {
	r := NewRegistry(t.TempDir(), 1)

	first := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{})
	firstJob := r.Create(first)
	firstJob.Model.Update(model.JobStatusCompleted, nil, "")
	require.Equal(t, 1, r.Len())

	second := model.NewJob("jid-2", model.JobTypeYouTube, model.Media{})
	r.Create(second)

	assert.Equal(t, 1, r.Len(), "registry at capacity must evict the finished job before adding a new one")
	_, err := r.Get("jid-2")
	assert.NoError(t, err)
}

func TestRegistryDumpAndLoadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, 0)

	m := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{URL: "https://youtu.be/x"})
	j := r.Create(m)
	require.NoError(t, r.Dump(j))

	reloaded := NewRegistry(dir, 0)
	require.NoError(t, reloaded.LoadAll())
	assert.Equal(t, 1, reloaded.Len())

	got, err := reloaded.Get("jid-1")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/x", got.Model.Media.URL)
}

func TestRegistryGetFallsBackToDiskWhenNotResident(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, 0)

	m := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{})
	data, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jid-1.json"), data, 0o644))

	got, err := r.Get("jid-1")
	require.NoError(t, err)
	assert.Equal(t, "jid-1", got.Model.JID)
}

func TestRegistryGetUnknownJobReturnsNotFound(t *testing.T) {
	r := NewRegistry(t.TempDir(), 0)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}
