package scheduler

import (
	"testing"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNewEventCacheReturnsNilWithoutAddr(t *testing.T) {
	assert.Nil(t, NewEventCache("", "", 0, 0, nil))
}

func TestNilEventCacheMirrorAndReplayAreNoOps(t *testing.T) {
	var ec *EventCache
	ec.Mirror(model.NewJob("jid-1", model.JobTypeYouTube, model.Media{}))
	assert.Empty(t, ec.Replay("jid-1"))
	assert.NoError(t, ec.Ping(nil))
	assert.NoError(t, ec.Close())
}

func TestStreamKeyNamespacesByJobID(t *testing.T) {
	assert.Equal(t, "job:jid-1", streamKey("jid-1"))
}

func TestRegistryEventsIsNilSafeWhenCacheUnset(t *testing.T) {
	r := NewRegistry(t.TempDir(), 0)
	assert.Nil(t, r.Events("jid-1"))
}
