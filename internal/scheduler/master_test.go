package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	return &Master{
		Registry:           NewRegistry(t.TempDir(), 0),
		Slaves:             NewSlaveManager(zap.NewNop()),
		Metrics:            NewMetrics(prometheus.NewRegistry()),
		Logger:             zap.NewNop(),
		MinJobResponseTime: time.Minute,
		SubmitTimeout:      time.Second,
	}
}

func TestHandleArtifactRequestReturnsArtifactByIndex(t *testing.T) {
	m := newTestMaster(t)
	mj := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{})
	mj.AddArtifact(&model.Artifact{AID: "a1", Name: "Subtitle", Type: model.ArtifactJSON, Path: "/media/jid-1/subtitle.json"})
	m.Registry.Create(mj)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	go m.handleArtifactRequest(c, proto.UserRequest{JobID: "jid-1", Artifact: 0})

	var reply proto.ArtifactReply
	require.NoError(t, cc.Recv(&reply))
	assert.Equal(t, string(model.ArtifactJSON), reply.ArtifactType)
}

func TestHandleArtifactRequestOutOfRangeReturnsError(t *testing.T) {
	m := newTestMaster(t)
	mj := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{})
	m.Registry.Create(mj)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	go m.handleArtifactRequest(c, proto.UserRequest{JobID: "jid-1", Artifact: 5})

	var reply proto.ErrorFrame
	require.NoError(t, cc.Recv(&reply))
	assert.NotEmpty(t, reply.Error)
}

func TestHandleArtifactRequestUnknownJobReturnsError(t *testing.T) {
	m := newTestMaster(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	go m.handleArtifactRequest(c, proto.UserRequest{JobID: "nope", Artifact: 0})

	var reply proto.ErrorFrame
	require.NoError(t, cc.Recv(&reply))
	assert.NotEmpty(t, reply.Error)
}

func TestHandleQuerySendsSnapshotThenBroadcasts(t *testing.T) {
	m := newTestMaster(t)
	mj := model.NewJob("jid-1", model.JobTypeYouTube, model.Media{})
	m.Registry.Create(mj)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup func()
	done := make(chan struct{})
	go func() {
		cleanup = m.handleQuery(ctx, c, "jid-1")
		close(done)
	}()

	var snap model.Job
	require.NoError(t, cc.Recv(&snap))
	assert.Equal(t, "jid-1", snap.JID)

	<-done
	require.NotNil(t, cleanup)
	defer cleanup()

	job, err := m.Registry.Get("jid-1")
	require.NoError(t, err)
	job.Model.Update(model.JobStatusRunning, nil, "")
	job.Broadcast()

	var update model.Job
	require.NoError(t, cc.Recv(&update))
	assert.Equal(t, model.JobStatusRunning, update.Status)
}

func TestHandleQueryWildcardSendsEverySnapshotThenBroadcasts(t *testing.T) {
	m := newTestMaster(t)
	a := model.NewJob("jid-a", model.JobTypeYouTube, model.Media{})
	b := model.NewJob("jid-b", model.JobTypeYouTube, model.Media{})
	m.Registry.Create(a)
	m.Registry.Create(b)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup func()
	done := make(chan struct{})
	go func() {
		cleanup = m.handleQuery(ctx, c, "*")
		close(done)
	}()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var snap model.Job
		require.NoError(t, cc.Recv(&snap))
		seen[snap.JID] = true
	}
	assert.True(t, seen["jid-a"])
	assert.True(t, seen["jid-b"])

	<-done
	require.NotNil(t, cleanup)
	defer cleanup()

	jobA, err := m.Registry.Get("jid-a")
	require.NoError(t, err)
	jobA.Model.Update(model.JobStatusRunning, nil, "")
	jobA.Broadcast()

	var update model.Job
	require.NoError(t, cc.Recv(&update))
	assert.Equal(t, "jid-a", update.JID)
	assert.Equal(t, model.JobStatusRunning, update.Status)
}

func TestHandleQueryUnknownJobSendsError(t *testing.T) {
	m := newTestMaster(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := wire.New(server)
	cc := wire.New(client)

	go m.handleQuery(context.Background(), c, "nope")

	var reply proto.ErrorFrame
	require.NoError(t, cc.Recv(&reply))
	assert.NotEmpty(t, reply.Error)
}
