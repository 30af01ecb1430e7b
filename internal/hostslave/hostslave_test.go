package hostslave

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/proto"
	"github.com/jc-comp/karaoke-scheduler/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// longRunningScript writes a tiny shell script that ignores whatever argv
// it's given and sleeps, standing in for a worker binary that outlives a
// terminate signal long enough to observe.
func longRunningScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	return path
}

// sigtermTrappingScript writes a marker file only if it receives SIGTERM;
// left untrapped, SIGINT's default action kills it without ever writing
// the marker, so the marker's presence proves which signal actually
// arrived.
func sigtermTrappingScript(t *testing.T, markerPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	script := "#!/bin/sh\ntrap 'touch " + markerPath + "; exit 0' TERM\nsleep 30\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestTerminateWorkerSendsSIGTERMNotSIGINT(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	marker := filepath.Join(t.TempDir(), "got-sigterm")
	s := New("", sigtermTrappingScript(t, marker), 1, zap.NewNop())
	c := wire.New(server)
	cc := wire.New(client)

	go s.spawnWorker(context.Background(), c, "jid-1")

	var submitAck proto.SlaveFrame
	require.NoError(t, cc.Recv(&submitAck))
	require.NotNil(t, submitAck.Pid)

	s.terminateWorker("jid-1")

	var update proto.SlaveFrame
	require.NoError(t, cc.Recv(&update))

	_, err := os.Stat(marker)
	assert.NoError(t, err, "terminateWorker must send SIGTERM, not SIGINT, for its trap to fire")
}

func TestSpawnWorkerAcksPidThenReportsExit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New("", "/usr/bin/true", 2, zap.NewNop())
	c := wire.New(server)
	cc := wire.New(client)

	s.spawnWorker(context.Background(), c, "jid-1")

	var submitAck proto.SlaveFrame
	require.NoError(t, cc.Recv(&submitAck))
	assert.Equal(t, proto.SlaveActionSubmit, submitAck.Action)
	require.NotNil(t, submitAck.Pid)
	assert.Greater(t, *submitAck.Pid, 0)

	var update proto.SlaveFrame
	require.NoError(t, cc.Recv(&update))
	assert.Equal(t, proto.SlaveActionUpdate, update.Action)
	require.NotNil(t, update.Returncode)
	assert.Equal(t, 0, *update.Returncode)

	assert.Eventually(t, func() bool { return s.occupied() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSpawnWorkerAckFailsPidNilOnBadBinary(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New("", "/no/such/binary-xyz", 1, zap.NewNop())
	c := wire.New(server)
	cc := wire.New(client)

	s.spawnWorker(context.Background(), c, "jid-1")

	var submitAck proto.SlaveFrame
	require.NoError(t, cc.Recv(&submitAck))
	assert.Equal(t, proto.SlaveActionSubmit, submitAck.Action)
	assert.Nil(t, submitAck.Pid)
}

func TestTerminateWorkerSignalsTrackedChild(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New("", longRunningScript(t), 1, zap.NewNop())
	c := wire.New(server)
	cc := wire.New(client)

	go s.spawnWorker(context.Background(), c, "jid-1")

	var submitAck proto.SlaveFrame
	require.NoError(t, cc.Recv(&submitAck))
	require.NotNil(t, submitAck.Pid)

	s.terminateWorker("jid-1")

	var update proto.SlaveFrame
	require.NoError(t, cc.Recv(&update))
	assert.Equal(t, proto.SlaveActionUpdate, update.Action)
}
