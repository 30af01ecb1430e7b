package wire

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeRWC adapts a bytes.Buffer pair into an io.ReadWriteCloser for
// round-tripping Send/Recv without a real socket.
type pipeRWC struct {
	*bytes.Buffer
}

func (p pipeRWC) Close() error { return nil }

// splitRWC reads from one buffer and writes to another, so what a Conn
// writes is not read back by its own Recv.
type splitRWC struct {
	r *bytes.Buffer
	w *bytes.Buffer
}

func (s splitRWC) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s splitRWC) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s splitRWC) Close() error                { return nil }

func TestSendRecvRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(pipeRWC{buf})

	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}

	require.NoError(t, c.Send(payload{Name: "hello", N: 3}))

	var got payload
	require.NoError(t, c.Recv(&got))
	assert.Equal(t, payload{Name: "hello", N: 3}, got)
}

func TestSendMultipleFramesAreNULDelimited(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(pipeRWC{buf})

	require.NoError(t, c.Send(map[string]int{"a": 1}))
	require.NoError(t, c.Send(map[string]int{"b": 2}))

	var first, second map[string]int
	require.NoError(t, c.Recv(&first))
	require.NoError(t, c.Recv(&second))
	assert.Equal(t, map[string]int{"a": 1}, first)
	assert.Equal(t, map[string]int{"b": 2}, second)
}

func TestRecvOnEOFReturnsPeerGone(t *testing.T) {
	c := New(pipeRWC{&bytes.Buffer{}})
	var v any
	err := c.Recv(&v)
	assert.ErrorIs(t, err, model.ErrPeerGone)
}

func TestByeThenClose(t *testing.T) {
	out := &bytes.Buffer{}
	c := New(splitRWC{r: &bytes.Buffer{}, w: out})
	require.NoError(t, c.Close())

	// Close wrote a bye frame before closing the underlying stream.
	data := out.Bytes()
	require.NotEmpty(t, data)
	assert.True(t, IsBye(bytes.TrimRight(data, "\x00")))
}

func TestCloseReturnsAsSoonAsPeerAcksBye(t *testing.T) {
	orig := byeGracePeriod
	byeGracePeriod = time.Second
	defer func() { byeGracePeriod = orig }()

	local, remote := net.Pipe()
	c := New(local)
	cr := New(remote)

	go func() {
		var v any
		_ = cr.Recv(&v) // our own bye
		_ = cr.Bye()
	}()

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), byeGracePeriod, "Close should return promptly once the peer acks")
}

func TestCloseGivesUpAfterGracePeriodIfPeerNeverAcks(t *testing.T) {
	orig := byeGracePeriod
	byeGracePeriod = 50 * time.Millisecond
	defer func() { byeGracePeriod = orig }()

	local, remote := net.Pipe()
	c := New(local)
	defer remote.Close()

	go func() {
		var v any
		_ = New(remote).Recv(&v) // drain our bye, never reply
	}()

	start := time.Now()
	require.NoError(t, c.Close())
	assert.GreaterOrEqual(t, time.Since(start), byeGracePeriod)
}

func TestRawMessageSkipsEmptyFrames(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{0}) // a stray empty frame
	buf.Write(append([]byte(`{"role":"user"}`), 0))
	c := New(pipeRWC{buf})

	raw, err := c.RawMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user"}`, string(raw))
}

var _ io.ReadWriteCloser = pipeRWC{}
