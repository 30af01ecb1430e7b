// Package wire implements the NUL-delimited JSON framing protocol shared by
// every peer-to-peer connection in the system: master<->host-slave,
// master<->worker, and a worker's own subprocess/daemon transports. Any
// io.ReadWriteCloser can carry it, so the same Conn type rides a TCP
// net.Conn, a Unix domain socket, or an os.Pipe pair to a child process.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
)

// byeGracePeriod bounds how long Close waits for the peer's own {"bye":true}
// ack before giving up and closing the socket anyway. A var, not a const,
// so tests can shrink it.
var byeGracePeriod = 3 * time.Second

// Conn frames JSON messages over an underlying stream using a single NUL
// byte as the delimiter. Writes are serialized through a mutex so that
// concurrent senders never interleave partial frames; reads are not
// expected to be concurrent and are left to a single reader goroutine per
// Conn, matching how every caller in this system uses it.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New wraps rwc in a framed Conn.
func New(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
	}
}

// Send serializes v as JSON and writes it followed by a single NUL byte.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	data = append(data, 0)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rwc.Write(data); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// Recv reads the next NUL-delimited frame and unmarshals it into v. It
// returns model.ErrPeerGone when the peer closed the stream without first
// sending a {"bye":true} message (io.EOF with no trailing frame).
func (c *Conn) Recv(v any) error {
	line, err := c.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			return model.ErrPeerGone
		}
		return fmt.Errorf("wire: read: %w", err)
	}
	line = line[:len(line)-1] // drop trailing NUL
	if len(line) == 0 {
		return c.Recv(v)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

type byeMessage struct {
	Bye bool `json:"bye"`
}

// IsBye reports whether a raw decoded message is the {"bye":true} handshake.
func IsBye(raw json.RawMessage) bool {
	var b byeMessage
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b.Bye
}

// Bye sends the {"bye":true} handshake that signals a graceful close.
func (c *Conn) Bye() error {
	return c.Send(byeMessage{Bye: true})
}

// Close sends a best-effort bye handshake, waits up to byeGracePeriod for
// the peer's own bye ack, then closes the underlying stream. Errors from
// the handshake are ignored: the peer may already be gone, which is
// exactly the condition Close exists to tolerate.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Bye()
		c.waitForPeerBye(byeGracePeriod)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// waitForPeerBye blocks until the peer's own {"bye":true} frame is seen, the
// underlying stream errors (e.g. the peer already hung up), or timeout
// elapses, whichever comes first. Frames that aren't the bye handshake are
// discarded; by the time Close calls this, no caller has any further use
// for the connection's contents.
func (c *Conn) waitForPeerBye(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			raw, err := c.RawMessage()
			if err != nil {
				return
			}
			if IsBye(raw) {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// RawMessage decodes only enough of the next frame to inspect a discriminator
// field (e.g. "action" or "role") before committing to a concrete type.
func (c *Conn) RawMessage() (json.RawMessage, error) {
	line, err := c.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			return nil, model.ErrPeerGone
		}
		return nil, fmt.Errorf("wire: read: %w", err)
	}
	line = line[:len(line)-1]
	if len(line) == 0 {
		return c.RawMessage()
	}
	return json.RawMessage(line), nil
}
