// Package proto defines the JSON frame shapes exchanged over the framed
// connection between Master, Host-slave and Worker, per spec.md §2/§4.
package proto

import "encoding/json"

// Role identifies which of the three peer kinds opened a connection to
// the Master. It is read from the first frame's "role" field.
type Role string

const (
	RoleUser   Role = "user"
	RoleWorker Role = "worker"
	RoleSlave  Role = "slave"
)

// Hello is the first frame sent on every Master-facing connection.
type Hello struct {
	Role  Role   `json:"role"`
	JobID string `json:"jobId,omitempty"`
}

// UserAction names the four actions a user connection may send.
type UserAction string

const (
	ActionSubmit   UserAction = "submit"
	ActionQuery    UserAction = "query"
	ActionArtifact UserAction = "artifact"
	ActionControl  UserAction = "control"
)

// UserRequest is any frame a user connection sends after Hello.
type UserRequest struct {
	Action   UserAction      `json:"action"`
	Job      json.RawMessage `json:"job,omitempty"`
	JobID    string          `json:"jobId,omitempty"`
	Artifact int             `json:"artifact,omitempty"`
	Control  string          `json:"control,omitempty"`
}

// ArtifactReply answers a user's {action:artifact} request.
type ArtifactReply struct {
	ArtifactType string `json:"artifact_type"`
	Artifact     any    `json:"artifact"`
}

// ErrorFrame carries a control-plane error back to the peer.
type ErrorFrame struct {
	Error string `json:"error"`
}

// SlaveAction names the four frames carried on the Master<->Host-slave
// control channel, independent of direction.
type SlaveAction string

const (
	SlaveActionSubmit    SlaveAction = "submit"
	SlaveActionTerminate SlaveAction = "terminate"
	SlaveActionUpdate    SlaveAction = "update"
	SlaveActionStatus    SlaveAction = "slave"
)

// SlaveFrame is the single wire shape for every Master<->Host-slave
// message; unused fields are omitted by the zero-value/omitempty pairing.
type SlaveFrame struct {
	Action     SlaveAction `json:"action"`
	JobID      string      `json:"jobId,omitempty"`
	Pid        *int        `json:"pid,omitempty"`
	Returncode *int        `json:"returncode,omitempty"`
	Working    *bool       `json:"working,omitempty"`
}

// ByeFrame is the graceful-shutdown handshake shared by every role.
type ByeFrame struct {
	Bye bool `json:"bye"`
}
