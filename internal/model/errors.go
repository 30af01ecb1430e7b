package model

import "errors"

var (
	// ErrPeerGone is returned by the wire codec when the remote end closed
	// the connection without sending a bye handshake.
	ErrPeerGone = errors.New("model: peer gone")

	// ErrNoSlavesAvailable is returned by the scheduler when no idle
	// host-slave can accept a submission.
	ErrNoSlavesAvailable = errors.New("model: no slaves available")

	// ErrSubmitTimeout is returned when a job submission does not receive
	// the host-slave's pid ack before the configured deadline, or the ack
	// carries no pid.
	ErrSubmitTimeout = errors.New("model: submit timed out waiting for slave")

	// ErrJobNotFound is returned by job lookups, memory-resident or on disk.
	ErrJobNotFound = errors.New("model: job not found")

	// ErrTaskNotFound is returned when a task name does not exist on a job.
	ErrTaskNotFound = errors.New("model: task not found")

	// ErrArtifactNotFound is returned when an artifact name does not exist.
	ErrArtifactNotFound = errors.New("model: artifact not found")

	// ErrPrerequisiteFailed marks a task canceled because an upstream task
	// did not reach a success state.
	ErrPrerequisiteFailed = errors.New("model: prerequisite not fulfilled")

	// ErrInvalidTransition is returned when a status update would move a
	// Job or Task backwards out of a terminal state.
	ErrInvalidTransition = errors.New("model: invalid status transition")
)
