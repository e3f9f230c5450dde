// Package stream provides the operator-side half of the checkpointing
// contract: a wrapper that turns any stateful operator into a participant in
// coordinated checkpoints.
package stream

import "errors"

var (
	// ErrSnapshot wraps failures to produce or persist an operator
	// snapshot. It fails that checkpoint attempt only; it never crashes
	// the operator or the coordinator.
	ErrSnapshot = errors.New("snapshot failed")

	// ErrOperatorRunning is returned when RestoreState is called while the
	// operator is running. State is only restored while stopped.
	ErrOperatorRunning = errors.New("operator is running")
)

// StateSnapshotter is what a user-defined operator must expose to become
// fault tolerant. The operator owns its serialization format; the
// coordination layer never inspects the bytes.
//
// CreateStateSnapshot must return a consistent view even while the
// operator's processing path is concurrently mutating state. Use a
// copy-on-read or an internal lock to avoid tearing; the coordinator does
// not enforce this.
type StateSnapshotter interface {
	CreateStateSnapshot() ([]byte, error)
	RestoreState(data []byte) error
}

// Lifecycle is optionally implemented by wrapped operators that need
// start/stop hooks around recovery.
type Lifecycle interface {
	Start() error
	Stop() error
}
