package checkpoint

import "time"

// Barrier is the marker broadcast to every registered operator when a
// checkpoint is triggered. It is immutable; operators snapshot their state
// for Barrier.CheckpointID when they receive it.
type Barrier struct {
	CheckpointID   int64
	Timestamp      time.Time
	SourceID       string
	SequenceNumber int64
	Metadata       map[string]string
}

// Operator is the coordination contract every fault-tolerant operator
// satisfies. The coordinator broadcasts barriers through it; the recovery
// manager drives lifecycle and restoration through it.
type Operator interface {
	// ID returns the unique identifier of the operator.
	ID() string

	// HandleBarrier schedules snapshot creation for the barrier's
	// checkpoint id. It must not block the caller.
	HandleBarrier(b Barrier)

	// CreateSnapshot serializes the operator's current state into an
	// opaque blob. The operator owns its serialization format.
	CreateSnapshot() ([]byte, error)

	// RestoreState replaces the operator's state from a blob previously
	// produced by CreateSnapshot. Called only while the operator is
	// stopped.
	RestoreState(data []byte) error

	// Start and Stop are lifecycle hooks used by recovery around
	// restoration.
	Start() error
	Stop() error
}
