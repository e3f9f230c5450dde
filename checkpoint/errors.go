package checkpoint

import "errors"

var (
	// ErrCheckpointTimeout is returned when not all operators reported
	// their snapshots within the configured checkpoint timeout.
	ErrCheckpointTimeout = errors.New("checkpoint timed out")

	// ErrCheckpointInFlight is returned when a checkpoint is triggered
	// while another one is still pending. One checkpoint is in flight at
	// a time.
	ErrCheckpointInFlight = errors.New("checkpoint already in flight")

	// ErrNoCheckpoint is returned when no successful checkpoint exists.
	ErrNoCheckpoint = errors.New("no successful checkpoint available")

	// ErrOperatorRegistered is returned when an operator id is registered
	// twice.
	ErrOperatorRegistered = errors.New("operator already registered")

	// ErrUnknownCheckpoint is returned when a snapshot report arrives for
	// a checkpoint that is not pending, or from an operator that was not
	// registered when the checkpoint was triggered.
	ErrUnknownCheckpoint = errors.New("no matching pending checkpoint")

	// ErrAlreadyRunning is returned when the periodic trigger loop is
	// started twice.
	ErrAlreadyRunning = errors.New("coordinator already running")
)
