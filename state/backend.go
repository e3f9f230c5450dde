package state

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no state exists for the requested
	// (checkpoint, operator) pair.
	ErrNotFound = errors.New("state not found")

	// ErrBackendClosed is returned when an operation is attempted on a
	// backend that has been closed.
	ErrBackendClosed = errors.New("backend closed")
)

// Backend is durable storage for opaque operator state blobs, addressed by
// (checkpoint id, operator id). Implementations never inspect the bytes they
// are handed; the operator owns its serialization format.
//
// Implementations must be safe for concurrent use: operators persist their
// snapshots in parallel during a checkpoint, for the same or different
// checkpoint ids.
type Backend interface {
	// SaveState persists data under (checkpointID, operatorID) and returns
	// a backend-specific location string for the stored blob.
	SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error)

	// LoadState returns byte-identical content to what SaveState stored for
	// the same pair. Returns ErrNotFound if nothing was stored.
	LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error)

	// DeleteCheckpoint removes all operator state under the checkpoint.
	// Deleting a checkpoint that does not exist is not an error.
	DeleteCheckpoint(ctx context.Context, checkpointID int64) error

	// ListCheckpoints returns the ids of all checkpoints with stored state,
	// in ascending order.
	ListCheckpoints(ctx context.Context) ([]int64, error)

	// Close releases any resources held by the backend.
	Close() error
}
