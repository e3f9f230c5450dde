package checkpoint

import (
	"fmt"
	"strings"
	"time"
)

// ConsistencyLevel is the processing guarantee a checkpoint was taken under.
type ConsistencyLevel int

const (
	// ExactlyOnce means every record's effect is applied to output at most
	// once despite retries.
	ExactlyOnce ConsistencyLevel = iota
	// AtLeastOnce means records may be re-applied after recovery.
	AtLeastOnce
	// AtMostOnce means records may be lost on failure but never duplicated.
	AtMostOnce
)

// ParseConsistencyLevel converts a string representation of a consistency
// level into the ConsistencyLevel enum.
func ParseConsistencyLevel(s string) (ConsistencyLevel, error) {
	switch strings.ToLower(s) {
	case "exactly_once", "": // Default to exactly once
		return ExactlyOnce, nil
	case "at_least_once":
		return AtLeastOnce, nil
	case "at_most_once":
		return AtMostOnce, nil
	default:
		return ExactlyOnce, fmt.Errorf("unsupported consistency level: %s", s)
	}
}

func (c ConsistencyLevel) String() string {
	switch c {
	case ExactlyOnce:
		return "exactly_once"
	case AtLeastOnce:
		return "at_least_once"
	case AtMostOnce:
		return "at_most_once"
	default:
		return "unknown"
	}
}

// Snapshot describes one operator's persisted state for one checkpoint. The
// state bytes themselves live in the backend; Snapshot records where they
// are and how big they are.
type Snapshot struct {
	CheckpointID int64
	OperatorID   string
	// Location is the backend-specific address of the stored blob.
	Location  string
	StateSize int64
	Timestamp time.Time
	// BarrierPosition is the sequence number of the barrier that triggered
	// this snapshot.
	BarrierPosition int64
	Metadata        map[string]string
	// Dependencies lists other operator ids this snapshot logically depends
	// on. The snapshot bytes themselves are always independently
	// restorable.
	Dependencies []string
}

// Metadata is the per-checkpoint record. It is created when the checkpoint
// is triggered, filled in as operators report, and finalized exactly once
// with Success set.
type Metadata struct {
	CheckpointID int64
	Timestamp    time.Time
	// Snapshots maps operator id to that operator's persisted snapshot.
	Snapshots        map[string]*Snapshot
	BarrierPositions map[string]int64
	Consistency      ConsistencyLevel
	TotalSize        int64
	Duration         time.Duration
	Success          bool
	ErrorMessage     string
}
