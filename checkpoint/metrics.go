package checkpoint

import (
	"expvar"
	"time"
)

const (
	numTriggered       = "checkpoints_triggered"
	numSucceeded       = "checkpoints_succeeded"
	numFailed          = "checkpoints_failed"
	numPruned          = "checkpoints_pruned"
	latestSize         = "latest_checkpoint_size"
	latestDurationMs   = "latest_checkpoint_duration_ms"
	numSnapshotReports = "snapshot_reports"
	numSnapshotFailed  = "snapshot_failures"
)

// stats captures stats for the coordinator.
var stats *expvar.Map

func init() {
	stats = expvar.NewMap("checkpoint")
	ResetStats()
}

// ResetStats resets the expvar stats for this module. Mostly for test purposes.
func ResetStats() {
	stats.Init()
	stats.Add(numTriggered, 0)
	stats.Add(numSucceeded, 0)
	stats.Add(numFailed, 0)
	stats.Add(numPruned, 0)
	stats.Add(latestSize, 0)
	stats.Add(latestDurationMs, 0)
	stats.Add(numSnapshotReports, 0)
	stats.Add(numSnapshotFailed, 0)
}

// Metrics is a point-in-time snapshot of the coordinator's counters,
// consumed by operational dashboards.
type Metrics struct {
	TotalCheckpoints      int64         `json:"total_checkpoints"`
	SuccessfulCheckpoints int64         `json:"successful_checkpoints"`
	FailedCheckpoints     int64         `json:"failed_checkpoints"`
	AvgDuration           time.Duration `json:"avg_checkpoint_duration"`
}
