package checkpoint

import "time"

// Config configures the checkpoint coordinator.
type Config struct {
	// Interval is the period of the background trigger loop.
	// Defaults to 30s.
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds how long a triggered checkpoint waits for all
	// operators to report before it is finalized as failed.
	// Defaults to 300s.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetainedCheckpoints bounds the successful checkpoint history.
	// Checkpoints evicted from the history are deleted from the backend.
	// Defaults to 10.
	MaxRetainedCheckpoints int `koanf:"max_retained_checkpoints"`

	// Consistency is the processing guarantee recorded on checkpoint
	// metadata. Supported values: "exactly_once", "at_least_once",
	// "at_most_once". Defaults to "exactly_once".
	Consistency string `koanf:"consistency"`

	// DisableMetadataPersistence turns off writing finalized checkpoint
	// metadata through the backend. Persistence is on by default so a
	// restarted process can find the latest usable checkpoint, including
	// for a zero-value Config.
	DisableMetadataPersistence bool `koanf:"disable_metadata_persistence"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Interval:               30 * time.Second,
		Timeout:                300 * time.Second,
		MaxRetainedCheckpoints: 10,
		Consistency:            "exactly_once",
	}
}
