// Package recovery drives the stop, restore-from-latest-checkpoint, restart
// sequence after a detected failure, with bounded retry attempts per failing
// component.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/state"
)

var (
	// ErrRecoveryExhausted is returned internally when a component has
	// reached its maximum recovery attempts. It is never retried
	// automatically; operator intervention is required.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")

	// ErrRecoveryInProgress marks a failure rejected because another
	// recovery is running. The caller must resubmit.
	ErrRecoveryInProgress = errors.New("recovery already in progress")
)

// FailureType classifies a failure event.
type FailureType string

const (
	OperatorFailure FailureType = "operator_failure"
	BackendFailure  FailureType = "backend_failure"
	NetworkFailure  FailureType = "network_failure"
	UnknownFailure  FailureType = "unknown"
)

// FailureEvent is a failure signal consumed once by the manager.
type FailureEvent struct {
	FailureID        string            `json:"failure_id"`
	Timestamp        time.Time         `json:"timestamp"`
	ComponentID      string            `json:"component_id"`
	FailureType      FailureType       `json:"failure_type"`
	ErrorMessage     string            `json:"error_message"`
	RecoveryRequired bool              `json:"recovery_required"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewFailureEvent builds a recovery-required failure event for a component.
func NewFailureEvent(componentID string, ft FailureType, msg string) FailureEvent {
	now := time.Now()
	return FailureEvent{
		FailureID:        fmt.Sprintf("%s-%d", componentID, now.UnixNano()),
		Timestamp:        now,
		ComponentID:      componentID,
		FailureType:      ft,
		ErrorMessage:     msg,
		RecoveryRequired: true,
	}
}

// Record is one entry of the failure audit log.
type Record struct {
	Event        FailureEvent `json:"event"`
	HandledAt    time.Time    `json:"handled_at"`
	Recovered    bool         `json:"recovered"`
	CheckpointID int64        `json:"checkpoint_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Config configures the recovery manager.
type Config struct {
	// MaxRecoveryAttempts bounds how many times a single component is
	// recovered before requiring external intervention. Defaults to 3.
	MaxRecoveryAttempts int `koanf:"max_recovery_attempts"`

	// MaxFailureHistory bounds the in-memory audit log. Defaults to 100.
	MaxFailureHistory int `koanf:"max_failure_history"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxRecoveryAttempts: 3,
		MaxFailureHistory:   100,
	}
}

// Manager consumes failure events and restores the pipeline from the
// coordinator's latest successful checkpoint. At most one recovery runs at
// a time; concurrent failures are rejected, not queued.
type Manager struct {
	coord   *checkpoint.Coordinator
	backend state.Backend
	cfg     Config

	mu         sync.Mutex
	recovering bool
	attempts   map[string]int
	history    []Record

	logger zerolog.Logger
}

// NewManager creates a recovery manager over the given coordinator and
// backend.
func NewManager(coord *checkpoint.Coordinator, backend state.Backend, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = def.MaxRecoveryAttempts
	}
	if cfg.MaxFailureHistory <= 0 {
		cfg.MaxFailureHistory = def.MaxFailureHistory
	}
	return &Manager{
		coord:    coord,
		backend:  backend,
		cfg:      cfg,
		attempts: make(map[string]int),
		logger:   logger.GetLogger("recovery"),
	}
}

// HandleFailure runs the recovery sequence for the event and reports whether
// it succeeded. It returns true without doing anything when the event does
// not require recovery, and false when a recovery is already running, when
// the component's attempts are exhausted, or when the recovery itself fails.
//
// There is no internal deadline beyond the attempt counter; bound ctx if a
// stuck recovery must be abandoned.
func (m *Manager) HandleFailure(ctx context.Context, event FailureEvent) bool {
	if !event.RecoveryRequired {
		m.logger.Debug().Str("failure_id", event.FailureID).Msg("failure does not require recovery")
		m.record(event, false, 0, "")
		return true
	}

	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		m.logger.Warn().Str("failure_id", event.FailureID).Msg("rejecting failure, recovery already in progress")
		m.record(event, false, 0, ErrRecoveryInProgress.Error())
		return false
	}
	if m.attempts[event.ComponentID] >= m.cfg.MaxRecoveryAttempts {
		m.mu.Unlock()
		m.logger.Error().
			Str("component_id", event.ComponentID).
			Int("attempts", m.cfg.MaxRecoveryAttempts).
			Msg("recovery attempts exhausted, external intervention required")
		m.record(event, false, 0, ErrRecoveryExhausted.Error())
		return false
	}
	m.recovering = true
	m.mu.Unlock()

	checkpointID, err := m.recover(ctx, event)

	m.mu.Lock()
	m.recovering = false
	if err != nil {
		m.attempts[event.ComponentID]++
	} else {
		m.attempts[event.ComponentID] = 0
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).
			Str("failure_id", event.FailureID).
			Str("component_id", event.ComponentID).
			Msg("recovery failed")
		m.record(event, false, checkpointID, err.Error())
		return false
	}
	m.logger.Info().
		Str("failure_id", event.FailureID).
		Str("component_id", event.ComponentID).
		Int64("checkpoint_id", checkpointID).
		Msg("recovery completed")
	m.record(event, true, checkpointID, "")
	return true
}

// recover performs the actual stop/restore/restart sequence.
func (m *Manager) recover(ctx context.Context, event FailureEvent) (int64, error) {
	meta := m.coord.LatestCheckpoint()
	if meta == nil {
		return 0, checkpoint.ErrNoCheckpoint
	}

	m.logger.Info().
		Str("component_id", event.ComponentID).
		Str("failure_type", string(event.FailureType)).
		Int64("checkpoint_id", meta.CheckpointID).
		Msg("starting recovery from latest checkpoint")

	// Halt checkpointing while state is in flux. The loop is restarted
	// only if it was running before the failure.
	loopWasRunning := m.coord.Running()
	if loopWasRunning {
		m.coord.Stop()
	}

	operators := m.coord.Operators()
	for id, op := range operators {
		if err := op.Stop(); err != nil {
			return meta.CheckpointID, fmt.Errorf("stop operator %s: %w", id, err)
		}
	}

	// Restore every operator the checkpoint covers. Operators registered
	// after the checkpoint have no snapshot and keep their current state.
	for id := range meta.Snapshots {
		op, ok := operators[id]
		if !ok {
			m.logger.Warn().Str("operator_id", id).Msg("checkpointed operator no longer registered, skipping restore")
			continue
		}
		data, err := m.backend.LoadState(ctx, meta.CheckpointID, id)
		if err != nil {
			return meta.CheckpointID, fmt.Errorf("load state for operator %s: %w", id, err)
		}
		if err := op.RestoreState(data); err != nil {
			return meta.CheckpointID, fmt.Errorf("restore operator %s: %w", id, err)
		}
		m.logger.Debug().Str("operator_id", id).Int("bytes", len(data)).Msg("restored operator state")
	}

	for id, op := range operators {
		if err := op.Start(); err != nil {
			return meta.CheckpointID, fmt.Errorf("start operator %s: %w", id, err)
		}
	}
	if loopWasRunning {
		// The restarted loop must outlive any deadline bounding this
		// recovery, so it is not tied to ctx.
		if err := m.coord.Start(context.Background()); err != nil {
			return meta.CheckpointID, fmt.Errorf("restart coordinator: %w", err)
		}
	}
	return meta.CheckpointID, nil
}

func (m *Manager) record(event FailureEvent, recovered bool, checkpointID int64, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, Record{
		Event:        event,
		HandledAt:    time.Now(),
		Recovered:    recovered,
		CheckpointID: checkpointID,
		Error:        errMsg,
	})
	if len(m.history) > m.cfg.MaxFailureHistory {
		m.history = m.history[len(m.history)-m.cfg.MaxFailureHistory:]
	}
}

// Recovering reports whether a recovery is in progress.
func (m *Manager) Recovering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recovering
}

// Attempts returns the current attempt counter for a component.
func (m *Manager) Attempts(componentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[componentID]
}

// ResetAttempts clears the attempt counter for a component. This is the
// external-intervention hook once a component has exhausted its attempts.
func (m *Manager) ResetAttempts(componentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, componentID)
}

// History returns a copy of the failure audit log, oldest first.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}
