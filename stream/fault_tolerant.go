package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/state"
)

// FaultTolerantOperator wraps a user-defined operator and registers it with
// the coordinator at construction. On a barrier it snapshots asynchronously,
// persists the blob through the state backend, and reports the result back
// to the coordinator.
//
// Multi-input barrier alignment is not implemented: the snapshot is taken
// directly on barrier receipt. Operators joining multiple upstream edges
// need an alignment buffer on top of this for full consistency.
type FaultTolerantOperator struct {
	id      string
	inner   StateSnapshotter
	backend state.Backend
	coord   *checkpoint.Coordinator

	mu      sync.Mutex
	running bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewFaultTolerantOperator wraps inner and registers the result with the
// coordinator.
func NewFaultTolerantOperator(id string, inner StateSnapshotter, backend state.Backend, coord *checkpoint.Coordinator) (*FaultTolerantOperator, error) {
	o := &FaultTolerantOperator{
		id:      id,
		inner:   inner,
		backend: backend,
		coord:   coord,
		logger:  logger.GetLogger("operator").With().Str("operator_id", id).Logger(),
	}
	if err := coord.RegisterOperator(o); err != nil {
		return nil, err
	}
	return o, nil
}

// ID returns the unique identifier of the operator.
func (o *FaultTolerantOperator) ID() string {
	return o.id
}

// HandleBarrier schedules snapshot creation for the barrier's checkpoint id
// and returns immediately.
func (o *FaultTolerantOperator) HandleBarrier(b checkpoint.Barrier) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.snapshot(b)
	}()
}

// snapshot serializes the wrapped operator's state, persists it, and reports
// the contribution. Failures are logged and reported; they fail this
// checkpoint attempt only.
func (o *FaultTolerantOperator) snapshot(b checkpoint.Barrier) {
	start := time.Now()
	data, err := o.inner.CreateStateSnapshot()
	if err != nil {
		o.logger.Error().Err(err).Int64("checkpoint_id", b.CheckpointID).Msg("failed to create state snapshot")
		o.coord.ReportSnapshotFailure(b.CheckpointID, o.id, fmt.Errorf("%w: %v", ErrSnapshot, err))
		return
	}

	location, err := o.backend.SaveState(context.Background(), b.CheckpointID, o.id, data)
	if err != nil {
		o.logger.Error().Err(err).Int64("checkpoint_id", b.CheckpointID).Msg("failed to persist state snapshot")
		o.coord.ReportSnapshotFailure(b.CheckpointID, o.id, fmt.Errorf("%w: %v", ErrSnapshot, err))
		return
	}

	s := &checkpoint.Snapshot{
		CheckpointID:    b.CheckpointID,
		OperatorID:      o.id,
		Location:        location,
		StateSize:       int64(len(data)),
		Timestamp:       time.Now(),
		BarrierPosition: b.SequenceNumber,
	}
	if err := o.coord.ReportSnapshot(s); err != nil {
		// The checkpoint likely timed out while we were persisting; the
		// state will be cleaned up with the failed attempt.
		o.logger.Warn().Err(err).Int64("checkpoint_id", b.CheckpointID).Msg("snapshot report rejected")
		return
	}
	o.logger.Debug().
		Int64("checkpoint_id", b.CheckpointID).
		Int("bytes", len(data)).
		Dur("duration_ms", time.Since(start)).
		Msg("snapshot persisted")
}

// CreateSnapshot serializes the wrapped operator's current state.
func (o *FaultTolerantOperator) CreateSnapshot() ([]byte, error) {
	return o.inner.CreateStateSnapshot()
}

// RestoreState replaces the wrapped operator's state. It is rejected while
// the operator is running.
func (o *FaultTolerantOperator) RestoreState(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrOperatorRunning
	}
	return o.inner.RestoreState(data)
}

// Start marks the operator running and starts the wrapped operator if it
// has a lifecycle.
func (o *FaultTolerantOperator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	if lc, ok := o.inner.(Lifecycle); ok {
		if err := lc.Start(); err != nil {
			return err
		}
	}
	o.running = true
	o.logger.Debug().Msg("operator started")
	return nil
}

// Stop waits for in-flight snapshot work, stops the wrapped operator if it
// has a lifecycle, and marks the operator stopped.
func (o *FaultTolerantOperator) Stop() error {
	o.wg.Wait()
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}
	if lc, ok := o.inner.(Lifecycle); ok {
		if err := lc.Stop(); err != nil {
			return err
		}
	}
	o.running = false
	o.logger.Debug().Msg("operator stopped")
	return nil
}

// Running reports whether the operator is started.
func (o *FaultTolerantOperator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}
