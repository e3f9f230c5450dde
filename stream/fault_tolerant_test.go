package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/state"
)

type brokenSnapshotter struct{}

func (brokenSnapshotter) CreateStateSnapshot() ([]byte, error) {
	return nil, errors.New("serialization broken")
}

func (brokenSnapshotter) RestoreState(data []byte) error { return nil }

// lifecycleCounter records Start/Stop calls around a CountingOperator.
type lifecycleCounter struct {
	*CountingOperator
	starts int
	stops  int
}

func (l *lifecycleCounter) Start() error { l.starts++; return nil }
func (l *lifecycleCounter) Stop() error  { l.stops++; return nil }

func newTestHarness(t *testing.T) (*checkpoint.Coordinator, state.Backend) {
	t.Helper()
	backend := state.NewMemoryBackend()
	cfg := checkpoint.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	coord, err := checkpoint.NewCoordinator(backend, cfg)
	require.NoError(t, err)
	return coord, backend
}

func TestFaultTolerantOperator_RegistersAtConstruction(t *testing.T) {
	coord, backend := newTestHarness(t)

	op, err := NewFaultTolerantOperator("counter-1", NewCountingOperator(), backend, coord)
	require.NoError(t, err)
	assert.Contains(t, coord.Operators(), "counter-1")

	// The same id cannot be wrapped twice.
	_, err = NewFaultTolerantOperator("counter-1", NewCountingOperator(), backend, coord)
	assert.ErrorIs(t, err, checkpoint.ErrOperatorRegistered)

	assert.Equal(t, "counter-1", op.ID())
}

func TestFaultTolerantOperator_SnapshotOnBarrier(t *testing.T) {
	coord, backend := newTestHarness(t)

	counter := NewCountingOperator()
	_, err := NewFaultTolerantOperator("counter-1", counter, backend, coord)
	require.NoError(t, err)

	counter.Process("clicks")
	counter.Process("clicks")
	counter.Process("views")

	meta, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, meta.Success)

	snap := meta.Snapshots["counter-1"]
	require.NotNil(t, snap)
	assert.Greater(t, snap.StateSize, int64(0))
	assert.NotEmpty(t, snap.Location)

	// The persisted blob restores into an identical operator.
	data, err := backend.LoadState(context.Background(), meta.CheckpointID, "counter-1")
	require.NoError(t, err)
	restored := NewCountingOperator()
	require.NoError(t, restored.RestoreState(data))
	assert.Equal(t, int64(2), restored.Count("clicks"))
	assert.Equal(t, int64(1), restored.Count("views"))
}

func TestFaultTolerantOperator_SnapshotFailureIsContained(t *testing.T) {
	coord, backend := newTestHarness(t)

	_, err := NewFaultTolerantOperator("broken", brokenSnapshotter{}, backend, coord)
	require.NoError(t, err)

	meta, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, meta.Success)
	assert.Contains(t, meta.ErrorMessage, "serialization broken")
}

func TestFaultTolerantOperator_RestoreOnlyWhileStopped(t *testing.T) {
	coord, backend := newTestHarness(t)

	counter := NewCountingOperator()
	op, err := NewFaultTolerantOperator("counter-1", counter, backend, coord)
	require.NoError(t, err)

	snapshot, err := op.CreateSnapshot()
	require.NoError(t, err)

	require.NoError(t, op.Start())
	assert.True(t, op.Running())
	assert.ErrorIs(t, op.RestoreState(snapshot), ErrOperatorRunning)

	require.NoError(t, op.Stop())
	assert.False(t, op.Running())
	assert.NoError(t, op.RestoreState(snapshot))
}

func TestFaultTolerantOperator_LifecycleDelegation(t *testing.T) {
	coord, backend := newTestHarness(t)

	inner := &lifecycleCounter{CountingOperator: NewCountingOperator()}
	op, err := NewFaultTolerantOperator("counter-1", inner, backend, coord)
	require.NoError(t, err)

	require.NoError(t, op.Start())
	require.NoError(t, op.Start()) // already running, no second delegate call
	require.NoError(t, op.Stop())

	assert.Equal(t, 1, inner.starts)
	assert.Equal(t, 1, inner.stops)
}

func TestCountingOperator_SnapshotIsolation(t *testing.T) {
	counter := NewCountingOperator()
	counter.Process("k")

	snapshot, err := counter.CreateStateSnapshot()
	require.NoError(t, err)

	// Mutations after the snapshot do not leak into it.
	counter.Process("k")
	counter.Process("k")

	restored := NewCountingOperator()
	require.NoError(t, restored.RestoreState(snapshot))
	assert.Equal(t, int64(1), restored.Count("k"))
	assert.Equal(t, int64(3), counter.Count("k"))
}
