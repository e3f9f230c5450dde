package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/weir/checkpoint"
	"github.com/tarungka/weir/state"
	"github.com/tarungka/weir/stream"
)

func newTestPipeline(t *testing.T) (*checkpoint.Coordinator, state.Backend, *stream.CountingOperator) {
	t.Helper()
	backend := state.NewMemoryBackend()
	cfg := checkpoint.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	coord, err := checkpoint.NewCoordinator(backend, cfg)
	require.NoError(t, err)

	counter := stream.NewCountingOperator()
	_, err = stream.NewFaultTolerantOperator("counter-1", counter, backend, coord)
	require.NoError(t, err)
	return coord, backend, counter
}

func TestManager_RestoresFromLatestCheckpoint(t *testing.T) {
	coord, backend, counter := newTestPipeline(t)
	manager := NewManager(coord, backend, DefaultConfig())

	for i := 0; i < 5; i++ {
		counter.Process("count")
	}
	meta, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, meta.Success)

	// State drifts past the checkpoint without a new one being taken.
	for i := 0; i < 4; i++ {
		counter.Process("count")
	}
	require.Equal(t, int64(9), counter.Count("count"))

	event := NewFailureEvent("counter-1", OperatorFailure, "injected failure")
	assert.True(t, manager.HandleFailure(context.Background(), event))

	// Recovery rewinds to exactly the checkpointed state.
	assert.Equal(t, int64(5), counter.Count("count"))
	assert.Equal(t, 0, manager.Attempts("counter-1"))
	assert.False(t, manager.Recovering())

	history := manager.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Recovered)
	assert.Equal(t, meta.CheckpointID, history[0].CheckpointID)
}

func TestManager_NoRecoveryRequired(t *testing.T) {
	coord, backend, _ := newTestPipeline(t)
	manager := NewManager(coord, backend, DefaultConfig())

	event := NewFailureEvent("counter-1", NetworkFailure, "transient blip")
	event.RecoveryRequired = false
	assert.True(t, manager.HandleFailure(context.Background(), event))
	assert.Equal(t, 0, manager.Attempts("counter-1"))
}

func TestManager_FailsWithoutCheckpoint(t *testing.T) {
	coord, backend, _ := newTestPipeline(t)
	manager := NewManager(coord, backend, DefaultConfig())

	event := NewFailureEvent("counter-1", OperatorFailure, "boom")
	assert.False(t, manager.HandleFailure(context.Background(), event))
	assert.Equal(t, 1, manager.Attempts("counter-1"))

	history := manager.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Recovered)
	assert.Contains(t, history[0].Error, checkpoint.ErrNoCheckpoint.Error())
}

func TestManager_BoundedRetries(t *testing.T) {
	coord, backend, _ := newTestPipeline(t)
	cfg := Config{MaxRecoveryAttempts: 2, MaxFailureHistory: 10}
	manager := NewManager(coord, backend, cfg)

	// No checkpoint exists, so every attempt fails and counts.
	event := NewFailureEvent("counter-1", OperatorFailure, "boom")
	assert.False(t, manager.HandleFailure(context.Background(), event))
	assert.False(t, manager.HandleFailure(context.Background(), event))
	assert.Equal(t, 2, manager.Attempts("counter-1"))

	// The third is rejected without any recovery work: attempts exhausted.
	assert.False(t, manager.HandleFailure(context.Background(), event))
	assert.Equal(t, 2, manager.Attempts("counter-1"))

	history := manager.History()
	require.Len(t, history, 3)
	assert.Contains(t, history[2].Error, ErrRecoveryExhausted.Error())

	// External intervention re-enables recovery for the component.
	manager.ResetAttempts("counter-1")
	assert.Equal(t, 0, manager.Attempts("counter-1"))
}

func TestManager_AttemptCounterIsPerComponent(t *testing.T) {
	coord, backend, _ := newTestPipeline(t)
	manager := NewManager(coord, backend, Config{MaxRecoveryAttempts: 1})

	assert.False(t, manager.HandleFailure(context.Background(),
		NewFailureEvent("comp-a", OperatorFailure, "boom")))
	assert.Equal(t, 1, manager.Attempts("comp-a"))
	assert.Equal(t, 0, manager.Attempts("comp-b"))
}

func TestManager_RestartsCheckpointLoop(t *testing.T) {
	coord, backend, counter := newTestPipeline(t)
	manager := NewManager(coord, backend, DefaultConfig())

	counter.Process("count")
	meta, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, meta.Success)

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()
	require.True(t, coord.Running())

	event := NewFailureEvent("counter-1", OperatorFailure, "boom")
	assert.True(t, manager.HandleFailure(context.Background(), event))

	// The periodic loop is running again after recovery.
	assert.True(t, coord.Running())
}

func TestManager_RecoveryDeadlineDoesNotStopCheckpointLoop(t *testing.T) {
	backend := state.NewMemoryBackend()
	cfg := checkpoint.DefaultConfig()
	cfg.Interval = 30 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	coord, err := checkpoint.NewCoordinator(backend, cfg)
	require.NoError(t, err)

	counter := stream.NewCountingOperator()
	_, err = stream.NewFaultTolerantOperator("counter-1", counter, backend, coord)
	require.NoError(t, err)
	manager := NewManager(coord, backend, DefaultConfig())

	counter.Process("count")
	meta, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, meta.Success)

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	event := NewFailureEvent("counter-1", OperatorFailure, "boom")
	require.True(t, manager.HandleFailure(ctx, event))

	// Wait past the recovery deadline, then confirm the restarted loop is
	// still alive and still triggering checkpoints.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, coord.Running())
	before := coord.Metrics().TotalCheckpoints
	time.Sleep(100 * time.Millisecond)
	assert.Greater(t, coord.Metrics().TotalCheckpoints, before)
}

func TestManager_HistoryIsBounded(t *testing.T) {
	coord, backend, _ := newTestPipeline(t)
	manager := NewManager(coord, backend, Config{MaxRecoveryAttempts: 100, MaxFailureHistory: 3})

	for i := 0; i < 5; i++ {
		event := NewFailureEvent("comp-a", OperatorFailure, "boom")
		event.RecoveryRequired = false
		manager.HandleFailure(context.Background(), event)
	}
	assert.Len(t, manager.History(), 3)
}
