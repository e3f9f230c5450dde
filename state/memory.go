package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemoryBackend is an in-memory implementation of the Backend interface.
// It is mostly useful in tests and as the reference for the round-trip
// contract every backend must uphold.
type MemoryBackend struct {
	mu     sync.RWMutex
	states map[int64]map[string][]byte
	closed bool
}

// NewMemoryBackend creates a new MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states: make(map[int64]map[string][]byte),
	}
}

// SaveState stores a private copy of data so later caller mutations cannot
// tear the stored snapshot.
func (b *MemoryBackend) SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBackendClosed
	}

	ops, ok := b.states[checkpointID]
	if !ok {
		ops = make(map[string][]byte)
		b.states[checkpointID] = ops
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ops[operatorID] = cp
	return "memory://" + strconv.FormatInt(checkpointID, 10) + "/" + operatorID, nil
}

// LoadState returns a copy of the stored bytes.
func (b *MemoryBackend) LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	ops, ok := b.states[checkpointID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
	}
	data, ok := ops[operatorID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// DeleteCheckpoint removes all operator state under the checkpoint.
func (b *MemoryBackend) DeleteCheckpoint(ctx context.Context, checkpointID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	delete(b.states, checkpointID)
	return nil
}

// ListCheckpoints returns checkpoint ids in ascending order.
func (b *MemoryBackend) ListCheckpoints(ctx context.Context) ([]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	ids := make([]int64, 0, len(b.states))
	for id := range b.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close drops all stored state.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = make(map[int64]map[string][]byte)
	b.closed = true
	return nil
}
