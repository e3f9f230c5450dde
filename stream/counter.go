package stream

import (
	"sync"

	"github.com/tarungka/weir/internal/utils"
)

// CountingOperator is a minimal stateful operator: it counts records per
// key. It snapshots its counts as msgpack and doubles as the reference
// implementation of the StateSnapshotter contract.
type CountingOperator struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCountingOperator creates an empty CountingOperator.
func NewCountingOperator() *CountingOperator {
	return &CountingOperator{
		counts: make(map[string]int64),
	}
}

// Process increments the count for key and returns the new value.
func (o *CountingOperator) Process(key string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[key]++
	return o.counts[key]
}

// Count returns the current count for key.
func (o *CountingOperator) Count(key string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

// CreateStateSnapshot serializes the counts under the lock so a concurrent
// Process cannot tear the snapshot.
func (o *CountingOperator) CreateStateSnapshot() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf, err := utils.EncodeMsgPack(o.counts)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RestoreState replaces the counts with the snapshot's contents.
func (o *CountingOperator) RestoreState(data []byte) error {
	counts := make(map[string]int64)
	if err := utils.DecodeMsgPack(data, &counts); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts = counts
	return nil
}
