package checkpoint

import (
	"context"
	"expvar"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/internal/utils"
	"github.com/tarungka/weir/state"
)

// metadataOperatorID is the reserved operator id under which finalized
// checkpoint metadata is persisted through the backend. Operators must not
// register with this id.
const metadataOperatorID = "__metadata__"

// pendingCheckpoint tracks one in-flight checkpoint: the membership snapshot
// taken at trigger time, the reports received so far, and the notification
// channel closed when the last expected operator has reported.
type pendingCheckpoint struct {
	meta      *Metadata
	expected  map[string]struct{}
	failed    map[string]string
	done      chan struct{}
	completed bool
}

func (p *pendingCheckpoint) reported() int {
	return len(p.meta.Snapshots) + len(p.failed)
}

// complete closes the done channel once all expected operators have reported,
// successfully or not. Callers hold the coordinator mutex.
func (p *pendingCheckpoint) complete() {
	if !p.completed && p.reported() >= len(p.expected) {
		p.completed = true
		close(p.done)
	}
}

// Coordinator owns the checkpoint lifecycle: barrier distribution, bounded
// waiting for operator reports, retention of the successful history, and
// pruning of evicted checkpoints from the backend.
//
// A single mutex guards the registration map, the pending checkpoint and the
// retained history. No I/O happens under the lock.
type Coordinator struct {
	cfg         Config
	backend     state.Backend
	consistency ConsistencyLevel

	mu        sync.Mutex
	operators map[string]Operator
	pending   *pendingCheckpoint
	retained  []*Metadata
	nextID    int64

	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	totalCheckpoints int64
	succeeded        int64
	failed           int64
	totalDuration    time.Duration

	logger zerolog.Logger
}

// NewCoordinator creates a coordinator persisting through the given backend.
func NewCoordinator(backend state.Backend, cfg Config) (*Coordinator, error) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetainedCheckpoints <= 0 {
		cfg.MaxRetainedCheckpoints = def.MaxRetainedCheckpoints
	}
	level, err := ParseConsistencyLevel(cfg.Consistency)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:         cfg,
		backend:     backend,
		consistency: level,
		operators:   make(map[string]Operator),
		logger:      logger.GetLogger("coordinator"),
	}, nil
}

// RegisterOperator adds an operator to the coordination set. A checkpoint
// already in flight keeps the membership snapshot taken when it was
// triggered.
func (c *Coordinator) RegisterOperator(op Operator) error {
	id := op.ID()
	if id == metadataOperatorID {
		return fmt.Errorf("operator id %q is reserved", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.operators[id]; ok {
		return fmt.Errorf("%w: %s", ErrOperatorRegistered, id)
	}
	c.operators[id] = op
	c.logger.Debug().Str("operator_id", id).Msg("registered operator")
	return nil
}

// UnregisterOperator removes an operator. Removing an unknown id is a no-op.
func (c *Coordinator) UnregisterOperator(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.operators, id)
	c.logger.Debug().Str("operator_id", id).Msg("unregistered operator")
}

// Operators returns a copy of the registration map.
func (c *Coordinator) Operators() map[string]Operator {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make(map[string]Operator, len(c.operators))
	for id, op := range c.operators {
		ops[id] = op
	}
	return ops
}

// Start launches the periodic trigger loop. The loop stops when Stop is
// called or ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	c.logger.Info().Dur("interval", c.cfg.Interval).Msg("starting checkpoint loop")
	go c.run(runCtx, done)
	return nil
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			meta, err := c.TriggerCheckpoint(ctx)
			if err != nil {
				c.logger.Error().Err(err).Msg("periodic checkpoint could not be triggered")
				continue
			}
			if !meta.Success {
				c.logger.Warn().
					Int64("checkpoint_id", meta.CheckpointID).
					Str("error", meta.ErrorMessage).
					Msg("periodic checkpoint failed")
			}
		case <-ctx.Done():
			c.logger.Info().Msg("checkpoint loop stopping")
			c.mu.Lock()
			// Stop() clears these fields itself before cancelling; when the
			// parent context dies they are still ours to clear, so the
			// coordinator does not report a dead loop as running.
			if c.loopDone == done {
				c.running = false
				c.cancel = nil
				c.loopDone = nil
			}
			c.mu.Unlock()
			return
		}
	}
}

// Stop halts the periodic loop and waits for it to exit. A checkpoint in
// flight is abandoned; it will finalize as failed through its own context.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.loopDone
	c.running = false
	c.cancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the periodic loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// TriggerCheckpoint runs one full checkpoint cycle: it assigns the next id,
// broadcasts a barrier to every operator registered right now, waits
// (bounded by the configured timeout) for all of them to report, and
// finalizes the metadata as success or failure.
//
// The returned error is non-nil only when the checkpoint could not be
// triggered at all; a checkpoint that ran and failed is reported through
// Metadata.Success and Metadata.ErrorMessage.
func (c *Coordinator) TriggerCheckpoint(ctx context.Context) (*Metadata, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrCheckpointInFlight
	}
	c.nextID++
	id := c.nextID
	start := time.Now()
	meta := &Metadata{
		CheckpointID:     id,
		Timestamp:        start,
		Snapshots:        make(map[string]*Snapshot),
		BarrierPositions: make(map[string]int64),
		Consistency:      c.consistency,
	}
	p := &pendingCheckpoint{
		meta:     meta,
		expected: make(map[string]struct{}, len(c.operators)),
		failed:   make(map[string]string),
		done:     make(chan struct{}),
	}
	ops := make([]Operator, 0, len(c.operators))
	for opID, op := range c.operators {
		p.expected[opID] = struct{}{}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		p.completed = true
		close(p.done)
	}
	c.pending = p
	c.mu.Unlock()

	stats.Add(numTriggered, 1)
	c.logger.Info().
		Int64("checkpoint_id", id).
		Int("operators", len(ops)).
		Msg("triggering checkpoint")

	// Barrier delivery to all operators happens before any snapshot work
	// is awaited. HandleBarrier must only schedule the snapshot.
	barrier := Barrier{
		CheckpointID:   id,
		Timestamp:      start,
		SourceID:       "coordinator",
		SequenceNumber: id,
	}
	for _, op := range ops {
		op.HandleBarrier(barrier)
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-p.done:
	case <-timer.C:
		waitErr = ErrCheckpointTimeout
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	return c.finalize(ctx, p, start, waitErr), nil
}

// ReportSnapshot records one operator's successful snapshot contribution for
// the pending checkpoint.
func (c *Coordinator) ReportSnapshot(s *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	if p == nil || p.meta.CheckpointID != s.CheckpointID {
		return fmt.Errorf("%w: checkpoint %d", ErrUnknownCheckpoint, s.CheckpointID)
	}
	if _, ok := p.expected[s.OperatorID]; !ok {
		return fmt.Errorf("%w: operator %s not in checkpoint %d", ErrUnknownCheckpoint, s.OperatorID, s.CheckpointID)
	}
	p.meta.Snapshots[s.OperatorID] = s
	p.meta.BarrierPositions[s.OperatorID] = s.BarrierPosition
	stats.Add(numSnapshotReports, 1)
	p.complete()
	return nil
}

// ReportSnapshotFailure records that an operator could not produce or
// persist its snapshot. The failure is contained: it fails this checkpoint
// attempt and nothing else.
func (c *Coordinator) ReportSnapshotFailure(checkpointID int64, operatorID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	if p == nil || p.meta.CheckpointID != checkpointID {
		return
	}
	if _, ok := p.expected[operatorID]; !ok {
		return
	}
	p.failed[operatorID] = cause.Error()
	stats.Add(numSnapshotFailed, 1)
	c.logger.Warn().
		Int64("checkpoint_id", checkpointID).
		Str("operator_id", operatorID).
		Err(cause).
		Msg("operator snapshot failed")
	p.complete()
}

// finalize closes out the pending checkpoint, updates counters and history,
// and performs backend-side cleanup outside the lock.
func (c *Coordinator) finalize(ctx context.Context, p *pendingCheckpoint, start time.Time, waitErr error) *Metadata {
	c.mu.Lock()
	c.pending = nil
	meta := p.meta
	meta.Duration = time.Since(start)

	var total int64
	for _, s := range meta.Snapshots {
		total += s.StateSize
	}
	meta.TotalSize = total

	meta.Success = waitErr == nil && len(p.failed) == 0 && len(meta.Snapshots) == len(p.expected)
	if !meta.Success {
		switch {
		case waitErr != nil:
			meta.ErrorMessage = fmt.Sprintf("%d of %d operators reported before %v",
				p.reported(), len(p.expected), waitErr)
		case len(p.failed) > 0:
			meta.ErrorMessage = fmt.Sprintf("operator snapshot failures: %v", p.failed)
		default:
			meta.ErrorMessage = "incomplete checkpoint"
		}
	}

	c.totalCheckpoints++
	c.totalDuration += meta.Duration
	var evicted []*Metadata
	if meta.Success {
		c.succeeded++
		c.retained = append(c.retained, meta)
		for len(c.retained) > c.cfg.MaxRetainedCheckpoints {
			evicted = append(evicted, c.retained[0])
			c.retained = c.retained[1:]
		}
	} else {
		c.failed++
	}
	c.mu.Unlock()

	stats.Get(latestDurationMs).(*expvar.Int).Set(meta.Duration.Milliseconds())
	stats.Get(latestSize).(*expvar.Int).Set(meta.TotalSize)

	if meta.Success {
		stats.Add(numSucceeded, 1)
		c.logger.Info().
			Int64("checkpoint_id", meta.CheckpointID).
			Int64("total_size", meta.TotalSize).
			Dur("duration_ms", meta.Duration).
			Msg("checkpoint completed")
		if !c.cfg.DisableMetadataPersistence {
			c.persistMetadata(ctx, meta)
		}
	} else {
		stats.Add(numFailed, 1)
		c.logger.Warn().
			Int64("checkpoint_id", meta.CheckpointID).
			Str("error", meta.ErrorMessage).
			Dur("duration_ms", meta.Duration).
			Msg("checkpoint failed")
		// Drop whatever partial state made it to the backend; the failed
		// attempt is never restored from.
		if err := c.backend.DeleteCheckpoint(ctx, meta.CheckpointID); err != nil {
			c.logger.Error().Err(err).Int64("checkpoint_id", meta.CheckpointID).Msg("failed to clean up partial checkpoint")
		}
	}

	for _, old := range evicted {
		if err := c.backend.DeleteCheckpoint(ctx, old.CheckpointID); err != nil {
			c.logger.Error().Err(err).Int64("checkpoint_id", old.CheckpointID).Msg("failed to prune checkpoint")
			continue
		}
		stats.Add(numPruned, 1)
		c.logger.Debug().Int64("checkpoint_id", old.CheckpointID).Msg("pruned checkpoint beyond retention")
	}
	return meta
}

func (c *Coordinator) persistMetadata(ctx context.Context, meta *Metadata) {
	buf, err := utils.EncodeMsgPack(meta)
	if err != nil {
		c.logger.Error().Err(err).Int64("checkpoint_id", meta.CheckpointID).Msg("failed to encode checkpoint metadata")
		return
	}
	if _, err := c.backend.SaveState(ctx, meta.CheckpointID, metadataOperatorID, buf.Bytes()); err != nil {
		c.logger.Error().Err(err).Int64("checkpoint_id", meta.CheckpointID).Msg("failed to persist checkpoint metadata")
	}
}

// LoadRetainedCheckpoints rebuilds the successful history from metadata
// persisted through the backend. It is intended to run once at startup,
// before the trigger loop starts, so a restarted process resumes id
// assignment past everything already stored.
func (c *Coordinator) LoadRetainedCheckpoints(ctx context.Context) error {
	ids, err := c.backend.ListCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}

	var loaded []*Metadata
	maxID := int64(0)
	for _, id := range ids {
		if id > maxID {
			maxID = id
		}
		blob, err := c.backend.LoadState(ctx, id, metadataOperatorID)
		if err != nil {
			// State without metadata is a partial or foreign checkpoint;
			// skip it.
			continue
		}
		var meta Metadata
		if err := utils.DecodeMsgPack(blob, &meta); err != nil {
			c.logger.Error().Err(err).Int64("checkpoint_id", id).Msg("failed to decode persisted metadata")
			continue
		}
		if meta.Success {
			loaded = append(loaded, &meta)
		}
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].CheckpointID < loaded[j].CheckpointID })
	if len(loaded) > c.cfg.MaxRetainedCheckpoints {
		loaded = loaded[len(loaded)-c.cfg.MaxRetainedCheckpoints:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retained = loaded
	if maxID > c.nextID {
		c.nextID = maxID
	}
	c.logger.Info().Int("checkpoints", len(loaded)).Int64("next_id", c.nextID+1).Msg("loaded retained checkpoints")
	return nil
}

// LatestCheckpoint returns the most recent successful checkpoint, or nil if
// none exists. Failed attempts are never retained.
func (c *Coordinator) LatestCheckpoint() *Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.retained) == 0 {
		return nil
	}
	return c.retained[len(c.retained)-1]
}

// RetainedCheckpoints returns the successful history, oldest first.
func (c *Coordinator) RetainedCheckpoints() []*Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Metadata, len(c.retained))
	copy(out, c.retained)
	return out
}

// Metrics returns a snapshot of the coordinator's running counters.
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Metrics{
		TotalCheckpoints:      c.totalCheckpoints,
		SuccessfulCheckpoints: c.succeeded,
		FailedCheckpoints:     c.failed,
	}
	if c.totalCheckpoints > 0 {
		m.AvgDuration = c.totalDuration / time.Duration(c.totalCheckpoints)
	}
	return m
}
