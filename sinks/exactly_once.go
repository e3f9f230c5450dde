package sinks

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
)

// ErrInvalidStateTransition is returned when a transaction operation is
// called from the wrong lifecycle state. The call has no side effects.
var ErrInvalidStateTransition = errors.New("invalid transaction state transition")

// TxnState is the transaction lifecycle state of an ExactlyOnceProcessor.
type TxnState int

const (
	TxnIdle TxnState = iota
	TxnPreparing
	TxnPrepared
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnIdle:
		return "idle"
	case TxnPreparing:
		return "preparing"
	case TxnPrepared:
		return "prepared"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IDExtractor derives the dedup id for a record. The default hashes the
// record bytes.
type IDExtractor func(record []byte) string

func defaultIDExtractor(record []byte) string {
	h := fnv.New64a()
	h.Write(record)
	return fmt.Sprintf("%016x", h.Sum64())
}

// ExactlyOnceProcessor is the output-side deduplication layer. A record id
// is applied to output at most once per processor lifetime: committed ids
// are recognized as duplicates forever, while aborting a transaction frees
// only that transaction's ids for reprocessing.
//
// The transaction protocol is a simplified two-phase commit:
// idle -> Begin -> preparing -> Prepare -> prepared -> Commit -> committed,
// with Abort allowed from preparing/prepared and Reset returning any
// terminal state to idle.
type ExactlyOnceProcessor struct {
	mu      sync.Mutex
	extract IDExtractor

	// seen holds every id currently claimed: committed ids plus the ids of
	// the in-flight transaction's pending records.
	seen       map[string]struct{}
	pending    [][]byte
	pendingIDs []string
	committed  [][]byte
	state      TxnState

	logger zerolog.Logger
}

// NewExactlyOnceProcessor creates a processor. A nil extractor falls back
// to hashing the record bytes.
func NewExactlyOnceProcessor(extract IDExtractor) *ExactlyOnceProcessor {
	if extract == nil {
		extract = defaultIDExtractor
	}
	return &ExactlyOnceProcessor{
		extract: extract,
		seen:    make(map[string]struct{}),
		state:   TxnIdle,
		logger:  logger.GetLogger("exactly-once"),
	}
}

// ProcessRecord accepts the record unless its id was already seen. Accepted
// records are appended to the pending outputs of the current transaction.
func (p *ExactlyOnceProcessor) ProcessRecord(record []byte) bool {
	id := p.extract(record)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.seen[id]; dup {
		p.logger.Debug().Str("record_id", id).Msg("dropping duplicate record")
		return false
	}
	p.seen[id] = struct{}{}
	cp := make([]byte, len(record))
	copy(cp, record)
	p.pending = append(p.pending, cp)
	p.pendingIDs = append(p.pendingIDs, id)
	return true
}

// BeginTransaction moves idle -> preparing.
func (p *ExactlyOnceProcessor) BeginTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnIdle {
		return fmt.Errorf("%w: begin from %s", ErrInvalidStateTransition, p.state)
	}
	p.state = TxnPreparing
	return nil
}

// PrepareTransaction moves preparing -> prepared.
func (p *ExactlyOnceProcessor) PrepareTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnPreparing {
		return fmt.Errorf("%w: prepare from %s", ErrInvalidStateTransition, p.state)
	}
	p.state = TxnPrepared
	return nil
}

// CommitTransaction moves prepared -> committed and makes the pending
// outputs permanent: their ids contribute to dedup checks forever.
func (p *ExactlyOnceProcessor) CommitTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnPrepared {
		return fmt.Errorf("%w: commit from %s", ErrInvalidStateTransition, p.state)
	}
	p.committed = append(p.committed, p.pending...)
	p.pending = nil
	p.pendingIDs = nil
	p.state = TxnCommitted
	p.logger.Debug().Int("committed_total", len(p.committed)).Msg("transaction committed")
	return nil
}

// AbortTransaction moves preparing/prepared -> aborted. The dedup markers of
// the aborted transaction's pending records are removed, making those ids
// eligible for reprocessing; previously committed ids are untouched.
func (p *ExactlyOnceProcessor) AbortTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnPreparing && p.state != TxnPrepared {
		return fmt.Errorf("%w: abort from %s", ErrInvalidStateTransition, p.state)
	}
	for _, id := range p.pendingIDs {
		delete(p.seen, id)
	}
	p.logger.Debug().Int("released", len(p.pendingIDs)).Msg("transaction aborted")
	p.pending = nil
	p.pendingIDs = nil
	p.state = TxnAborted
	return nil
}

// ResetTransaction moves committed/aborted -> idle so the next transaction
// can begin.
func (p *ExactlyOnceProcessor) ResetTransaction() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != TxnCommitted && p.state != TxnAborted {
		return fmt.Errorf("%w: reset from %s", ErrInvalidStateTransition, p.state)
	}
	p.state = TxnIdle
	return nil
}

// State returns the current transaction state.
func (p *ExactlyOnceProcessor) State() TxnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PendingOutputs returns a copy of the current transaction's accepted
// records, in arrival order.
func (p *ExactlyOnceProcessor) PendingOutputs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.pending))
	copy(out, p.pending)
	return out
}

// CommittedOutputs returns a copy of all committed records, in commit order.
func (p *ExactlyOnceProcessor) CommittedOutputs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.committed))
	copy(out, p.committed)
	return out
}
