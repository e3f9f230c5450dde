package sinks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byFirstByte treats the first byte of the record as the record id, which
// makes duplicate scenarios easy to spell in tests.
func byFirstByte(record []byte) string {
	return string(record[:1])
}

func TestExactlyOnce_Deduplication(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)

	accepted := 0
	for _, id := range []byte{1, 2, 1, 3, 2} {
		if p.ProcessRecord([]byte{id}) {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
	assert.Len(t, p.PendingOutputs(), 3)
}

func TestExactlyOnce_TransactionLifecycle(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)
	assert.Equal(t, TxnIdle, p.State())

	require.NoError(t, p.BeginTransaction())
	assert.Equal(t, TxnPreparing, p.State())

	assert.True(t, p.ProcessRecord([]byte{1, 'a'}))
	assert.True(t, p.ProcessRecord([]byte{2, 'b'}))

	require.NoError(t, p.PrepareTransaction())
	assert.Equal(t, TxnPrepared, p.State())

	require.NoError(t, p.CommitTransaction())
	assert.Equal(t, TxnCommitted, p.State())
	assert.Empty(t, p.PendingOutputs())
	assert.Len(t, p.CommittedOutputs(), 2)

	require.NoError(t, p.ResetTransaction())
	assert.Equal(t, TxnIdle, p.State())
}

func TestExactlyOnce_InvalidTransitionsHaveNoSideEffects(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)

	// Everything but Begin is invalid from idle.
	assert.ErrorIs(t, p.PrepareTransaction(), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.CommitTransaction(), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.AbortTransaction(), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.ResetTransaction(), ErrInvalidStateTransition)
	assert.Equal(t, TxnIdle, p.State())

	require.NoError(t, p.BeginTransaction())
	assert.ErrorIs(t, p.BeginTransaction(), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.CommitTransaction(), ErrInvalidStateTransition, "commit requires prepare first")
	assert.Equal(t, TxnPreparing, p.State())

	p.ProcessRecord([]byte{1})
	require.NoError(t, p.PrepareTransaction())
	require.NoError(t, p.CommitTransaction())

	// The failed calls above did not lose or duplicate anything.
	assert.Len(t, p.CommittedOutputs(), 1)
}

func TestExactlyOnce_AbortReleasesOnlyPendingIDs(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)

	// Commit record 20 for good.
	require.NoError(t, p.BeginTransaction())
	assert.True(t, p.ProcessRecord([]byte{20}))
	require.NoError(t, p.PrepareTransaction())
	require.NoError(t, p.CommitTransaction())
	require.NoError(t, p.ResetTransaction())

	// Stage 10 and 11, then abort.
	require.NoError(t, p.BeginTransaction())
	assert.True(t, p.ProcessRecord([]byte{10}))
	assert.True(t, p.ProcessRecord([]byte{11}))
	require.NoError(t, p.AbortTransaction())
	assert.Equal(t, TxnAborted, p.State())
	assert.Empty(t, p.PendingOutputs())
	require.NoError(t, p.ResetTransaction())

	// Aborted ids are eligible again; committed ids are duplicates forever.
	require.NoError(t, p.BeginTransaction())
	assert.True(t, p.ProcessRecord([]byte{10}), "aborted id must be accepted again")
	assert.False(t, p.ProcessRecord([]byte{20}), "committed id must stay duplicate")
	require.NoError(t, p.PrepareTransaction())
	require.NoError(t, p.CommitTransaction())
	require.NoError(t, p.ResetTransaction())

	assert.Len(t, p.CommittedOutputs(), 2)
}

func TestExactlyOnce_AbortFromPrepared(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)

	require.NoError(t, p.BeginTransaction())
	p.ProcessRecord([]byte{1})
	require.NoError(t, p.PrepareTransaction())
	require.NoError(t, p.AbortTransaction())
	require.NoError(t, p.ResetTransaction())

	assert.True(t, p.ProcessRecord([]byte{1}))
}

func TestExactlyOnce_DefaultExtractorHashesBytes(t *testing.T) {
	p := NewExactlyOnceProcessor(nil)

	assert.True(t, p.ProcessRecord([]byte("record-a")))
	assert.False(t, p.ProcessRecord([]byte("record-a")))
	assert.True(t, p.ProcessRecord([]byte("record-b")))
}

func TestExactlyOnce_RecordsAreCopied(t *testing.T) {
	p := NewExactlyOnceProcessor(byFirstByte)

	record := []byte{9, 'p', 'a', 'y'}
	require.True(t, p.ProcessRecord(record))
	record[1] = 'X'

	pending := p.PendingOutputs()
	require.Len(t, pending, 1)
	assert.Equal(t, []byte{9, 'p', 'a', 'y'}, pending[0])
}
