package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackends(t *testing.T) map[string]Backend {
	t.Helper()

	fsBackend, err := NewFSBackend(FSConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	badgerBackend, err := NewBadgerBackend(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	boltBackend, err := NewBoltBackend(BoltConfig{Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)

	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"fs":     fsBackend,
		"badger": badgerBackend,
		"bolt":   boltBackend,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := []byte{0x00, 0x01, 0xff, 0x7f, 'w', 'e', 'i', 'r', 0x00}

	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			loc, err := b.SaveState(ctx, 1, "op-a", payload)
			require.NoError(t, err)
			assert.NotEmpty(t, loc)

			got, err := b.LoadState(ctx, 1, "op-a")
			require.NoError(t, err)
			assert.Equal(t, payload, got, "loaded bytes must be identical to saved bytes")
		})
	}
}

func TestBackend_LoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.LoadState(ctx, 42, "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.SaveState(ctx, 7, "op-a", []byte("abc"))
			require.NoError(t, err)

			require.NoError(t, b.DeleteCheckpoint(ctx, 7))
			// Deleting twice is not an error.
			require.NoError(t, b.DeleteCheckpoint(ctx, 7))
			// Nor is deleting something that never existed.
			require.NoError(t, b.DeleteCheckpoint(ctx, 12345))

			_, err = b.LoadState(ctx, 7, "op-a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_ListCheckpointsOrdered(t *testing.T) {
	ctx := context.Background()
	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []int64{5, 1, 3} {
				_, err := b.SaveState(ctx, id, "op-a", []byte("x"))
				require.NoError(t, err)
				_, err = b.SaveState(ctx, id, "op-b", []byte("y"))
				require.NoError(t, err)
			}
			ids, err := b.ListCheckpoints(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3, 5}, ids)
		})
	}
}

func TestBackend_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	for name, b := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					opID := fmt.Sprintf("op-%d", i)
					_, err := b.SaveState(ctx, 1, opID, []byte(opID))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			for i := 0; i < 8; i++ {
				opID := fmt.Sprintf("op-%d", i)
				got, err := b.LoadState(ctx, 1, opID)
				require.NoError(t, err)
				assert.Equal(t, []byte(opID), got)
			}
		})
	}
}

func TestFSBackend_Compression(t *testing.T) {
	ctx := context.Background()
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7) // compressible
	}

	for _, compression := range []string{"none", "snappy", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			b, err := NewFSBackend(FSConfig{BaseDir: t.TempDir(), Compression: compression})
			require.NoError(t, err)
			defer b.Close()

			_, err = b.SaveState(ctx, 1, "op-a", payload)
			require.NoError(t, err)

			got, err := b.LoadState(ctx, 1, "op-a")
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFSBackend_Closed(t *testing.T) {
	b, err := NewFSBackend(FSConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.SaveState(context.Background(), 1, "op-a", []byte("x"))
	assert.ErrorIs(t, err, ErrBackendClosed)
}

func TestParseCompressionType(t *testing.T) {
	ct, err := ParseCompressionType("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, ct)

	ct, err = ParseCompressionType("Snappy")
	require.NoError(t, err)
	assert.Equal(t, CompressionSnappy, ct)

	_, err = ParseCompressionType("gzip")
	assert.Error(t, err)
}
