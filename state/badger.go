package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/internal/utils"
)

// badgerKeyPrefix namespaces checkpoint state within the badger keyspace so
// the same DB can host other data.
var badgerKeyPrefix = []byte("cp/")

// BadgerConfig configures the badger-based backend.
type BadgerConfig struct {
	// Dir is the directory for the badger value log and LSM tree.
	// Ignored when InMemory is set.
	Dir string `koanf:"dir" json:"dir"`

	// InMemory opens the database without any files on disk. Only useful
	// in tests; it obviously forfeits durability.
	InMemory bool `koanf:"in_memory" json:"in_memory"`
}

// BadgerBackend stores operator state in a badger key-value store under
// keys of the form cp/<checkpoint_id BE64>/<operator_id>.
type BadgerBackend struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewBadgerBackend opens (or creates) the badger database described by cfg.
func NewBadgerBackend(cfg BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerBackend{
		db:     db,
		logger: logger.GetLogger("badger-backend"),
	}, nil
}

func badgerCheckpointPrefix(checkpointID int64) []byte {
	key := make([]byte, 0, len(badgerKeyPrefix)+9)
	key = append(key, badgerKeyPrefix...)
	key = append(key, utils.ConvertUint64ToBytes(uint64(checkpointID))...)
	return append(key, '/')
}

func badgerStateKey(checkpointID int64, operatorID string) []byte {
	return append(badgerCheckpointPrefix(checkpointID), operatorID...)
}

// SaveState writes data in a single badger transaction.
func (b *BadgerBackend) SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error) {
	key := badgerStateKey(checkpointID, operatorID)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		b.logger.Err(err).Int64("checkpoint_id", checkpointID).Str("operator_id", operatorID).Msg("failed to save state")
		return "", fmt.Errorf("badger save: %w", err)
	}
	return "badger://" + string(key), nil
}

// LoadState returns the stored value, copied out of the transaction.
func (b *BadgerBackend) LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerStateKey(checkpointID, operatorID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
		}
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return data, nil
}

// DeleteCheckpoint drops every key under the checkpoint's prefix.
func (b *BadgerBackend) DeleteCheckpoint(ctx context.Context, checkpointID int64) error {
	if err := b.db.DropPrefix(badgerCheckpointPrefix(checkpointID)); err != nil {
		return fmt.Errorf("badger delete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints scans the key prefix and collects the distinct checkpoint
// ids, ascending. Keys are big-endian so iteration order is already sorted,
// but the ids are deduplicated through a set first.
func (b *BadgerBackend) ListCheckpoints(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(badgerKeyPrefix); it.ValidForPrefix(badgerKeyPrefix); it.Next() {
			key := it.Item().Key()
			if len(key) < len(badgerKeyPrefix)+8 {
				continue
			}
			id := utils.ConvertBytesToUint64(key[len(badgerKeyPrefix) : len(badgerKeyPrefix)+8])
			seen[int64(id)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list checkpoints: %w", err)
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close closes the underlying badger database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
