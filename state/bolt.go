package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/internal/utils"
	bolt "go.etcd.io/bbolt"
)

// BoltConfig configures the bbolt-based backend.
type BoltConfig struct {
	// Path is the bolt database file.
	Path string `koanf:"path" json:"path"`
}

// BoltBackend stores operator state in a single bbolt file, one bucket per
// checkpoint (bucket name is the big-endian checkpoint id), one key per
// operator.
type BoltBackend struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewBoltBackend opens (or creates) the bolt database at cfg.Path.
func NewBoltBackend(cfg BoltConfig) (*BoltBackend, error) {
	db, err := bolt.Open(cfg.Path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &BoltBackend{
		db:     db,
		logger: logger.GetLogger("bolt-backend"),
	}, nil
}

func boltBucketName(checkpointID int64) []byte {
	return utils.ConvertUint64ToBytes(uint64(checkpointID))
}

// SaveState writes data into the checkpoint's bucket, creating it if needed.
func (b *BoltBackend) SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(boltBucketName(checkpointID))
		if err != nil {
			return err
		}
		return bkt.Put([]byte(operatorID), data)
	})
	if err != nil {
		return "", fmt.Errorf("bolt save: %w", err)
	}
	return fmt.Sprintf("bolt://%s#%d/%s", b.db.Path(), checkpointID, operatorID), nil
}

// LoadState returns a copy of the stored bytes. Bolt values are only valid
// inside the transaction, so the copy is mandatory.
func (b *BoltBackend) LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(boltBucketName(checkpointID))
		if bkt == nil {
			return fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
		}
		v := bkt.Get([]byte(operatorID))
		if v == nil {
			return fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteCheckpoint drops the checkpoint's bucket. A missing bucket is fine.
func (b *BoltBackend) DeleteCheckpoint(ctx context.Context, checkpointID int64) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(boltBucketName(checkpointID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("bolt delete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the bucket names decoded back into ids, ascending.
func (b *BoltBackend) ListCheckpoints(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if len(name) != 8 {
				return nil
			}
			ids = append(ids, int64(utils.ConvertBytesToUint64(name)))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt list checkpoints: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close closes the underlying bolt database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
