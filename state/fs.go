package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
	"github.com/tarungka/weir/internal/utils"
)

// FSConfig configures the filesystem backend.
type FSConfig struct {
	// BaseDir is the directory under which per-checkpoint directories are
	// created.
	BaseDir string `koanf:"base_dir" json:"base_dir"`

	// Compression is the type of compression to use for snapshot files.
	// Supported values: "none", "snappy", "zstd".
	// Defaults to "none".
	Compression string `koanf:"compression" json:"compression"`
}

// DefaultFSConfig returns an FSConfig with default values.
func DefaultFSConfig() FSConfig {
	return FSConfig{
		BaseDir:     "data/checkpoints",
		Compression: "none",
	}
}

// FSBackend stores one file per operator under a per-checkpoint directory:
// <base_dir>/<checkpoint_id>/<operator_id>.state
type FSBackend struct {
	baseDir     string
	compression CompressionType

	mu     sync.Mutex
	closed bool

	logger zerolog.Logger
}

// NewFSBackend creates a filesystem backend rooted at cfg.BaseDir, creating
// the directory if needed.
func NewFSBackend(cfg FSConfig) (*FSBackend, error) {
	ct, err := ParseCompressionType(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &FSBackend{
		baseDir:     cfg.BaseDir,
		compression: ct,
		logger:      logger.GetLogger("fs-backend"),
	}, nil
}

func (b *FSBackend) statePath(checkpointID int64, operatorID string) string {
	return filepath.Join(b.baseDir, strconv.FormatInt(checkpointID, 10), operatorID+".state")
}

// SaveState persists data to <base_dir>/<checkpoint_id>/<operator_id>.state.
// The file is written to a temp name and renamed so a crash mid-write never
// leaves a truncated state file behind.
func (b *FSBackend) SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBackendClosed
	}

	path := b.statePath(checkpointID, operatorID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	blob, err := compress(b.compression, data)
	if err != nil {
		return "", fmt.Errorf("compress state: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("open state file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename state file: %w", err)
	}

	b.logger.Debug().
		Int64("checkpoint_id", checkpointID).
		Str("operator_id", operatorID).
		Int("bytes", len(blob)).
		Msg("persisted operator state")
	return path, nil
}

// LoadState reads the state file back and undoes compression.
func (b *FSBackend) LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	path := b.statePath(checkpointID, operatorID)
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	data, err := decompress(b.compression, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress state: %w", err)
	}
	return data, nil
}

// DeleteCheckpoint removes the whole per-checkpoint directory. Removing a
// directory that does not exist is not an error.
func (b *FSBackend) DeleteCheckpoint(ctx context.Context, checkpointID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	dir := filepath.Join(b.baseDir, strconv.FormatInt(checkpointID, 10))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete checkpoint dir: %w", err)
	}
	b.logger.Debug().Int64("checkpoint_id", checkpointID).Msg("deleted checkpoint")
	return nil
}

// ListCheckpoints returns checkpoint ids in ascending order. Non-numeric
// entries under the base dir are ignored.
func (b *FSBackend) ListCheckpoints(ctx context.Context) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Size returns the total on-disk size of all retained checkpoints.
func (b *FSBackend) Size() (int64, error) {
	if !utils.PathExists(b.baseDir) {
		return 0, nil
	}
	return utils.DirSize(b.baseDir)
}

// Close marks the backend closed. Files already on disk are left in place.
func (b *FSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
