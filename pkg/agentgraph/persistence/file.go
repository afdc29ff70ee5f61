package persistence

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileProvider stores one JSON file per checkpoint under
// <root>/<agent>/<checkpoint>.json. Directory and file names are base64url
// encoded ids, so any id is safe on disk. Writes go to a temp file that
// is renamed into place.
type FileProvider struct {
	*retention

	root   string
	mu     sync.RWMutex
	closed bool
}

// NewFileProvider creates a provider rooted at dir, creating it if needed.
func NewFileProvider(dir string, opts ...Option) (*FileProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileProvider{retention: newRetention(opts), root: dir}, nil
}

func encodeName(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func (f *FileProvider) agentDir(agentID string) string {
	return filepath.Join(f.root, encodeName(agentID))
}

func (f *FileProvider) path(agentID, checkpointID string) string {
	return filepath.Join(f.agentDir(agentID), encodeName(checkpointID)+fileExt)
}

// SaveCheckpoint implements Provider.
func (f *FileProvider) SaveCheckpoint(ctx context.Context, agentID string, cp *Checkpoint) error {
	f.maybeCleanup(ctx, f.CleanupExpired)

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrProviderClosed
	}
	dir := f.agentDir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	return writeAtomic(dir, f.path(agentID, cp.ID), data)
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// readAgent loads every checkpoint of one agent. Callers hold f.mu.
func (f *FileProvider) readAgent(agentID string) ([]*Checkpoint, error) {
	return readDir(f.agentDir(agentID))
}

func readDir(dir string) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	cps := make([]*Checkpoint, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint: %w", err)
		}
		cp, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	sortByVersion(cps)
	return cps, nil
}

// GetCheckpoints implements Provider.
func (f *FileProvider) GetCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	f.maybeCleanup(ctx, f.CleanupExpired)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrProviderClosed
	}
	return f.readAgent(agentID)
}

// GetLatestCheckpoint implements Provider.
func (f *FileProvider) GetLatestCheckpoint(ctx context.Context, agentID string) (*Checkpoint, error) {
	cps, err := f.GetCheckpoints(ctx, agentID)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return cps[len(cps)-1], nil
}

// DeleteCheckpoint implements Provider.
func (f *FileProvider) DeleteCheckpoint(_ context.Context, agentID, checkpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrProviderClosed
	}
	err := os.Remove(f.path(agentID, checkpointID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteAllCheckpoints implements Provider.
func (f *FileProvider) DeleteAllCheckpoints(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrProviderClosed
	}
	if err := os.RemoveAll(f.agentDir(agentID)); err != nil {
		return fmt.Errorf("delete agent checkpoints: %w", err)
	}
	return nil
}

// CleanupExpired implements Provider.
func (f *FileProvider) CleanupExpired(context.Context) error {
	if f.ttl <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrProviderClosed
	}
	agents, err := os.ReadDir(f.root)
	if err != nil {
		return fmt.Errorf("read checkpoint root: %w", err)
	}
	var errs []error
	for _, a := range agents {
		if !a.IsDir() {
			continue
		}
		dir := filepath.Join(f.root, a.Name())
		cps, err := readDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, cp := range cps {
			if !f.expired(cp.CreatedAt) {
				continue
			}
			err := os.Remove(filepath.Join(dir, encodeName(cp.ID)+fileExt))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close implements io.Closer.
func (f *FileProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
