package file

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/kvsql/internal/backend"
)

func (b *Backend) BeginTransaction(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active != b.root {
		return backend.NewError(backend.CodeTx, "begin", "", backend.ErrTxActive)
	}
	snapshot := b.root + ".tx-" + uuid.NewString()
	if err := copyDir(b.root, snapshot); err != nil {
		_ = os.RemoveAll(snapshot)
		return backend.NewError(backend.CodeTx, "begin", snapshot, err)
	}
	b.active = snapshot
	b.logger.Debug("file transaction begun", "snapshot", snapshot)
	return nil
}

func (b *Backend) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == b.root {
		return backend.NewError(backend.CodeTx, "commit", "", backend.ErrNoTx)
	}
	snapshot := b.active
	if err := os.RemoveAll(b.root); err != nil {
		return backend.NewError(backend.CodeTx, "commit", b.root, err)
	}
	if err := os.Rename(snapshot, b.root); err != nil {
		return backend.NewError(backend.CodeTx, "commit", b.root, err)
	}
	b.active = b.root
	b.logger.Debug("file transaction committed", "snapshot", snapshot)
	return nil
}

func (b *Backend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == b.root {
		return backend.NewError(backend.CodeTx, "rollback", "", backend.ErrNoTx)
	}
	snapshot := b.active
	b.active = b.root
	if err := os.RemoveAll(snapshot); err != nil {
		return backend.NewError(backend.CodeTx, "rollback", snapshot, err)
	}
	b.logger.Debug("file transaction rolled back", "snapshot", snapshot)
	return nil
}

// copyDir copies the tree at src to dst, which must not exist.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
