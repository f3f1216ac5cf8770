package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/kvsql/internal/backend"
)

const (
	lockPoll    = 2 * time.Millisecond
	lockTimeout = 5 * time.Second
	// Locks older than this are assumed to belong to a dead process.
	lockStale = 30 * time.Second
)

// lock acquires an exclusive lock file for key, polling until it is free,
// the context ends, or lockTimeout passes.
func (b *Backend) lock(ctx context.Context, op, key string) (func(), error) {
	sum := sha256.Sum256([]byte(key))
	p := filepath.Join(b.lockDir, hex.EncodeToString(sum[:8])+".lock")

	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { _ = os.Remove(p) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, backend.NewError(backend.CodeIO, op, key, err)
		}
		if info, statErr := os.Stat(p); statErr == nil && time.Since(info.ModTime()) > lockStale {
			_ = os.Remove(p)
			continue
		}
		if time.Now().After(deadline) {
			return nil, backend.NewError(backend.CodeIO, op, key, fmt.Errorf("lock %s: timed out", p))
		}
		select {
		case <-ctx.Done():
			return nil, backend.NewError(backend.CodeIO, op, key, ctx.Err())
		case <-time.After(lockPoll):
		}
	}
}
