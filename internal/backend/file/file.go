package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/kvsql/internal/backend"
)

// Kinds stored in the envelope's "t" field.
const (
	kindString = "string"
	kindHash   = "hash"
	kindSet    = "set"
)

// envelope is the on-disk payload.
type envelope struct {
	Key   string            `json:"k"`
	Kind  string            `json:"t"`
	Str   string            `json:"s,omitempty"`
	Hash  map[string]string `json:"h,omitempty"`
	Set   []string          `json:"m,omitempty"`
	expAt int64
}

// Backend stores keys as files. Safe for concurrent use within a process;
// Increment is additionally serialized across processes by a lock file.
type Backend struct {
	mu      sync.RWMutex
	root    string // namespace directory
	active  string // directory all I/O goes to; differs from root inside a transaction
	lockDir string
	now     func() time.Time
	logger  *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithLogger sets the logger for transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New opens (creating if needed) the namespace directory root/namespace.
func New(root, namespace string, opts ...Option) (*Backend, error) {
	if namespace == "" {
		namespace = backend.DefaultPrefix
	}
	dir := filepath.Join(root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, backend.NewError(backend.CodeIO, "open", dir, err)
	}
	b := &Backend{
		root:    dir,
		active:  dir,
		lockDir: dir + ".locks",
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := os.MkdirAll(b.lockDir, 0o755); err != nil {
		return nil, backend.NewError(backend.CodeIO, "open", b.lockDir, err)
	}
	return b, nil
}

// Dir returns the directory currently receiving reads and writes.
func (b *Backend) Dir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// read loads the envelope for key. A missing or expired key yields nil.
// Caller must hold b.mu.
func (b *Backend) read(op, key string) (*envelope, error) {
	p := PathFor(b.active, key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.NewError(backend.CodeIO, op, key, err)
	}
	env, err := decodeFile(data)
	if err != nil {
		return nil, backend.NewError(backend.CodeCorrupt, op, key, err)
	}
	if env.expAt > 0 && env.expAt <= b.now().Unix() {
		// Expired entries are removed lazily.
		_ = os.Remove(p)
		return nil, nil
	}
	return env, nil
}

// typed reads key and checks it holds kind. Caller must hold b.mu.
func (b *Backend) typed(op, key, kind string) (*envelope, error) {
	env, err := b.read(op, key)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Kind != kind {
		return nil, backend.NewError(backend.CodeWrongType, op, key,
			fmt.Errorf("key holds a %s, not a %s", env.Kind, kind))
	}
	return env, nil
}

// write stores env atomically via a temp file and rename.
// Caller must hold b.mu for writing.
func (b *Backend) write(op string, env *envelope) error {
	p := PathFor(b.active, env.Key)
	data, err := encodeFile(env)
	if err != nil {
		return backend.NewError(backend.CodeCorrupt, op, env.Key, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return backend.NewError(backend.CodeIO, op, env.Key, err)
	}
	tmp := p + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return backend.NewError(backend.CodeIO, op, env.Key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return backend.NewError(backend.CodeIO, op, env.Key, err)
	}
	return nil
}

// remove deletes key's file. Caller must hold b.mu for writing.
func (b *Backend) remove(op, key string) error {
	err := os.Remove(PathFor(b.active, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return backend.NewError(backend.CodeIO, op, key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.typed("get", key, kindString)
	if err != nil || env == nil {
		return "", false, err
	}
	return env.Str, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.SetWithTTL(ctx, key, value, 0)
}

func (b *Backend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	env := &envelope{Key: key, Kind: kindString, Str: value}
	if exp := backend.ExpiryAfter(b.now(), ttl); !exp.IsZero() {
		env.expAt = exp.Unix()
	}
	return b.write("set", env)
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.read("exists", key)
	return env != nil, err
}

func (b *Backend) Delete(ctx context.Context, keys ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, key := range keys {
		env, err := b.read("del", key)
		if err != nil {
			return n, err
		}
		if env == nil {
			continue
		}
		if err := b.remove("del", key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	return b.incrBy(ctx, "incr", key, 1)
}

func (b *Backend) Decrement(ctx context.Context, key string) (int64, error) {
	return b.incrBy(ctx, "decr", key, -1)
}

// incrBy takes the cross-process lock before the in-process mutex, the
// same order HashIncrement uses.
func (b *Backend) incrBy(ctx context.Context, op, key string, by int64) (int64, error) {
	unlock, err := b.lock(ctx, op, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	env, err := b.typed(op, key, kindString)
	if err != nil {
		return 0, err
	}
	var cur int64
	if env == nil {
		env = &envelope{Key: key, Kind: kindString}
	} else if env.Str != "" {
		cur, err = strconv.ParseInt(env.Str, 10, 64)
		if err != nil {
			return 0, backend.NewError(backend.CodeCorrupt, op, key, err)
		}
	}
	cur += by
	env.Str = strconv.FormatInt(cur, 10)
	if err := b.write(op, env); err != nil {
		return 0, err
	}
	return cur, nil
}

// mutateHash loads (or creates) the hash at key, applies fn and writes it
// back, deleting the file when the hash ends up empty.
func (b *Backend) mutateHash(op, key string, create bool, fn func(h map[string]string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	env, err := b.typed(op, key, kindHash)
	if err != nil {
		return err
	}
	if env == nil {
		if !create {
			return nil
		}
		env = &envelope{Key: key, Kind: kindHash, Hash: map[string]string{}}
	}
	if env.Hash == nil {
		env.Hash = map[string]string{}
	}
	if err := fn(env.Hash); err != nil {
		return err
	}
	if len(env.Hash) == 0 {
		return b.remove(op, key)
	}
	return b.write(op, env)
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	return b.mutateHash("hset", key, true, func(h map[string]string) error {
		h[field] = value
		return nil
	})
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.typed("hget", key, kindHash)
	if err != nil || env == nil {
		return "", false, err
	}
	v, ok := env.Hash[field]
	return v, ok, nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.typed("hgetall", key, kindHash)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(env.Hash), nil
}

func (b *Backend) HashDelete(ctx context.Context, key string, fields ...string) (int64, error) {
	var n int64
	err := b.mutateHash("hdel", key, false, func(h map[string]string) error {
		for _, f := range fields {
			if _, ok := h[f]; ok {
				delete(h, f)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (b *Backend) HashIncrement(ctx context.Context, key, field string, by int64) (int64, error) {
	unlock, err := b.lock(ctx, "hincrby", key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var cur int64
	err = b.mutateHash("hincrby", key, true, func(h map[string]string) error {
		if s, ok := h[field]; ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return backend.NewError(backend.CodeCorrupt, "hincrby", key, err)
			}
			cur = n
		}
		cur += by
		h[field] = strconv.FormatInt(cur, 10)
		return nil
	})
	return cur, err
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(all)), nil
}

func (b *Backend) HashLen(ctx context.Context, key string) (int64, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

func (b *Backend) HashScan(ctx context.Context, key string, cursor uint64, pattern string, count int64) (backend.ScanPage, error) {
	all, err := b.HashGetAll(ctx, key)
	if err != nil {
		return backend.ScanPage{}, err
	}
	return backend.ScanMap(all, cursor, pattern, count), nil
}

func (b *Backend) mutateSet(op, key string, create bool, fn func(set map[string]struct{})) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	env, err := b.typed(op, key, kindSet)
	if err != nil {
		return err
	}
	if env == nil {
		if !create {
			return nil
		}
		env = &envelope{Key: key, Kind: kindSet}
	}
	set := make(map[string]struct{}, len(env.Set))
	for _, m := range env.Set {
		set[m] = struct{}{}
	}
	fn(set)
	if len(set) == 0 {
		return b.remove(op, key)
	}
	env.Set = slices.Sorted(maps.Keys(set))
	return b.write(op, env)
}

func (b *Backend) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	var n int64
	err := b.mutateSet("sadd", key, true, func(set map[string]struct{}) {
		for _, m := range members {
			if _, ok := set[m]; !ok {
				set[m] = struct{}{}
				n++
			}
		}
	})
	return n, err
}

func (b *Backend) SetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	var n int64
	err := b.mutateSet("srem", key, false, func(set map[string]struct{}) {
		for _, m := range members {
			if _, ok := set[m]; ok {
				delete(set, m)
				n++
			}
		}
	})
	return n, err
}

func (b *Backend) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	members, err := b.SetMembers(ctx, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(members, member), nil
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.typed("smembers", key, kindSet)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return []string{}, nil
	}
	return slices.Clone(env.Set), nil
}

func (b *Backend) collect(ctx context.Context, keys []string) ([][]string, error) {
	sets := make([][]string, 0, len(keys))
	for _, key := range keys {
		m, err := b.SetMembers(ctx, key)
		if err != nil {
			return nil, err
		}
		sets = append(sets, m)
	}
	return sets, nil
}

func (b *Backend) Intersect(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, keys)
	if err != nil {
		return nil, err
	}
	return backend.IntersectSets(sets...), nil
}

func (b *Backend) Union(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, keys)
	if err != nil {
		return nil, err
	}
	return backend.UnionSets(sets...), nil
}

func (b *Backend) Diff(ctx context.Context, keys ...string) ([]string, error) {
	sets, err := b.collect(ctx, keys)
	if err != nil {
		return nil, err
	}
	return backend.DiffSets(sets...), nil
}

func (b *Backend) ExpireAt(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	env, err := b.read("expire", key)
	if err != nil || env == nil {
		return false, err
	}
	env.expAt = 0
	if exp := backend.ExpiryAfter(b.now(), ttl); !exp.IsZero() {
		env.expAt = exp.Unix()
	}
	if err := b.write("expire", env); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) ExpiryTimestamp(ctx context.Context, key string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, err := b.read("expiretime", key)
	if err != nil || env == nil {
		return 0, err
	}
	return env.expAt, nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []string{}
	now := b.now().Unix()
	err := filepath.WalkDir(b.active, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != cacheExt {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		env, err := decodeFile(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if env.expAt > 0 && env.expAt <= now {
			return nil
		}
		if backend.Match(pattern, env.Key) {
			out = append(out, env.Key)
		}
		return nil
	})
	if err != nil {
		return nil, backend.NewError(backend.CodeIO, "keys", pattern, err)
	}
	slices.Sort(out)
	return out, nil
}

func (b *Backend) DestroyNamespace(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.RemoveAll(b.active); err != nil {
		return backend.NewError(backend.CodeIO, "destroy", b.active, err)
	}
	if err := os.MkdirAll(b.active, 0o755); err != nil {
		return backend.NewError(backend.CodeIO, "destroy", b.active, err)
	}
	return nil
}

// Close is a no-op; every operation already flushed to disk.
func (b *Backend) Close() error {
	return nil
}
