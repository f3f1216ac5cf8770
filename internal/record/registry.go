package record

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/kvsql/internal/backend"
)

// ScopeFunc is a named, reusable query step registered per table.
type ScopeFunc func(c *Collection, args ...any) *Collection

// RelationFunc resolves a named relation for a record. It returns a
// *Record (possibly nil) or a *Collection.
type RelationFunc func(ctx context.Context, r *Record) (any, error)

// Registry is the schema registry shared by every Table and Record built
// from it: backend bindings, keyspace, clock, logger, default hooks,
// scopes, named relations and the optional search index.
//
// Thread-safety: all methods are safe for concurrent use. Registration
// is expected to happen at startup, before records are used.
type Registry struct {
	keys     backend.Keyspace
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location
	search   SearchIndex

	mu        sync.RWMutex
	def       backend.Backend
	bound     map[string]backend.Backend
	hooks     map[string]Hooks
	scopes    map[string]map[string]ScopeFunc
	relations map[string]map[string]RelationFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithKeyspace sets the key prefix for every table.
func WithKeyspace(k backend.Keyspace) Option {
	return func(r *Registry) {
		r.keys = k
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock sets the time source for timestamps and watermarks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLocation sets the zone used when rendering _at attributes as times.
// Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		r.location = loc
	}
}

// WithSearchIndex sets the full-text search collaborator.
func WithSearchIndex(idx SearchIndex) Option {
	return func(r *Registry) {
		r.search = idx
	}
}

// WithBinding binds table to a backend other than the default.
func WithBinding(table string, b backend.Backend) Option {
	return func(r *Registry) {
		r.bound[table] = b
	}
}

// NewRegistry creates a Registry whose tables use def unless bound
// elsewhere.
func NewRegistry(def backend.Backend, opts ...Option) *Registry {
	r := &Registry{
		keys:      backend.NewKeyspace(""),
		logger:    slog.Default(),
		now:       time.Now,
		location:  time.UTC,
		def:       def,
		bound:     make(map[string]backend.Backend),
		hooks:     make(map[string]Hooks),
		scopes:    make(map[string]map[string]ScopeFunc),
		relations: make(map[string]map[string]RelationFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the table-bound factory for name.
func (r *Registry) Table(name string) *Table {
	return &Table{reg: r, name: name}
}

// Bind routes a table to a specific backend.
func (r *Registry) Bind(table string, b backend.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound[table] = b
}

// Backend returns the backend bound to table.
func (r *Registry) Backend(table string) backend.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bound[table]; ok {
		return b
	}
	return r.def
}

// Keyspace returns the key naming scheme.
func (r *Registry) Keyspace() backend.Keyspace {
	return r.keys
}

// Logger returns the registry logger.
func (r *Registry) Logger() *slog.Logger {
	return r.logger
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Location returns the zone used for rendering times.
func (r *Registry) Location() *time.Location {
	return r.location
}

// On registers a default hook for table. Defaults apply to records of the
// table that carry no instance hooks.
func (r *Registry) On(table string, ev Event, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks[table] == nil {
		r.hooks[table] = make(Hooks)
	}
	r.hooks[table][ev] = hook
}

// FlushHooks removes the default hooks of table.
func (r *Registry) FlushHooks(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, table)
}

// defaultHook looks up the default hook of table for ev under the lock;
// On may be writing the same map.
func (r *Registry) defaultHook(table string, ev Event) Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks[table][ev]
}

// AddScope registers a named scope for table.
func (r *Registry) AddScope(table, name string, fn ScopeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scopes[table] == nil {
		r.scopes[table] = make(map[string]ScopeFunc)
	}
	r.scopes[table][name] = fn
}

func (r *Registry) scope(table, name string) (ScopeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.scopes[table][name]
	return fn, ok
}

// DefineRelation registers a named relation for table. Named relations
// take precedence over naming conventions in Get, Relation, With and
// WhereHas.
func (r *Registry) DefineRelation(table, name string, fn RelationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.relations[table] == nil {
		r.relations[table] = make(map[string]RelationFunc)
	}
	r.relations[table][name] = fn
}

func (r *Registry) relation(table, name string) (RelationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.relations[table][name]
	return fn, ok
}

// DestroyAll wipes every namespace owned by the registry's backends.
func (r *Registry) DestroyAll(ctx context.Context) error {
	for _, b := range r.backends() {
		if err := b.DestroyNamespace(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every distinct backend the registry knows about.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.backends() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) backends() []backend.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[backend.Backend]bool)
	var out []backend.Backend
	add := func(b backend.Backend) {
		if b != nil && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	add(r.def)
	for _, b := range r.bound {
		add(b)
	}
	return out
}
