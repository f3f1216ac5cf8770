package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/kvsql/internal/backend"
	"github.com/roach88/kvsql/internal/backend/file"
	"github.com/roach88/kvsql/internal/backend/memory"
	"github.com/roach88/kvsql/internal/backend/metrics"
	"github.com/roach88/kvsql/internal/backend/redis"
	"github.com/roach88/kvsql/internal/backend/sqlite"
	"github.com/roach88/kvsql/internal/record"
)

// OpenOption configures Open.
type OpenOption func(*opener)

type opener struct {
	logger     *slog.Logger
	now        func() time.Time
	registerer prometheus.Registerer
}

// WithLogger sets the logger handed to the registry and every backend.
func WithLogger(logger *slog.Logger) OpenOption {
	return func(o *opener) {
		o.logger = logger
	}
}

// WithClock sets the time source of the registry and of the backends that
// track expiry.
func WithClock(now func() time.Time) OpenOption {
	return func(o *opener) {
		o.now = now
	}
}

// WithRegisterer sets where backend metrics are registered when
// Config.Metrics is on. Default: prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) OpenOption {
	return func(o *opener) {
		o.registerer = reg
	}
}

// Open builds a registry from cfg. Identical backend configurations share
// one backend instance. On failure every backend already opened is
// closed.
func Open(ctx context.Context, cfg *Config, opts ...OpenOption) (*record.Registry, error) {
	o := &opener{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("location %q: %w", cfg.Location, err)
	}

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.NewMetrics(o.registerer, "registry")
	}

	opened := make(map[BackendConfig]backend.Backend)
	get := func(bc BackendConfig) (backend.Backend, error) {
		if bc.Namespace == "" {
			bc.Namespace = cfg.Prefix
		}
		if b, ok := opened[bc]; ok {
			return b, nil
		}
		b, err := o.open(ctx, bc)
		if err != nil {
			return nil, err
		}
		if m != nil {
			b = metrics.Wrap(b, m)
		}
		opened[bc] = b
		o.logger.Debug("backend opened", "kind", bc.Kind, "namespace", bc.Namespace)
		return b, nil
	}
	closeAll := func() {
		for _, b := range opened {
			_ = b.Close()
		}
	}

	def, err := get(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	regOpts := []record.Option{
		record.WithKeyspace(backend.NewKeyspace(cfg.Prefix)),
		record.WithLogger(o.logger),
		record.WithClock(o.now),
		record.WithLocation(loc),
	}
	if cfg.Search {
		regOpts = append(regOpts, record.WithSearchIndex(record.NewMemoryIndex()))
	}
	for _, table := range slices.Sorted(maps.Keys(cfg.Bindings)) {
		b, err := get(cfg.Bindings[table])
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("bindings.%s: %w", table, err)
		}
		regOpts = append(regOpts, record.WithBinding(table, b))
	}

	return record.NewRegistry(def, regOpts...), nil
}

func (o *opener) open(ctx context.Context, bc BackendConfig) (backend.Backend, error) {
	switch bc.Kind {
	case KindMemory:
		return memory.New(memory.WithClock(o.now), memory.WithLogger(o.logger)), nil
	case KindFile:
		return file.New(bc.Path, bc.Namespace, file.WithClock(o.now), file.WithLogger(o.logger))
	case KindSQLite:
		return sqlite.Open(bc.Path, sqlite.WithClock(o.now), sqlite.WithLogger(o.logger))
	case KindRedis:
		return redis.Open(ctx, bc.URL, bc.Namespace, redis.WithLogger(o.logger))
	}
	return nil, errors.New("unknown backend kind " + bc.Kind)
}

// NewLogger returns a text logger writing to w at the configured level.
// verbose forces debug.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
