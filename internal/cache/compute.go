package cache

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"runtime"
	"strconv"

	"github.com/roach88/kvsql/internal/attr"
)

type computeConfig struct {
	salt   []any
	source bool
}

// ComputeOption configures a fingerprint.
type ComputeOption func(*computeConfig)

// WithSalt mixes extra values, typically the computation's parameters,
// into the fingerprint.
func WithSalt(values ...any) ComputeOption {
	return func(c *computeConfig) {
		c.salt = append(c.salt, values...)
	}
}

// WithSource mixes the source text of the function into the fingerprint,
// so that editing its body invalidates earlier results. It has no effect
// when the source file cannot be read.
func WithSource() ComputeOption {
	return func(c *computeConfig) {
		c.source = true
	}
}

// Compute returns the cached result of fn for the current state of the
// cache's table, running fn only on a miss. The entry is keyed by
// Fingerprint, so any write to the table makes the next call recompute.
// A recomputed result replaces the entry of the previous fingerprint.
func Compute[T any](ctx context.Context, c *Cache, fn func(ctx context.Context) (T, error), opts ...ComputeOption) (T, error) {
	identity, fp, err := fingerprint(ctx, c, fn, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := GetOrCreate(ctx, c, "fn."+fp, fn)
	if err != nil {
		return v, err
	}
	c.retire(ctx, identity, fp)
	return v, nil
}

// retire records fp as the latest fingerprint of the computation and
// forgets the entry of the one it replaces. Failures are logged; the
// stale entry then lives until its TTL or a Flush.
func (c *Cache) retire(ctx context.Context, identity, fp string) {
	latest := "fn.latest." + identity
	var prev string
	ok, err := c.Get(ctx, latest, &prev)
	if err != nil {
		c.logger.Warn("read latest fingerprint", "table", c.tbl.Name(), "error", err)
		return
	}
	if ok && prev == fp {
		return
	}
	if ok {
		if _, err := c.Forget(ctx, "fn."+prev); err != nil {
			c.logger.Warn("forget stale fingerprint", "table", c.tbl.Name(), "key", "fn."+prev, "error", err)
			return
		}
	}
	if err := c.Set(ctx, latest, fp); err != nil {
		c.logger.Warn("store latest fingerprint", "table", c.tbl.Name(), "error", err)
	}
}

// Fingerprint identifies fn's result for the table's current state: a
// domain-separated SHA-256 over the function name, its file:line, its
// source when WithSource is given, the salt and the table watermark.
func Fingerprint(ctx context.Context, c *Cache, fn any, opts ...ComputeOption) (string, error) {
	_, fp, err := fingerprint(ctx, c, fn, opts...)
	return fp, err
}

// fingerprint returns the hash of the computation without the watermark,
// which stays stable across writes, and the full fingerprint.
func fingerprint(ctx context.Context, c *Cache, fn any, opts ...ComputeOption) (identity, fp string, err error) {
	var cfg computeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return "", "", fmt.Errorf("fingerprint: %T is not a function", fn)
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return "", "", fmt.Errorf("fingerprint: no symbol for %T", fn)
	}
	file, line := f.FileLine(f.Entry())

	parts := attr.Array{
		attr.String(f.Name()),
		attr.String(file + ":" + strconv.Itoa(line)),
	}
	if cfg.source {
		src, err := funcSource(file, line)
		if err != nil {
			c.logger.Debug("fingerprint without source", "func", f.Name(), "error", err)
		}
		parts = append(parts, attr.String(src))
	}
	for _, s := range cfg.salt {
		v, err := attr.From(s)
		if err != nil {
			return "", "", fmt.Errorf("fingerprint salt: %w", err)
		}
		parts = append(parts, v)
	}

	data, err := attr.MarshalCanonical(parts)
	if err != nil {
		return "", "", fmt.Errorf("fingerprint: %w", err)
	}
	identity = attr.HashWithDomain(attr.DomainFingerprint, data)

	mark, err := c.tbl.Watermark(ctx)
	if err != nil {
		return "", "", err
	}
	parts = append(parts, attr.Int(mark))

	data, err = attr.MarshalCanonical(parts)
	if err != nil {
		return "", "", fmt.Errorf("fingerprint: %w", err)
	}
	return identity, attr.HashWithDomain(attr.DomainFingerprint, data), nil
}

// funcSource returns the text of the innermost function declaration or
// literal in file that spans line.
func funcSource(file string, line int) (string, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	fset := token.NewFileSet()
	tree, err := parser.ParseFile(fset, file, src, parser.SkipObjectResolution)
	if err != nil {
		return "", err
	}

	var best ast.Node
	ast.Inspect(tree, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
		default:
			return true
		}
		start, end := fset.Position(n.Pos()).Line, fset.Position(n.End()).Line
		if start <= line && line <= end {
			if best == nil || n.End()-n.Pos() < best.End()-best.Pos() {
				best = n
			}
		}
		return true
	})
	if best == nil {
		return "", fmt.Errorf("no function at %s:%d", file, line)
	}
	return string(src[fset.Position(best.Pos()).Offset:fset.Position(best.End()).Offset]), nil
}
