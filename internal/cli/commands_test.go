package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/cache"
	"github.com/roach88/kvsql/internal/config"
	"github.com/roach88/kvsql/internal/testutil"
)

// fixture is a file-backed store shared by successive CLI invocations.
type fixture struct {
	t      *testing.T
	config string
	clock  *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kvsql.yaml")
	content := fmt.Sprintf("prefix: lib\nbackend:\n  kind: file\n  path: %s\n", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &fixture{t: t, config: path, clock: testutil.NewClock(testutil.Epoch)}
}

// seed writes rows directly through the registry the CLI would open.
func (fx *fixture) seed(table string, rows ...map[string]any) {
	fx.t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(fx.config, noEnv)
	require.NoError(fx.t, err)
	reg, err := config.Open(ctx, cfg, config.WithLogger(quietLogger()), config.WithClock(fx.clock.Now))
	require.NoError(fx.t, err)
	defer reg.Close()
	for _, row := range rows {
		_, err := reg.Table(table).Create(ctx, row)
		require.NoError(fx.t, err)
	}
}

func (fx *fixture) seedLibrary() {
	fx.seed("book",
		map[string]any{"title": "Les Misérables", "pages": 1463, "genre": "novel"},
		map[string]any{"title": "Notre-Dame de Paris", "pages": 940, "genre": "novel"},
		map[string]any{"title": "Les Contemplations", "pages": 350, "genre": "poetry"},
		map[string]any{"title": "Les Fleurs du mal", "pages": 250, "genre": "poetry"},
	)
	fx.seed("author",
		map[string]any{"name": "Victor Hugo"},
		map[string]any{"name": "Charles Baudelaire"},
	)
}

// run executes the CLI and returns stdout, stderr and the command error.
func (fx *fixture) run(args ...string) (string, string, error) {
	fx.t.Helper()
	opts := &RootOptions{now: fx.clock.Now, getenv: noEnv}
	cmd := newRootCommand(opts)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", fx.config}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (fx *fixture) mustRun(args ...string) string {
	fx.t.Helper()
	out, stderr, err := fx.run(args...)
	require.NoError(fx.t, err, stderr)
	return out
}

func noEnv(string) string { return "" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestListGolden(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	g := newGoldie(t)
	g.Assert(t, "list_text", []byte(fx.mustRun("list", "book", "--where", "pages > 900", "--order", "-pages")))
	g.Assert(t, "list_json", []byte(fx.mustRun("list", "book", "-w", "genre = poetry", "--select", "title", "--format", "json")))
}

func TestExportGolden(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	g := newGoldie(t)
	g.Assert(t, "export_author", []byte(fx.mustRun("export", "author")))
}

func TestList(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	out := fx.mustRun("list", "book", "--where", "title like Les%", "--order", "pages", "--limit", "2", "--select", "title")
	assert.Equal(t, `book#4 {"title":"Les Fleurs du mal","id":4}
book#3 {"title":"Les Contemplations","id":3}
(2 records)
`, out)

	out = fx.mustRun("list", "book", "--where", "genre = novel", "--count")
	assert.Equal(t, "2\n", out)

	out = fx.mustRun("list", "book", "--where", "pages > 5000")
	assert.Equal(t, "(0 records)\n", out)

	out = fx.mustRun("list", "book", "--where", "pages > 5000", "--format", "json")
	assert.Equal(t, `{"status":"ok","data":[]}`+"\n", out)
}

func TestListInvalidQuery(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown operator", []string{"list", "book", "--where", "pages ~~ 3"}},
		{"missing value", []string{"list", "book", "--where", "pages >"}},
		{"bad order", []string{"list", "book", "--order", "pages sideways"}},
		{"negative limit", []string{"list", "book", "--limit", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := fx.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E004]")
		})
	}
}

func TestFind(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	out := fx.mustRun("find", "author", "1")
	assert.Equal(t, `author#1 {"name":"Victor Hugo","id":1,"created_at":1704164645,"updated_at":1704164645}`+"\n", out)

	out = fx.mustRun("find", "author", "2", "--format", "json")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Charles Baudelaire", resp.Data.(map[string]any)["name"])
}

func TestFindErrors(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	out, _, err := fx.run("find", "author", "9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
	assert.Contains(t, out, "record not found")

	out, _, err = fx.run("find", "author", "one", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
}

func TestCreateAndDelete(t *testing.T) {
	fx := newFixture(t)

	out := fx.mustRun("create", "book", "title=Les Misérables", "pages=1463", `tags=["roman","histoire"]`, "note=")
	assert.Equal(t,
		`book#1 {"note":null,"pages":1463,"tags":["roman","histoire"],"title":"Les Misérables","id":1,"created_at":1704164645,"updated_at":1704164645}`+"\n",
		out)

	fx.clock.Advance(time.Minute)
	out = fx.mustRun("create", "book", "title=Les Contemplations")
	assert.Contains(t, out, `"created_at":1704164705`)

	assert.Equal(t, "2\n", fx.mustRun("list", "book", "--count"))
	assert.Equal(t, "deleted 1 record(s)\n", fx.mustRun("delete", "book", "1", "7"))
	assert.Equal(t, "1\n", fx.mustRun("list", "book", "--count"))

	_, _, err := fx.run("create", "book", "title")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = fx.run("create", "book", "id=4")
	require.Error(t, err)
}

func TestDrop(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	assert.Equal(t, "dropped book\n", fx.mustRun("drop", "book"))
	assert.Equal(t, "0\n", fx.mustRun("list", "book", "--count"))
	assert.Equal(t, "2\n", fx.mustRun("list", "author", "--count"))

	out := fx.mustRun("create", "book", "title=Les Contemplations")
	assert.True(t, strings.HasPrefix(out, "book#1 "), "id counter restarts after drop")
}

func TestExportImportRoundTrip(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	file := filepath.Join(t.TempDir(), "books.json")
	out := fx.mustRun("export", "book", "-o", file)
	assert.Equal(t, fmt.Sprintf("exported book to %s\n", file), out)

	fx.mustRun("drop", "book")
	assert.Equal(t, "imported 4 record(s)\n", fx.mustRun("import", "book", file))
	assert.Equal(t, "4\n", fx.mustRun("list", "book", "--count"))

	out = fx.mustRun("find", "book", "3")
	assert.Contains(t, out, `"title":"Les Contemplations"`)

	out = fx.mustRun("create", "book", "title=Odes et Ballades")
	assert.True(t, strings.HasPrefix(out, "book#5 "), "imported ids raise the counter")
}

func TestImportErrors(t *testing.T) {
	fx := newFixture(t)

	out, _, err := fx.run("import", "book", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E005]")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o644))
	_, _, err = fx.run("import", "book", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImportFromStdin(t *testing.T) {
	fx := newFixture(t)

	opts := &RootOptions{now: fx.clock.Now, getenv: noEnv}
	cmd := newRootCommand(opts)
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetIn(strings.NewReader(`[{"name":"Victor Hugo"},{"id":7,"name":"George Sand"}]`))
	cmd.SetArgs([]string{"--config", fx.config, "import", "author", "-"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "imported 2 record(s)\n", stdout.String())

	assert.Contains(t, fx.mustRun("find", "author", "7"), "George Sand")
}

func TestCacheFlush(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	ctx := context.Background()
	cfg, err := config.Load(fx.config, noEnv)
	require.NoError(t, err)
	reg, err := config.Open(ctx, cfg, config.WithLogger(quietLogger()), config.WithClock(fx.clock.Now))
	require.NoError(t, err)
	books := cache.New(reg.Table("book"), 0)
	require.NoError(t, books.Set(ctx, "top", []int{1, 2}))
	require.NoError(t, books.Set(ctx, "novels", []int{1, 2}))
	require.NoError(t, cache.New(reg.Table("author"), 0).Set(ctx, "top", []int{1}))
	require.NoError(t, reg.Close())

	assert.Equal(t, "flushed 2 cache entries\n", fx.mustRun("cache", "flush", "book"))
	assert.Equal(t, "flushed 0 cache entries\n", fx.mustRun("cache", "flush", "book"))
	assert.Equal(t, `{"status":"ok","data":{"flushed":1}}`+"\n", fx.mustRun("cache", "flush", "author", "--format", "json"))
}

func TestKV(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, "stored greeting\n", fx.mustRun("kv", "put", "greeting", "bonjour"))
	assert.Equal(t, "stored limits\n", fx.mustRun("kv", "put", "limits", `{"max":3}`, "--ttl", "1h"))
	fx.mustRun("kv", "put", "greeting", "salut", "-n", "other")

	assert.Equal(t, `"bonjour"`+"\n", fx.mustRun("kv", "get", "greeting"))
	assert.Equal(t, `"salut"`+"\n", fx.mustRun("kv", "get", "greeting", "-n", "other"))
	assert.Equal(t, `{"status":"ok","data":{"key":"limits","value":{"max":3}}}`+"\n",
		fx.mustRun("kv", "get", "limits", "--format", "json"))
	assert.Equal(t, "greeting\nlimits\n", fx.mustRun("kv", "keys"))
	assert.Equal(t, "limits\n", fx.mustRun("kv", "keys", "lim%"))

	fx.clock.Advance(2 * time.Hour)
	_, _, err := fx.run("kv", "get", "limits")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Equal(t, "forgot greeting\n", fx.mustRun("kv", "forget", "greeting"))
	out, _, err := fx.run("kv", "forget", "greeting")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E003]")

	assert.Equal(t, `"salut"`+"\n", fx.mustRun("kv", "get", "greeting", "-n", "other"))
	assert.Equal(t, "removed 0 expired entries\n", fx.mustRun("kv", "clean"))
}

func TestConfigErrors(t *testing.T) {
	opts := &RootOptions{getenv: noEnv}
	cmd := newRootCommand(opts)
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "list", "book"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout.String(), "Error [E002]")
}

func TestInMemoryWithoutConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	opts := &RootOptions{getenv: noEnv}
	cmd := newRootCommand(opts)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{"list", "book", "--count", "-v"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "0\n", stdout.String())
	assert.Contains(t, stderr.String(), "No config file")
}

func TestConfigFromEnvironment(t *testing.T) {
	fx := newFixture(t)
	fx.seedLibrary()

	opts := &RootOptions{now: fx.clock.Now, getenv: func(k string) string {
		if k == config.EnvConfig {
			return fx.config
		}
		return ""
	}}
	cmd := newRootCommand(opts)
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetArgs([]string{"list", "author", "--count"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "2\n", stdout.String())
}
