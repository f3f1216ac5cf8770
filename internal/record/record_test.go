package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/testutil"
)

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	authors := reg.Table("author")

	a := mustCreate(t, authors, map[string]any{"name": "Victor Hugo"})
	b := mustCreate(t, authors, map[string]any{"name": "Emile Zola"})

	assert.Equal(t, int64(1), a.ID())
	assert.Equal(t, int64(2), b.ID())
	assert.Equal(t, attr.Int(testutil.Epoch.Unix()), a.Attr(FieldCreatedAt))
	assert.Equal(t, attr.Int(testutil.Epoch.Unix()), a.Attr(FieldUpdatedAt))
	assert.False(t, a.IsDirty())

	last, err := authors.LastInsertID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	saved := mustCreate(t, reg.Table("book"), map[string]any{
		"title":  "Les Misérables",
		"pages":  1463,
		"rating": 4.5,
		"tags":   []string{"novel", "france"},
	})

	fresh, err := saved.Fresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	// New applies attributes in key order.
	assert.Equal(t, []string{"pages", "rating", "tags", "title", "id", "created_at", "updated_at"}, fresh.Keys())
	assert.Equal(t, attr.String("Les Misérables"), fresh.Attr("title"))
	assert.Equal(t, attr.Int(1463), fresh.Attr("pages"))
	assert.Equal(t, attr.Float(4.5), fresh.Attr("rating"))
	assert.Equal(t, attr.Array{attr.String("novel"), attr.String("france")}, fresh.Attr("tags"))
	assert.False(t, fresh.IsDirty())
}

func TestSaveTwiceWritesOnce(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")

	rec, err := books.New(map[string]any{"title": "Notre-Dame de Paris"})
	require.NoError(t, err)
	assert.True(t, rec.IsDirty())

	_, err = rec.Save(ctx)
	require.NoError(t, err)
	mark, err := books.Watermark(ctx)
	require.NoError(t, err)
	assert.NotZero(t, mark)

	_, err = rec.Save(ctx)
	require.NoError(t, err)
	again, err := books.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, mark, again, "second save must not write")
	assert.False(t, rec.IsDirty())
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	reg, clock := newTestRegistry(t)
	rec := mustCreate(t, reg.Table("book"), map[string]any{"title": "Hernani"})

	clock.Advance(time.Hour)
	updated, err := rec.Update(ctx, map[string]any{"title": "Hernani (1830)"})
	require.NoError(t, err)

	assert.Equal(t, attr.Int(testutil.Epoch.Unix()), updated.Attr(FieldCreatedAt))
	assert.Equal(t, attr.Int(testutil.Epoch.Add(time.Hour).Unix()), updated.Attr(FieldUpdatedAt))

	fresh, err := rec.Fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hernani (1830)", fresh.Text("title"))
}

func TestWatermarkStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")

	mustCreate(t, books, map[string]any{"title": "a"})
	first, err := books.Watermark(ctx)
	require.NoError(t, err)

	// The clock is frozen; the watermark still moves.
	mustCreate(t, books, map[string]any{"title": "b"})
	second, err := books.Watermark(ctx)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestWriteCoercion(t *testing.T) {
	reg, _ := newTestRegistry(t)
	noon := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name  string
		field string
		value any
		want  attr.Value
	}{
		{"time value", "published_at", time.Unix(noon, 0), attr.Int(noon)},
		{"day first layout", "published_at", "02/01/2024 10:00:00", attr.Int(noon)},
		{"iso layout", "published_at", "2024-01-02 10:00:00", attr.Int(noon)},
		{"rfc3339", "published_at", "2024-01-02T10:00:00Z", attr.Int(noon)},
		{"numeric string", "published_at", "1704189600", attr.Int(noon)},
		{"unparsable date kept", "published_at", "someday", attr.String("someday")},
		{"json object marked", "meta", `{"color":"red"}`, attr.String(`json:{"color":"red"}`)},
		{"json array marked", "meta", `[1,2]`, attr.String(`json:[1,2]`)},
		{"plain string", "title", "hello", attr.String("hello")},
		{"brace but not json", "title", "{oops", attr.String("{oops")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := reg.Table("book").New(nil)
			require.NoError(t, err)
			require.NoError(t, rec.Set(tt.field, tt.value))
			assert.Equal(t, tt.want, rec.Attr(tt.field))
		})
	}
}

func TestReadCoercion(t *testing.T) {
	ctx := context.Background()
	paris := time.FixedZone("CET", 3600)
	reg, _ := newTestRegistry(t, WithLocation(paris))

	rec, err := reg.Table("book").New(map[string]any{
		"meta":         `{"color":"red"}`,
		"published_at": "2024-01-02 10:00:00",
	})
	require.NoError(t, err)

	meta, err := rec.Get(ctx, "meta")
	require.NoError(t, err)
	obj, ok := meta.(*attr.Object)
	require.True(t, ok, "json attribute decodes to an object, got %T", meta)
	color, _ := obj.Get("color")
	assert.Equal(t, attr.String("red"), color)

	published, ok := rec.Time("published_at")
	require.True(t, ok)
	assert.Equal(t, paris, published.Location())
	assert.Equal(t, 10, published.Hour())

	missing, err := rec.Get(ctx, "subtitle")
	require.NoError(t, err)
	assert.Equal(t, attr.Null{}, missing)

	books, err := rec.Get(ctx, "chapters")
	require.NoError(t, err)
	assert.IsType(t, &Collection{}, books)
}

func TestImmutableRecordIgnoresWrites(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")

	rec, err := books.CreateImmutable(ctx, map[string]any{"title": "Les Contemplations"})
	require.NoError(t, err)
	mark, err := books.Watermark(ctx)
	require.NoError(t, err)

	require.NoError(t, rec.Set("title", "changed"))
	assert.Equal(t, "Les Contemplations", rec.Text("title"))

	updated, err := rec.Update(ctx, map[string]any{"title": "changed"})
	require.NoError(t, err)
	assert.Same(t, rec, updated)

	deleted, err := rec.Delete(ctx)
	require.NoError(t, err)
	assert.False(t, deleted)

	soft, err := rec.SoftDelete(ctx)
	require.NoError(t, err)
	assert.False(t, soft)

	dup, err := rec.Duplicate(ctx)
	require.NoError(t, err)
	assert.Same(t, rec, dup)

	n, err := books.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	after, err := books.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, mark, after)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")
	rec := mustCreate(t, books, map[string]any{"title": "Les Misérables"})

	ok, err := rec.Delete(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := books.Find(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, found)

	fresh, err := rec.Fresh(ctx)
	require.NoError(t, err)
	assert.Nil(t, fresh)

	unsaved, err := books.New(map[string]any{"title": "draft"})
	require.NoError(t, err)
	ok, err = unsaved.Delete(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")
	rec := mustCreate(t, books, map[string]any{"title": "Les Misérables"})

	ok, err := rec.SoftDelete(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := books.Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Trashed())

	restored, err := found.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored.Trashed())
	assert.False(t, restored.Has(FieldDeletedAt))
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	reg, clock := newTestRegistry(t)
	rec := mustCreate(t, reg.Table("book"), map[string]any{"title": "Ruy Blas"})

	clock.Advance(time.Minute)
	dup, err := rec.Duplicate(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), dup.ID())
	assert.Equal(t, "Ruy Blas", dup.Text("title"))
	assert.Equal(t, attr.Int(testutil.Epoch.Add(time.Minute).Unix()), dup.Attr(FieldCreatedAt))
}

func TestFillDoesNotDirty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := mustCreate(t, reg.Table("book"), map[string]any{"title": "a"})

	require.NoError(t, rec.Fill(map[string]any{"extra": 1}))
	assert.False(t, rec.IsDirty())
	assert.Equal(t, attr.Int(1), rec.Attr("extra"))

	require.NoError(t, rec.ForceFill(map[string]any{"extra": 2}))
	assert.True(t, rec.IsDirty())
}

func TestOnlyAlwaysKeepsID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := mustCreate(t, reg.Table("book"), map[string]any{"title": "a", "pages": 3})

	only := rec.Only("title")
	assert.Equal(t, []string{"title", "id"}, only.Keys())
	assert.True(t, rec.Is(1))
	assert.True(t, rec.Is("a", "title"))
	assert.False(t, rec.Is(2))
	assert.True(t, rec.IsInstanceOf("book"))
}

func TestFindOrFail(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Table("book").FindOrFail(ctx, 42)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "book 42")
}

func TestHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("event order on insert and update", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		var events []Event
		for _, ev := range []Event{EventSaving, EventSaved, EventCreating, EventCreated, EventUpdating, EventUpdated} {
			reg.On("book", ev, func(context.Context, *Record) error {
				events = append(events, ev)
				return nil
			})
		}

		rec := mustCreate(t, reg.Table("book"), map[string]any{"title": "a"})
		_, err := rec.Update(ctx, map[string]any{"title": "b"})
		require.NoError(t, err)

		assert.Equal(t, []Event{
			EventSaving, EventCreating, EventCreated, EventSaved,
			EventSaving, EventUpdating, EventUpdated, EventSaved,
		}, events)
	})

	t.Run("hook error aborts the save", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		refused := errors.New("refused")
		reg.On("book", EventCreating, func(context.Context, *Record) error { return refused })

		_, err := reg.Table("book").Create(ctx, map[string]any{"title": "a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, refused)

		n, err := reg.Table("book").Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("instance hooks replace defaults", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		var fired []string
		reg.On("book", EventSaving, func(context.Context, *Record) error {
			fired = append(fired, "default")
			return nil
		})

		rec, err := reg.Table("book").New(map[string]any{"title": "a"})
		require.NoError(t, err)
		rec.Observe(EventSaved, func(context.Context, *Record) error {
			fired = append(fired, "instance")
			return nil
		})
		_, err = rec.Save(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{"instance"}, fired)
	})

	t.Run("retrieved fires on load", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		mustCreate(t, reg.Table("book"), map[string]any{"title": "a"})
		loads := 0
		reg.On("book", EventRetrieved, func(context.Context, *Record) error {
			loads++
			return nil
		})

		_, err := reg.Table("book").Find(ctx, 1)
		require.NoError(t, err)
		_, err = reg.Table("book").All(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, loads)
	})
}

func TestTableFactories(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")

	first, err := books.FirstOrCreate(ctx, map[string]any{"isbn": "978-2"}, map[string]any{"title": "a"})
	require.NoError(t, err)
	again, err := books.FirstOrCreate(ctx, map[string]any{"isbn": "978-2"}, map[string]any{"title": "b"})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID())
	assert.Equal(t, "a", again.Text("title"))

	draft, err := books.FirstOrNew(ctx, map[string]any{"isbn": "000"}, nil)
	require.NoError(t, err)
	assert.False(t, draft.Exists())

	upd, err := books.UpdateOrCreate(ctx, map[string]any{"isbn": "978-2"}, map[string]any{"title": "c"})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), upd.ID())
	assert.Equal(t, "c", upd.Text("title"))

	mustCreate(t, books, map[string]any{"title": "d"})
	many, err := books.FindMany(2, 99, 1).All(ctx)
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, int64(2), many[0].ID())
	assert.Equal(t, int64(1), many[1].ID())

	n, err := books.Destroy(ctx, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestColumnsAndDrop(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")

	cols, err := books.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "created_at", "updated_at"}, cols)

	mustCreate(t, books, map[string]any{"title": "a"})
	mustCreate(t, books, map[string]any{"title": "b", "pages": 10})
	cols, err = books.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "id", "created_at", "updated_at", "pages"}, cols)

	has, err := books.HasColumn(ctx, "pages")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, books.Drop(ctx))
	n, err := books.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	last, err := books.LastInsertID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	books := reg.Table("book")
	boom := errors.New("boom")

	err := books.Transaction(ctx, func(ctx context.Context) error {
		if _, err := books.Create(ctx, map[string]any{"title": "a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := books.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportImportJSON(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	mustCreate(t, reg.Table("book"), map[string]any{"title": "a"})
	mustCreate(t, reg.Table("book"), map[string]any{"title": "b"})

	data, err := reg.Table("book").ExportJSON(ctx)
	require.NoError(t, err)

	other, _ := newTestRegistry(t)
	n, err := other.Table("book").ImportJSON(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"a", "b"}, texts(t, other.Table("book").Query(), "title"))

	next := mustCreate(t, other.Table("book"), map[string]any{"title": "c"})
	assert.Equal(t, int64(3), next.ID(), "import raises the id counter")
}

func TestDynamicAccessors(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	authors := reg.Table("author")
	books := reg.Table("book")
	hugo := mustCreate(t, authors, map[string]any{"name": "Victor Hugo", "birth_year": 1802})
	mustCreate(t, books, map[string]any{"title": "Les Misérables", "author_id": hugo.ID()})

	year, err := hugo.Call(ctx, "getBirthYear")
	require.NoError(t, err)
	assert.Equal(t, attr.Int(1802), year)

	_, err = hugo.Call(ctx, "setNickname", "Toto")
	require.NoError(t, err)
	assert.Equal(t, "Toto", hugo.Text("nickname"))

	bks, err := hugo.Call(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, bks.(*Collection)))

	found, err := hugo.Call(ctx, "findByName", "Victor Hugo")
	require.NoError(t, err)
	assert.Equal(t, hugo.ID(), found.(*Record).ID())

	res, err := books.Call(ctx, "whereTitle", "like", "%rables")
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, res.(*Collection)))

	_, err = books.Call(ctx, "explode")
	assert.ErrorIs(t, err, ErrUnknownAccessor)
}
