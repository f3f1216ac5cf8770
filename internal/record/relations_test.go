package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPivotTable(t *testing.T) {
	assert.Equal(t, "author_book", PivotTable("book", "author"))
	assert.Equal(t, "author_book", PivotTable("author", "book"))
	assert.Equal(t, "book_id", ForeignKey("book"))
}

func TestBelongsToAndHasMany(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	authors, books := reg.Table("author"), reg.Table("book")

	hugo := mustCreate(t, authors, map[string]any{"name": "Victor Hugo"})
	zola := mustCreate(t, authors, map[string]any{"name": "Émile Zola"})
	book := mustCreate(t, books, map[string]any{"title": "Les Misérables", "author_id": hugo.ID()})
	mustCreate(t, books, map[string]any{"title": "Notre-Dame de Paris", "author_id": hugo.ID()})

	owner, err := book.BelongsTo(ctx, "author")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "Victor Hugo", owner.Text("name"))

	assert.Equal(t, []string{"Les Misérables", "Notre-Dame de Paris"}, texts(t, hugo.HasMany("book"), "title"))
	assert.Equal(t, 0, count(t, zola.HasMany("book")))

	first, err := hugo.HasOne(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, book.ID(), first.ID())

	// Reassignment moves the book between authors.
	book, err = book.Update(ctx, map[string]any{"author_id": zola.ID()})
	require.NoError(t, err)
	owner, err = book.BelongsTo(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "Émile Zola", owner.Text("name"))
	assert.Equal(t, 1, count(t, hugo.HasMany("book")))
	assert.Equal(t, 1, count(t, zola.HasMany("book")))

	orphan := mustCreate(t, books, map[string]any{"title": "Anonymous", "author_id": nil})
	none, err := orphan.BelongsTo(ctx, "author")
	require.NoError(t, err)
	assert.Nil(t, none)

	custom := mustCreate(t, books, map[string]any{"title": "Edited", "editor": zola.ID()})
	editor, err := custom.BelongsTo(ctx, "author", WithForeignKey("editor"))
	require.NoError(t, err)
	assert.Equal(t, zola.ID(), editor.ID())
}

func TestAttachDetachSync(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	book := mustCreate(t, reg.Table("book"), map[string]any{"title": "Les Misérables"})
	tag := mustCreate(t, reg.Table("tag"), map[string]any{"name": "classic"})

	ok, err := book.Attach(ctx, tag, map[string]any{"weight": 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = book.Attach(ctx, tag, nil)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate links are not written")

	links, err := reg.Table("book_tag").All(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "3", links[0].Text("weight"))

	// Both sides resolve through the same pivot.
	assert.Equal(t, []string{"classic"}, texts(t, book.BelongsToMany("tag"), "name"))
	assert.Equal(t, []string{"Les Misérables"}, texts(t, tag.BelongsToMany("book"), "title"))

	ok, err = book.Detach(ctx, tag)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = book.Detach(ctx, tag)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, count(t, book.BelongsToMany("tag")))

	require.NoError(t, book.Sync(ctx, tag, nil))
	assert.Equal(t, 1, count(t, book.BelongsToMany("tag")))
	require.NoError(t, book.Sync(ctx, tag, nil))
	assert.Equal(t, 0, count(t, book.BelongsToMany("tag")))
}

func TestPluralAssignmentSyncsPivotOnSave(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	tags := reg.Table("tag")
	classic := mustCreate(t, tags, map[string]any{"name": "classic"})
	french := mustCreate(t, tags, map[string]any{"name": "french"})
	poetry := mustCreate(t, tags, map[string]any{"name": "poetry"})

	book, err := reg.Table("book").New(map[string]any{"title": "Les Misérables"})
	require.NoError(t, err)
	require.NoError(t, book.Set("tags", []*Record{classic, french}))
	assert.False(t, book.Has("tags"), "relations are not stored as attributes")

	book, err = book.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"classic", "french"}, texts(t, book.BelongsToMany("tag"), "name"))

	// A clean record with a pending assignment is still dirty.
	require.NoError(t, book.Set("tags", tags.Where("name", "poetry")))
	assert.True(t, book.IsDirty())
	book, err = book.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"poetry"}, texts(t, book.BelongsToMany("tag"), "name"))
	assert.False(t, book.IsDirty())

	require.NoError(t, book.Set("tags", (*Record)(nil)))
	_, err = book.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count(t, book.BelongsToMany("tag")))
	assert.Equal(t, 0, count(t, poetry.BelongsToMany("book")))
}

func TestHasManyThrough(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	author := mustCreate(t, reg.Table("author"), map[string]any{"name": "Victor Hugo"})
	prize := mustCreate(t, reg.Table("prize"), map[string]any{"name": "Académie française"})
	mustCreate(t, reg.Table("award"), map[string]any{"author_id": author.ID(), "prize_id": prize.ID(), "year": 1841})

	assert.Equal(t, []string{"Académie française"}, texts(t, author.HasManyThrough("prize", "award"), "name"))

	one, err := author.HasOneThrough(ctx, "prize", "award")
	require.NoError(t, err)
	assert.Equal(t, prize.ID(), one.ID())

	keyed := author.BelongsToMany("prize", WithPivot("award"), WithPivotKeys("author_id", "prize_id"))
	assert.Equal(t, 1, count(t, keyed))
}

func TestMorphMany(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	book := mustCreate(t, reg.Table("book"), map[string]any{"title": "Les Misérables"})
	author := mustCreate(t, reg.Table("author"), map[string]any{"name": "Victor Hugo"})
	comments := reg.Table("comment")
	mustCreate(t, comments, map[string]any{"body": "great", "commentable_type": "book", "commentable_id": book.ID()})
	mustCreate(t, comments, map[string]any{"body": "long", "commentable_type": "book", "commentable_id": book.ID()})
	mustCreate(t, comments, map[string]any{"body": "prolific", "commentable_type": "author", "commentable_id": author.ID()})

	assert.Equal(t, []string{"great", "long"}, texts(t, book.MorphMany("comment"), "body"))
	assert.Equal(t, []string{"prolific"}, texts(t, author.MorphToMany("comment"), "body"))

	one, err := author.MorphOne(ctx, "comment")
	require.NoError(t, err)
	assert.Equal(t, "prolific", one.Text("body"))

	to, err := book.MorphTo(ctx, "comment")
	require.NoError(t, err)
	assert.Equal(t, "great", to.Text("body"))

	notes := reg.Table("note")
	mustCreate(t, notes, map[string]any{"text": "n", "kind": "book", "target": book.ID()})
	assert.Equal(t, 1, count(t, book.MorphedByMany("note", WithMorphColumns("kind", "target"))))
}

func TestRelationResolution(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	author := mustCreate(t, reg.Table("author"), map[string]any{"name": "Victor Hugo"})
	book := mustCreate(t, reg.Table("book"), map[string]any{"title": "Les Misérables", "author_id": author.ID()})
	tag := mustCreate(t, reg.Table("tag"), map[string]any{"name": "classic"})
	_, err := book.Attach(ctx, tag, nil)
	require.NoError(t, err)

	rel, err := author.Relation(ctx, "books")
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, rel.(*Collection)))

	rel, err = book.Relation(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, author.ID(), rel.(*Record).ID())

	_, err = book.Relation(ctx, "publisher")
	assert.ErrorIs(t, err, ErrUnknownRelation)

	reg.DefineRelation("book", "labels", func(_ context.Context, r *Record) (any, error) {
		return r.BelongsToMany("tag"), nil
	})
	rel, err = book.Relation(ctx, "labels")
	require.NoError(t, err)
	assert.Equal(t, []string{"classic"}, texts(t, rel.(*Collection), "name"))

	ok, err := author.Includes(ctx, "books", book.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = author.Includes(ctx, "books", 99)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = book.Includes(ctx, "author", author.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := book.Get(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, author.ID(), got.(*Record).ID())
}

func TestWhereHas(t *testing.T) {
	reg, _ := newTestRegistry(t)
	authors, books := reg.Table("author"), reg.Table("book")
	hugo := mustCreate(t, authors, map[string]any{"name": "Victor Hugo"})
	mustCreate(t, authors, map[string]any{"name": "Unpublished"})
	zola := mustCreate(t, authors, map[string]any{"name": "Émile Zola"})
	mustCreate(t, books, map[string]any{"title": "Les Misérables", "pages": 1463, "author_id": hugo.ID()})
	mustCreate(t, books, map[string]any{"title": "Thérèse Raquin", "pages": 300, "author_id": zola.ID()})

	assert.Equal(t, []string{"Victor Hugo", "Émile Zola"}, texts(t, authors.Has("books"), "name"))
	assert.Equal(t, []string{"Unpublished"}, texts(t, authors.DoesntHave("books"), "name"))

	long := func(c *Collection) *Collection { return c.Where("pages", ">", 1000) }
	assert.Equal(t, []string{"Victor Hugo"}, texts(t, authors.Query().WhereHas("books", long), "name"))
	assert.Equal(t, []string{"Unpublished", "Émile Zola"}, texts(t, authors.Query().WhereDoesntHave("books", long), "name"))
	assert.Equal(t, []string{"Victor Hugo"}, texts(t, authors.Query().WhereRelated("books", long), "name"))

	// Belongs-to relations count as one or zero.
	assert.Equal(t, []string{"Les Misérables"}, texts(t, books.Query().WhereHas("author", func(c *Collection) *Collection {
		return c.Where("name", "Victor Hugo")
	}), "title"))
}

func TestWithStashesRelations(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	author := mustCreate(t, reg.Table("author"), map[string]any{"name": "Victor Hugo"})
	books := reg.Table("book")
	mustCreate(t, books, map[string]any{"title": "Les Misérables", "author_id": author.ID()})
	mustCreate(t, books, map[string]any{"title": "Notre-Dame de Paris", "author_id": author.ID()})

	recs, err := books.Query().With("author.books").All(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	owner, ok := recs[0].Related("author").(*Record)
	require.True(t, ok)
	assert.Equal(t, "Victor Hugo", owner.Text("name"))

	siblings, ok := recs[0].Related("author.books").([]*Record)
	require.True(t, ok)
	assert.Len(t, siblings, 2)

	authors, err := reg.Table("author").Query().Deep("books").All(ctx)
	require.NoError(t, err)
	assert.Len(t, authors[0].Related("books"), 2)

	_, err = books.Query().With("publisher").All(ctx)
	assert.ErrorIs(t, err, ErrUnknownRelation)
}
