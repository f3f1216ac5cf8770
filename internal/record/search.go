package record

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/roach88/kvsql/internal/attr"
	"github.com/roach88/kvsql/internal/inflect"
)

// SearchIndex is the full-text search collaborator. Documents are plain
// attribute maps carrying an "id".
type SearchIndex interface {
	AddDocuments(ctx context.Context, index string, docs ...map[string]any) error
	DeleteDocument(ctx context.Context, index string, id int64) error

	// Search returns the ids of matching documents, best match first.
	Search(ctx context.Context, index, query string) ([]int64, error)
}

// IndexName returns the search index of table.
func IndexName(table string) string {
	return "kvsqlindex_" + inflect.Pluralize(inflect.Snake(table))
}

// IndexData returns the document indexed for the record: the
// SetIndexData override when set, else the attributes without
// created_at and updated_at.
func (r *Record) IndexData() map[string]any {
	if r.indexData != nil {
		doc := r.indexData(r)
		if _, ok := doc[FieldID]; doc != nil && !ok {
			doc[FieldID] = r.ID()
		}
		return doc
	}
	doc := r.ToMap()
	delete(doc, FieldCreatedAt)
	delete(doc, FieldUpdatedAt)
	return doc
}

// Index adds the record to its table's search index. Records without an
// id are skipped.
func (r *Record) Index(ctx context.Context) error {
	if !r.Exists() {
		return nil
	}
	idx := r.reg.search
	if idx == nil {
		return ErrNoSearchIndex
	}
	if err := idx.AddDocuments(ctx, IndexName(r.table), r.IndexData()); err != nil {
		return fmt.Errorf("index %s: %w", r, err)
	}
	return nil
}

// Unindex removes the record from its table's search index.
func (r *Record) Unindex(ctx context.Context) error {
	idx := r.reg.search
	if idx == nil {
		return ErrNoSearchIndex
	}
	if err := idx.DeleteDocument(ctx, IndexName(r.table), r.ID()); err != nil {
		return fmt.Errorf("unindex %s: %w", r, err)
	}
	return nil
}

// IndexSearch runs query against the table's search index and returns the
// hits, in rank order, narrowed by the field = value conditions.
func (t *Table) IndexSearch(ctx context.Context, query string, conditions map[string]any) (*Collection, error) {
	idx := t.reg.search
	if idx == nil {
		return nil, ErrNoSearchIndex
	}
	ids, err := idx.Search(ctx, IndexName(t.name), query)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", t.name, err)
	}
	hits := make([]any, len(ids))
	for i, id := range ids {
		hits[i] = id
	}
	c := t.FindMany(hits...)
	for _, k := range sortedKeys(conditions) {
		c = c.Where(k, conditions[k])
	}
	return c, nil
}

// MemoryIndex is an in-process SearchIndex ranking documents by fuzzy
// match distance. It suits tests and small tables.
type MemoryIndex struct {
	mu      sync.RWMutex
	indexes map[string]map[int64]map[string]any
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indexes: make(map[string]map[int64]map[string]any)}
}

// AddDocuments stores or replaces documents by id. Documents without an
// integer id are rejected.
func (m *MemoryIndex) AddDocuments(_ context.Context, index string, docs ...map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexes[index] == nil {
		m.indexes[index] = make(map[int64]map[string]any)
	}
	for _, doc := range docs {
		id, ok := idOf(doc[FieldID])
		if !ok {
			return fmt.Errorf("document without id in %s", index)
		}
		m.indexes[index][id] = doc
	}
	return nil
}

// DeleteDocument removes a document. Missing documents are ignored.
func (m *MemoryIndex) DeleteDocument(_ context.Context, index string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes[index], id)
	return nil
}

// Search ranks documents whose values fuzzily contain query, closest
// first, ties by id.
func (m *MemoryIndex) Search(_ context.Context, index, query string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		id   int64
		rank int
	}
	var hits []hit
	for id, doc := range m.indexes[index] {
		best := -1
		for k, v := range doc {
			if k == FieldID {
				continue
			}
			av, err := attr.From(v)
			if err != nil {
				continue
			}
			text := attr.Text(decodeMarked(av))
			rank := fuzzy.RankMatchFold(query, text)
			if rank >= 0 && (best < 0 || rank < best) {
				best = rank
			}
		}
		if best >= 0 {
			hits = append(hits, hit{id: id, rank: best})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		return cmp.Or(cmp.Compare(a.rank, b.rank), cmp.Compare(a.id, b.id))
	})

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}
