// Package memstore is an in-process docstore driver. Documents are deep
// copied on the way in and out so callers never share state with the store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/platform/docstore"
)

type index struct {
	name   string
	keys   bson.D
	unique bool
	sparse bool
}

type collection struct {
	docs    []docstore.Doc
	indexes []index
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

var _ docstore.Driver = (*Store)(nil)

// coll returns the named collection, creating it. Callers hold the write lock.
func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

// lookup returns the named collection without creating it, so it is safe
// under the read lock. A missing collection reads as empty.
func (s *Store) lookup(name string) *collection {
	if c, ok := s.collections[name]; ok {
		return c
	}
	return &collection{}
}

// matching returns the positions of matching documents, ordered by the sort
// spec when one is given.
func (s *Store) matching(c *collection, filter bson.M, order bson.D) ([]int, error) {
	var idx []int
	for i, d := range c.docs {
		ok, err := docstore.Matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	if len(order) > 0 {
		sort.SliceStable(idx, func(a, b int) bool {
			return docstore.Less(c.docs[idx[a]], c.docs[idx[b]], order)
		})
	}
	return idx, nil
}

func (s *Store) FindOne(ctx context.Context, coll string, filter bson.M, opts docstore.FindOptions) (docstore.Doc, error) {
	opts.Limit = 1
	docs, err := s.Find(ctx, coll, filter, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *Store) Find(_ context.Context, coll string, filter bson.M, opts docstore.FindOptions) ([]docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.lookup(coll)
	out := make([]docstore.Doc, 0)
	for _, d := range c.docs {
		ok, err := docstore.Matches(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyDoc(d))
		}
	}
	docstore.SortDocs(out, opts.Sort)
	out = docstore.Window(out, opts.Skip, opts.Limit)
	for i := range out {
		out[i] = docstore.Project(out[i], opts.Projection)
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, coll string, doc docstore.Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	d := copyDoc(doc)
	if err := c.checkUnique(d, -1); err != nil {
		return err
	}
	c.docs = append(c.docs, d)
	return nil
}

func (s *Store) Update(_ context.Context, coll string, filter, update bson.M, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	idx, err := s.matching(c, filter, nil)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	if len(idx) == 0 {
		if !opts.Upsert {
			return docstore.UpdateResult{}, nil
		}
		d, err := c.upsert(filter, update)
		if err != nil {
			return docstore.UpdateResult{}, err
		}
		return docstore.UpdateResult{UpsertedID: d[docstore.IDField]}, nil
	}
	if !opts.Multi {
		idx = idx[:1]
	}
	res := docstore.UpdateResult{Matched: int64(len(idx))}
	for _, i := range idx {
		changed, err := c.apply(i, update)
		if err != nil {
			return res, err
		}
		if changed {
			res.Modified++
		}
	}
	return res, nil
}

func (s *Store) FindAndModify(_ context.Context, coll string, filter bson.M, order bson.D, update bson.M, opts docstore.ModifyOptions) (docstore.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	idx, err := s.matching(c, filter, order)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		if !opts.Upsert {
			return nil, nil
		}
		d, err := c.upsert(filter, update)
		if err != nil {
			return nil, err
		}
		if !opts.ReturnNew {
			return nil, nil
		}
		return copyDoc(d), nil
	}
	i := idx[0]
	before := copyDoc(c.docs[i])
	if _, err := c.apply(i, update); err != nil {
		return nil, err
	}
	if opts.ReturnNew {
		return copyDoc(c.docs[i]), nil
	}
	return before, nil
}

func (s *Store) FindAndRemove(_ context.Context, coll string, filter bson.M, order bson.D) (docstore.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	idx, err := s.matching(c, filter, order)
	if err != nil || len(idx) == 0 {
		return nil, err
	}
	i := idx[0]
	removed := copyDoc(c.docs[i])
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	return removed, nil
}

func (s *Store) Remove(_ context.Context, coll string, filter bson.M, opts docstore.RemoveOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	idx, err := s.matching(c, filter, nil)
	if err != nil {
		return 0, err
	}
	if opts.Single && len(idx) > 1 {
		idx = idx[:1]
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := c.docs[:0]
	for i, d := range c.docs {
		if !drop[i] {
			kept = append(kept, d)
		}
	}
	c.docs = kept
	return int64(len(idx)), nil
}

func (s *Store) Count(_ context.Context, coll string, filter bson.M) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.matching(s.lookup(coll), filter, nil)
	return int64(len(idx)), err
}

func (s *Store) CreateIndex(_ context.Context, coll string, keys bson.D, opts docstore.IndexOptions) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("index needs at least one key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	name := opts.Name
	if name == "" {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s_%v", k.Key, k.Value))
		}
		name = strings.Join(parts, "_")
	}
	for _, ix := range c.indexes {
		if ix.name == name {
			return name, nil
		}
	}
	ix := index{name: name, keys: keys, unique: opts.Unique, sparse: opts.Sparse}
	if ix.unique {
		for i := range c.docs {
			if err := c.checkIndex(ix, c.docs[i], i); err != nil {
				return "", err
			}
		}
	}
	c.indexes = append(c.indexes, ix)
	return name, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

func (c *collection) apply(i int, update bson.M) (bool, error) {
	next, err := docstore.ApplyUpdate(c.docs[i], update)
	if err != nil {
		return false, err
	}
	if err := c.checkUnique(next, i); err != nil {
		return false, err
	}
	changed := !docstore.ValuesEqual(c.docs[i], next)
	c.docs[i] = next
	return changed, nil
}

func (c *collection) upsert(filter, update bson.M) (docstore.Doc, error) {
	d, err := docstore.ApplyUpdate(docstore.UpsertSeed(filter), update)
	if err != nil {
		return nil, err
	}
	if _, ok := d[docstore.IDField]; !ok {
		d[docstore.IDField] = primitive.NewObjectID()
	}
	if err := c.checkUnique(d, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, d)
	return d, nil
}

func (c *collection) checkUnique(d docstore.Doc, self int) error {
	for _, ix := range c.indexes {
		if !ix.unique {
			continue
		}
		if err := c.checkIndex(ix, d, self); err != nil {
			return err
		}
	}
	if id, ok := d[docstore.IDField]; ok {
		for i, other := range c.docs {
			if i != self && docstore.ValuesEqual(other[docstore.IDField], id) {
				return &DuplicateKeyError{Index: "_id_", Key: fmt.Sprint(id)}
			}
		}
	}
	return nil
}

func (c *collection) checkIndex(ix index, d docstore.Doc, self int) error {
	key, present := indexKey(ix, d)
	if !present && ix.sparse {
		return nil
	}
	for i, other := range c.docs {
		if i == self {
			continue
		}
		otherKey, otherPresent := indexKey(ix, other)
		if !otherPresent && ix.sparse {
			continue
		}
		if docstore.ValuesEqual(key, otherKey) {
			return &DuplicateKeyError{Index: ix.name, Key: fmt.Sprint(key)}
		}
	}
	return nil
}

func indexKey(ix index, d docstore.Doc) (bson.A, bool) {
	key := make(bson.A, 0, len(ix.keys))
	present := false
	for _, k := range ix.keys {
		v, ok := docstore.GetPath(d, k.Key)
		if ok {
			present = true
		}
		key = append(key, v)
	}
	return key, present
}

func copyDoc(d docstore.Doc) docstore.Doc {
	out, _ := docstore.CloneValue(d).(docstore.Doc)
	return out
}

// DuplicateKeyError mirrors the store's unique index violation.
type DuplicateKeyError struct {
	Index string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key error: index %s dup key %s", e.Index, e.Key)
}
