// Package memstore is an in-process store.Store. Every document carries a
// version drawn from a store-wide counter; transactions remember the
// versions they read and commit only if none of them moved.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/foxseedlab/circles/internal/store"
)

const defaultMaxAttempts = 8

type entry struct {
	data    store.Fields
	version int64
}

type Store struct {
	mu          sync.Mutex
	docs        map[string]*entry
	nextVersion int64
	maxAttempts int
}

func New() *Store {
	return &Store{
		docs:        make(map[string]*entry),
		maxAttempts: defaultMaxAttempts,
	}
}

func (s *Store) Get(_ context.Context, path string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return nil, nil
	}
	return &store.Document{Path: path, Data: e.data.Clone(), Version: e.version}, nil
}

func (s *Store) Set(_ context.Context, path string, fields store.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(path, fields.Clone())
	return nil
}

func (s *Store) Update(_ context.Context, path string, fields store.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return fmt.Errorf("update %s: %w", path, store.ErrNotFound)
	}
	s.putLocked(path, merge(e.data, fields))
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	return nil
}

func (s *Store) Increment(_ context.Context, path, field string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return fmt.Errorf("increment %s: %w", path, store.ErrNotFound)
	}
	s.putLocked(path, incremented(e.data, field, delta))
	return nil
}

func (s *Store) BatchDelete(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.docs, p)
	}
	return nil
}

func (s *Store) Query(_ context.Context, q store.Query) ([]store.Document, error) {
	s.mu.Lock()
	var docs []store.Document
	for path, e := range s.docs {
		if store.Collection(path) != q.Collection || !matches(e.data, q.Filters) {
			continue
		}
		docs = append(docs, store.Document{Path: path, Data: e.data.Clone(), Version: e.version})
	}
	s.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool {
		return less(docs[i], docs[j], q.OrderBy)
	})
	if q.StartAfter != nil {
		pivot := store.Document{
			Path: store.Join(q.Collection, q.StartAfter.ID),
			Data: store.Fields{q.OrderBy: q.StartAfter.Value},
		}
		idx := sort.Search(len(docs), func(i int) bool {
			return less(pivot, docs[i], q.OrderBy)
		})
		docs = docs[idx:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tx{store: s, reads: map[string]int64{}, writes: map[string]*pending{}}
		if err := fn(t); err != nil {
			return err
		}
		if s.commit(t) {
			return nil
		}
	}
	return store.ErrTxConflict
}

func (s *Store) putLocked(path string, data store.Fields) {
	s.nextVersion++
	s.docs[path] = &entry{data: data, version: s.nextVersion}
}

func (s *Store) commit(t *tx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, seen := range t.reads {
		var current int64
		if e, ok := s.docs[path]; ok {
			current = e.version
		}
		if current != seen {
			return false
		}
	}
	for _, path := range t.order {
		w := t.writes[path]
		if w.deleted {
			delete(s.docs, path)
			continue
		}
		s.putLocked(path, w.data)
	}
	return true
}

type pending struct {
	data    store.Fields
	deleted bool
}

type tx struct {
	store  *Store
	reads  map[string]int64
	writes map[string]*pending
	order  []string
}

func (t *tx) Get(path string) (*store.Document, error) {
	if w, ok := t.writes[path]; ok {
		if w.deleted {
			return nil, nil
		}
		return &store.Document{Path: path, Data: w.data.Clone()}, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	e, ok := t.store.docs[path]
	if !ok {
		if _, seen := t.reads[path]; !seen {
			t.reads[path] = 0
		}
		return nil, nil
	}
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = e.version
	}
	return &store.Document{Path: path, Data: e.data.Clone(), Version: e.version}, nil
}

func (t *tx) Set(path string, fields store.Fields) error {
	t.write(path, &pending{data: fields.Clone()})
	return nil
}

func (t *tx) Update(path string, fields store.Fields) error {
	doc, err := t.Get(path)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("update %s: %w", path, store.ErrNotFound)
	}
	t.write(path, &pending{data: merge(doc.Data, fields)})
	return nil
}

func (t *tx) Delete(path string) error {
	t.write(path, &pending{deleted: true})
	return nil
}

func (t *tx) Increment(path, field string, delta int64) error {
	doc, err := t.Get(path)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("increment %s: %w", path, store.ErrNotFound)
	}
	t.write(path, &pending{data: incremented(doc.Data, field, delta)})
	return nil
}

func (t *tx) write(path string, p *pending) {
	if _, ok := t.writes[path]; !ok {
		t.order = append(t.order, path)
	}
	t.writes[path] = p
}

func merge(base, patch store.Fields) store.Fields {
	out := base.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func incremented(base store.Fields, field string, delta int64) store.Fields {
	out := base.Clone()
	current, _ := store.ToInt64(out[field])
	out[field] = current + delta
	return out
}

func matches(data store.Fields, filters []store.Filter) bool {
	for _, f := range filters {
		if !equal(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	af, aNum := store.ToFloat64(a)
	bf, bNum := store.ToFloat64(b)
	if aNum && bNum {
		return af == bf
	}
	return a == b
}

func less(a, b store.Document, orderBy string) bool {
	if orderBy != "" {
		av, _ := store.ToFloat64(a.Data[orderBy])
		bv, _ := store.ToFloat64(b.Data[orderBy])
		if av != bv {
			return av < bv
		}
	}
	return a.ID() < b.ID()
}
