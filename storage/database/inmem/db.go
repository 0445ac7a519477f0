package inmemdb

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var errClosed = errors.New("store closed")

type (
	table map[string]core.Document // {id: doc}

	// Store is an in-memory core.Store. Batches are applied with copy-and-swap under one lock,
	// and subscribers are called synchronously once the lock is released.
	Store struct {
		mu     sync.RWMutex
		tables map[string]table
		hook   func(writes []core.Write) error
		closed bool

		subsMu  sync.Mutex
		subs    map[string]map[int]func(core.Change)
		nextSub int
	}
)

var _ core.Store = (*Store)(nil) // interface compliance check

func Open() *Store {
	return &Store{
		tables: make(map[string]table),
		subs:   make(map[string]map[int]func(core.Change)),
	}
}

// SetBatchHook installs fn to run before every batch is applied; a non-nil error rejects the whole batch.
func (s *Store) SetBatchHook(fn func(writes []core.Write) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Reset drops every document.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]table)
}

func (s *Store) Read(_ context.Context, collection, id string) (core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	doc, ok := s.tables[collection][id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return withID(doc, id), nil
}

func (s *Store) Query(_ context.Context, collection string, filters ...core.Filter) ([]core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}

	normalized := make([]core.Filter, 0, len(filters))
	for _, f := range filters {
		normalized = append(normalized, core.Filter{Field: f.Field, Value: core.NormalizeValue(f.Value)})
	}

	ids := make([]string, 0, len(s.tables[collection]))
	for id, doc := range s.tables[collection] {
		if matches(doc, normalized) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	docs := make([]core.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, withID(s.tables[collection][id], id))
	}
	return docs, nil
}

func (s *Store) WriteBatch(_ context.Context, writes ...core.Write) error {
	if len(writes) == 0 {
		return nil
	}

	changes, err := s.apply(writes)
	if err != nil {
		return err
	}
	s.notify(changes)
	return nil
}

func (s *Store) apply(writes []core.Write) ([]core.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	if s.hook != nil {
		if err := s.hook(writes); err != nil {
			return nil, errors.Wrap(err, "applying batch")
		}
	}

	// stage into copies of the touched tables; swap them in only if every write succeeds
	staged := make(map[string]table)
	stagedTable := func(collection string) table {
		if t, ok := staged[collection]; ok {
			return t
		}
		t := make(table, len(s.tables[collection]))
		for id, doc := range s.tables[collection] {
			t[id] = doc
		}
		staged[collection] = t
		return t
	}

	changes := make([]core.Change, 0, len(writes))
	for _, w := range writes {
		if w.Collection == "" || w.ID == "" {
			return nil, errors.Errorf("invalid %s write: collection and id are required", w.Op)
		}
		t := stagedTable(w.Collection)
		existing, exists := t[w.ID]

		switch w.Op {
		case core.OpDelete:
			delete(t, w.ID)
			changes = append(changes, core.Change{Collection: w.Collection, ID: w.ID, Deleted: true})
			continue
		case core.OpUpdate:
			if !exists {
				return nil, errors.Wrapf(core.ErrNotFound, "%s/%s", w.Collection, w.ID)
			}
		case core.OpSet:
		default:
			return nil, errors.Errorf("unknown write op %d", w.Op)
		}

		fields, err := core.EncodeDocument(w.Fields)
		if err != nil {
			return nil, err
		}
		merged := make(core.Document, len(existing)+len(fields))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range fields {
			if k == "id" {
				continue
			}
			merged[k] = v
		}
		t[w.ID] = merged
		changes = append(changes, core.Change{Collection: w.Collection, ID: w.ID})
	}

	for collection, t := range staged {
		s.tables[collection] = t
	}
	return changes, nil
}

func (s *Store) Subscribe(collection string, onChange func(core.Change)) (core.Unsubscribe, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if _, ok := s.subs[collection]; !ok {
		s.subs[collection] = make(map[int]func(core.Change))
	}
	s.nextSub++
	id := s.nextSub
	s.subs[collection][id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs[collection], id)
		})
	}, nil
}

func (s *Store) notify(changes []core.Change) {
	for _, ch := range changes {
		s.subsMu.Lock()
		ids := make([]int, 0, len(s.subs[ch.Collection]))
		for id := range s.subs[ch.Collection] {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		fns := make([]func(core.Change), 0, len(ids))
		for _, id := range ids {
			fns = append(fns, s.subs[ch.Collection][id])
		}
		s.subsMu.Unlock()

		for _, fn := range fns {
			fn(ch)
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.subsMu.Lock()
	s.subs = make(map[string]map[int]func(core.Change))
	s.subsMu.Unlock()
	return nil
}

func matches(doc core.Document, filters []core.Filter) bool {
	for _, f := range filters {
		if !reflect.DeepEqual(doc[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func withID(doc core.Document, id string) core.Document {
	out := make(core.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return out
}
