// Package recordstore is the client-side cache of records, one collection per
// kind, keyed by ID. It does no I/O: the synchronization engine decides what
// goes in and when.
package recordstore

import (
	"sync"

	"agendahub/store"
)

type collection struct {
	loaded bool
	order  []string
	items  map[string]store.Record
}

func newCollection() *collection {
	return &collection{items: make(map[string]store.Record)}
}

func (c *collection) list() []store.Record {
	out := make([]store.Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id].Clone())
	}
	return out
}

func (c *collection) put(rec store.Record) {
	if _, ok := c.items[rec.ID]; !ok {
		c.order = append(c.order, rec.ID)
	}
	c.items[rec.ID] = rec.Clone()
}

func (c *collection) drop(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *collection) reset(recs []store.Record) {
	c.order = c.order[:0]
	c.items = make(map[string]store.Record, len(recs))
	for _, rec := range recs {
		c.put(rec)
	}
}

// Snapshot is a deep copy of one collection, including whether it was loaded.
type Snapshot struct {
	Kind    store.Kind
	Loaded  bool
	Records []store.Record
}

// Store is safe for concurrent use. Operations are applied in call order.
type Store struct {
	mu          sync.RWMutex
	collections map[store.Kind]*collection
}

func New() *Store {
	return &Store{collections: make(map[store.Kind]*collection)}
}

func (s *Store) get(kind store.Kind) *collection {
	c, ok := s.collections[kind]
	if !ok {
		c = newCollection()
		s.collections[kind] = c
	}
	return c
}

// ReplaceAll overwrites the whole collection and marks it loaded. Later
// duplicates of an ID win but keep the position of the first occurrence.
func (s *Store) ReplaceAll(kind store.Kind, recs []store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(kind)
	c.reset(recs)
	c.loaded = true
}

// Upsert inserts rec or overwrites the entry with the same ID.
func (s *Store) Upsert(kind store.Kind, rec store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(kind).put(rec)
}

// Merge applies a record that arrived from a remote producer (push event or
// poll). It is a no-op when the cached entry has the same or a newer
// UpdatedAt, so overlapping producers cannot thrash the cache. It reports
// whether the cache changed.
func (s *Store) Merge(kind store.Kind, rec store.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(kind)
	if cur, ok := c.items[rec.ID]; ok && !rec.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	c.put(rec)
	return true
}

// Remove deletes the entry with id. It reports whether one existed.
func (s *Store) Remove(kind store.Kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(kind).drop(id)
}

// Swap replaces the placeholder stored under tempID with the confirmed record,
// keeping its position.
func (s *Store) Swap(kind store.Kind, tempID string, rec store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(kind)
	if _, ok := c.items[tempID]; !ok {
		c.put(rec)
		return
	}
	delete(c.items, tempID)
	if _, dup := c.items[rec.ID]; dup {
		// A push event for the confirmed record beat the create response.
		for i, v := range c.order {
			if v == tempID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	} else {
		for i, v := range c.order {
			if v == tempID {
				c.order[i] = rec.ID
				break
			}
		}
	}
	c.items[rec.ID] = rec.Clone()
}

func (s *Store) Get(kind store.Kind, id string) (store.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[kind]
	if !ok {
		return store.Record{}, false
	}
	rec, ok := c.items[id]
	if !ok {
		return store.Record{}, false
	}
	return rec.Clone(), true
}

// All returns the collection in insertion order.
func (s *Store) All(kind store.Kind) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[kind]
	if !ok {
		return []store.Record{}
	}
	return c.list()
}

// Loaded reports whether kind has been bulk loaded at least once.
func (s *Store) Loaded(kind store.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[kind]
	return ok && c.loaded
}

// LoadedKinds lists every kind that has been bulk loaded.
func (s *Store) LoadedKinds() []store.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Kind
	for _, k := range store.Kinds {
		if c, ok := s.collections[k]; ok && c.loaded {
			out = append(out, k)
		}
	}
	return out
}

func (s *Store) Snapshot(kind store.Kind) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Kind: kind, Records: []store.Record{}}
	if c, ok := s.collections[kind]; ok {
		snap.Loaded = c.loaded
		snap.Records = c.list()
	}
	return snap
}

// Restore puts the collection back to exactly the captured state.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(snap.Kind)
	c.reset(snap.Records)
	c.loaded = snap.Loaded
}
