// Package memory provides an in-memory entity store for tests. The binaries
// use the postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/activism/internal/core"
)

var _ core.EntityStore = (*Store)(nil)

type key struct {
	typ string
	id  string
}

// Store keeps entities in a map, remembering creation order for queries.
// Entities are copied on the way in and out.
type Store struct {
	mu    sync.RWMutex
	data  map[key]*core.Entity
	order []key
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[key]*core.Entity)}
}

// Load implements core.EntityStore.
func (s *Store) Load(_ context.Context, typ, id string) (*core.Entity, error) {
	s.mu.RLock()
	e, ok := s.data[key{typ, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", typ, id, core.ErrNotFound)
	}
	return e.Clone(), nil
}

// Save implements core.EntityStore.
func (s *Store) Save(ctx context.Context, e *core.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Type == "" {
		return fmt.Errorf("save: entity without type: %w", core.ErrInvalidEntity)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	k := key{e.Type, e.ID}
	s.mu.Lock()
	if _, exists := s.data[k]; !exists {
		s.order = append(s.order, k)
	}
	s.data[k] = e.Clone()
	s.mu.Unlock()
	return nil
}

// Query implements core.EntityStore.
func (s *Store) Query(ctx context.Context, q core.Query) ([]*core.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Entity
	for _, k := range s.order {
		e := s.data[k]
		if !q.Matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Delete removes an entity. Missing entities are ignored.
func (s *Store) Delete(_ context.Context, typ, id string) error {
	k := key{typ, id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[k]; !ok {
		return nil
	}
	delete(s.data, k)
	for i, cur := range s.order {
		if cur == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of stored entities of a type.
func (s *Store) Count(typ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.data {
		if k.typ == typ {
			n++
		}
	}
	return n
}
