package storage

import (
	"context"
	"sync"

	"planboard/internal/model"
)

type memStore struct {
	mu     sync.RWMutex
	recs   map[string]model.Record
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{recs: map[string]model.Record{}}
}

func (s *memStore) Get(_ context.Context, id string) (model.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Record{}, false, ErrClosed
	}
	r, ok := s.recs[id]
	return clone(r), ok, nil
}

func (s *memStore) Update(_ context.Context, id string, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.ID = id
	s.recs[id] = clone(rec)
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.recs[id]; !ok {
		return ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func (s *memStore) List(context.Context) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, clone(r))
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
