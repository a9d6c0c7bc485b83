// Package memory provides an in-process RecoveryStore. Retained state is
// lost on restart; suitable for tests and brokers whose termini are not
// durable.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittomq/pkg/linkstate"
)

// Store is a map-backed RecoveryStore.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[linkstate.Key]*linkstate.Record
	closed  bool
}

var _ linkstate.RecoveryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[linkstate.Key]*linkstate.Record)}
}

func (s *Store) Put(ctx context.Context, rec *linkstate.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := linkstate.Validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return linkstate.NewClosedError()
	}
	s.records[rec.Key()] = rec.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, key linkstate.Key) (*linkstate.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, linkstate.NewClosedError()
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, linkstate.NewNotFoundError(key)
	}
	return rec.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, key linkstate.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return linkstate.NewClosedError()
	}
	delete(s.records, key)
	return nil
}

// List returns all records ordered by key.
func (s *Store) List(ctx context.Context) ([]*linkstate.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, linkstate.NewClosedError()
	}
	out := make([]*linkstate.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b *linkstate.Record) int {
		return strings.Compare(a.Key().String(), b.Key().String())
	})
	return out, nil
}

func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, linkstate.NewClosedError()
	}
	n := 0
	for key, rec := range s.records {
		if rec.DetachedAt.Before(cutoff) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Close drops all records. Later calls fail with a Closed error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}
