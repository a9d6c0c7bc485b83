package linkstate

import (
	"context"
	"time"
)

// RecoveryStore persists retained link records.
//
// Implementations must be safe for concurrent use. Put replaces any record
// with the same key. Get returns a NotFound error for missing keys.
type RecoveryStore interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, key Key) (*Record, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context) ([]*Record, error)

	// PurgeBefore removes records detached before cutoff and returns how
	// many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Take loads and deletes a record. Reattach consumes the retained state.
func Take(ctx context.Context, s RecoveryStore, key Key) (*Record, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, key); err != nil {
		return nil, err
	}
	return rec, nil
}
