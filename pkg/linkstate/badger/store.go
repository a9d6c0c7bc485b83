// Package badger provides a RecoveryStore backed by BadgerDB, for brokers
// whose link termini must survive a restart.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// Key layout:
//
//	ls:<role>/<link name>   JSON-encoded linkstate.Record
//
// Keys sort by role then name, which is the order List returns.
const prefixRecord = "ls:"

func keyRecord(k linkstate.Key) []byte {
	return []byte(prefixRecord + k.String())
}

// Config configures the store.
type Config struct {
	// Path is the BadgerDB directory.
	Path string `mapstructure:"path" yaml:"path" json:"path,omitempty"`

	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory" json:"in_memory,omitempty"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes" json:"sync_writes,omitempty"`
}

// Store is a BadgerDB-backed RecoveryStore.
//
// Thread Safety: safe for concurrent use; BadgerDB serialises conflicting
// transactions.
type Store struct {
	db     *badgerdb.DB
	closed atomic.Bool
}

var _ linkstate.RecoveryStore = (*Store)(nil)

// New opens (creating if needed) the store described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger recovery store: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recovery store directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger recovery store: %w", err)
	}

	logger.Debug("badger recovery store opened", logger.KeyStoreType, "badger", logger.KeyStorePath, cfg.Path)
	return &Store{db: db}, nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return linkstate.NewClosedError()
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec *linkstate.Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := linkstate.Validate(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode link record: %w", err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyRecord(rec.Key()), data)
	})
}

func (s *Store) Get(ctx context.Context, key linkstate.Key) (*linkstate.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var rec *linkstate.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyRecord(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return linkstate.NewNotFoundError(key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(string(item.Key()), val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, key linkstate.Key) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete(keyRecord(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// List returns every record in key order.
func (s *Store) List(ctx context.Context) ([]*linkstate.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var result []*linkstate.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(string(item.Key()), val)
				if err != nil {
					return err
				}
				result = append(result, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeBefore deletes records detached before cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	// Collect keys first, then delete them in one write batch.
	var stale [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var head struct {
					DetachedAt time.Time `json:"detached_at"`
				}
				if err := json.Unmarshal(val, &head); err != nil {
					return linkstate.NewCorruptError(string(item.Key()), err)
				}
				if head.DetachedAt.Before(cutoff) {
					stale = append(stale, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to purge link record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to purge link records: %w", err)
	}
	return len(stale), nil
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func decodeRecord(key string, val []byte) (*linkstate.Record, error) {
	rec := &linkstate.Record{}
	if err := json.Unmarshal(val, rec); err != nil {
		return nil, linkstate.NewCorruptError(key, err)
	}
	return rec, nil
}
