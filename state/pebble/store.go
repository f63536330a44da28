// Package pebble provides a persistent StoreBackend on top of
// cockroachdb/pebble. Each store partition gets its own database directory
// below the configured state dir.
package pebble

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/streamhaus/kbinder/state"
)

// NewBackend returns a builder creating pebble-backed stores under dir.
// Layout: <dir>/<storeName>/<partition>.
func NewBackend(dir string) state.BackendBuilder {
	return func(name string, partition int32) (state.StoreBackend, error) {
		path := filepath.Join(dir, name, fmt.Sprintf("%d", partition))
		db, err := pebble.Open(path, &pebble.Options{})
		if err != nil {
			return nil, fmt.Errorf("pebble: failed to open %s: %w", path, err)
		}
		return &pebbleStore{db: db}, nil
	}
}

type pebbleStore struct {
	db *pebble.DB
}

func (s *pebbleStore) Init() error {
	return nil
}

func (s *pebbleStore) Flush() error {
	return s.db.Flush()
}

func (s *pebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *pebbleStore) Set(k, v []byte) error {
	// Treat nil (==tombstone) as delete
	if v == nil {
		return s.db.Delete(k, &pebble.WriteOptions{})
	}
	return s.db.Set(k, v, &pebble.WriteOptions{Sync: false})
}

func (s *pebbleStore) Get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, state.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	res := make([]byte, len(v))
	copy(res, v)

	return res, nil
}

func (s *pebbleStore) Delete(k []byte) error {
	return s.db.Delete(k, &pebble.WriteOptions{})
}

func (s *pebbleStore) All() (state.Iterator, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter}, nil
}

func (s *pebbleStore) Range(lower, upper []byte) (state.Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter}, nil
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	return it.iter.Key()
}

func (it *pebbleIterator) Value() []byte {
	return it.iter.Value()
}

func (it *pebbleIterator) Err() error {
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}
