// Package state holds the store abstractions backing stateful processors.
// A StoreBackend is a byte-oriented key-value store owned by exactly one
// task; higher-level typed stores wrap it with serdes.
package state

import "errors"

// ErrKeyNotFound is returned by Get when the key has no entry.
var ErrKeyNotFound = errors.New("state: key not found")

// Store is the lifecycle interface shared by all state stores.
type Store interface {
	Init() error
	Flush() error
	Close() error
}

// StoreBackend is the low-level byte-oriented store interface.
type StoreBackend interface {
	Store
	Set(k, v []byte) error
	Get(k []byte) ([]byte, error)
	Delete(k []byte) error
	All() (Iterator, error)
	Range(lower, upper []byte) (Iterator, error)
}

// Iterator iterates over key-value pairs in key order. Callers must check
// Err after iteration and Close when done.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// BackendBuilder constructs a StoreBackend for a named store and partition.
// Each partition gets its own backend instance so a task has exclusive
// ownership of its state.
type BackendBuilder func(name string, partition int32) (StoreBackend, error)
