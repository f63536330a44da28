package kbinder

import (
	"errors"
	"time"

	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

// WindowedKeyValueStore is a typed view over a byte-oriented backend,
// keyed by (record key, window start).
type WindowedKeyValueStore[K, V any] struct {
	backend state.StoreBackend

	windowKeySerializer   serde.Serializer[WindowKey[K]]
	windowKeyDeserializer serde.Deserializer[WindowKey[K]]
	valueSerializer       serde.Serializer[V]
	valueDeserializer     serde.Deserializer[V]
}

func NewWindowedKeyValueStore[K, V any](backend state.StoreBackend, keySerde serde.Serde[K], valueSerde serde.Serde[V]) *WindowedKeyValueStore[K, V] {
	return &WindowedKeyValueStore[K, V]{
		backend:               backend,
		windowKeySerializer:   WindowKeySerializer(keySerde.Serializer),
		windowKeyDeserializer: WindowKeyDeserializer(keySerde.Deserializer),
		valueSerializer:       valueSerde.Serializer,
		valueDeserializer:     valueSerde.Deserializer,
	}
}

// Get returns the aggregate for (k, windowStart). Returns
// state.ErrKeyNotFound if no aggregate exists yet.
func (s *WindowedKeyValueStore[K, V]) Get(k K, windowStart time.Time) (V, error) {
	var v V

	keyBytes, err := s.windowKeySerializer(WindowKey[K]{Key: k, Start: windowStart})
	if err != nil {
		return v, err
	}

	res, err := s.backend.Get(keyBytes)
	if err != nil {
		return v, err
	}

	return s.valueDeserializer(res)
}

func (s *WindowedKeyValueStore[K, V]) Set(k K, v V, windowStart time.Time) error {
	keyBytes, err := s.windowKeySerializer(WindowKey[K]{Key: k, Start: windowStart})
	if err != nil {
		return err
	}

	valueBytes, err := s.valueSerializer(v)
	if err != nil {
		return err
	}

	return s.backend.Set(keyBytes, valueBytes)
}

// EvictBefore deletes all aggregates of windows starting before cutoff and
// returns how many were removed.
func (s *WindowedKeyValueStore[K, V]) EvictBefore(cutoff time.Time) (int, error) {
	iter, err := s.backend.All()
	if err != nil {
		return 0, err
	}

	var expired [][]byte
	for iter.Next() {
		wk, err := s.windowKeyDeserializer(iter.Key())
		if err != nil {
			continue // foreign entry, not ours to evict
		}
		if wk.Start.Before(cutoff) {
			keyCopy := make([]byte, len(iter.Key()))
			copy(keyCopy, iter.Key())
			expired = append(expired, keyCopy)
		}
	}
	if err := errors.Join(iter.Err(), iter.Close()); err != nil {
		return 0, err
	}

	for _, key := range expired {
		if err := s.backend.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (s *WindowedKeyValueStore[K, V]) Init() error {
	return s.backend.Init()
}

func (s *WindowedKeyValueStore[K, V]) Flush() error {
	return s.backend.Flush()
}

func (s *WindowedKeyValueStore[K, V]) Close() error {
	return s.backend.Close()
}

// WindowedStore adapts a backend builder into a StoreBuilder producing
// windowed key-value stores.
func WindowedStore[K, V any](backend state.BackendBuilder, keySerde serde.Serde[K], valueSerde serde.Serde[V]) StoreBuilder {
	return func(name string, partition int32) (state.Store, error) {
		b, err := backend(name, partition)
		if err != nil {
			return nil, err
		}
		return NewWindowedKeyValueStore[K, V](b, keySerde, valueSerde), nil
	}
}
