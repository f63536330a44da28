package kbinder

import (
	"fmt"

	"github.com/streamhaus/kbinder/serde"
)

// RawSerde is a type-erased encode/decode pair. The generic serdes of a
// channel are erased when stored in the registry; Serialize rejects values
// of the wrong dynamic type with ErrSerialization.
type RawSerde struct {
	Serialize   func(any) ([]byte, error)
	Deserialize func([]byte) (any, error)
}

// SerdeRegistry maps a logical channel name to a key/value serde pair. The
// binder consults it when validating bindings at Start; the wire boundary
// itself is served by the typed serdes compiled into the topology's source
// and sink nodes. Resolving an unknown channel is a configuration error.
type SerdeRegistry struct {
	entries map[string]registryEntry
}

type registryEntry struct {
	key   RawSerde
	value RawSerde
}

func NewSerdeRegistry() *SerdeRegistry {
	return &SerdeRegistry{entries: map[string]registryEntry{}}
}

// RegisterSerde registers the key and value serdes for a channel. Later
// registrations replace earlier ones.
func RegisterSerde[K, V any](r *SerdeRegistry, channel string, keySerde serde.Serde[K], valueSerde serde.Serde[V]) {
	r.entries[channel] = registryEntry{
		key:   eraseSerde(keySerde),
		value: eraseSerde(valueSerde),
	}
}

// Resolve returns the key and value serde pair registered for channel.
func (r *SerdeRegistry) Resolve(channel string) (keySerde RawSerde, valueSerde RawSerde, err error) {
	entry, ok := r.entries[channel]
	if !ok {
		return RawSerde{}, RawSerde{}, fmt.Errorf("%w: no serde registered for channel %q", ErrConfiguration, channel)
	}
	return entry.key, entry.value, nil
}

// Registered reports whether channel has a serde pair.
func (r *SerdeRegistry) Registered(channel string) bool {
	_, ok := r.entries[channel]
	return ok
}

func eraseSerde[T any](s serde.Serde[T]) RawSerde {
	return RawSerde{
		Serialize: func(v any) ([]byte, error) {
			t, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("%w: expected %T, got %T", ErrSerialization, *new(T), v)
			}
			return s.Serializer(t)
		},
		Deserialize: func(b []byte) (any, error) {
			t, err := s.Deserializer(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
			}
			return t, nil
		},
	}
}
