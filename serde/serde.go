// Package serde provides paired encode/decode functions used at the wire
// boundaries of a binder topology.
package serde

// Serializer encodes a value of type T into bytes.
type Serializer[T any] func(T) ([]byte, error)

// Deserializer decodes bytes into a value of type T.
type Deserializer[T any] func([]byte) (T, error)

// Serde pairs a Serializer and a Deserializer for one type.
type Serde[T any] struct {
	Serializer   Serializer[T]
	Deserializer Deserializer[T]
}
