package kbinder

import (
	"context"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/streamhaus/kbinder/serde"
)

func TestSinkNodeWrapsSerializationErrors(t *testing.T) {
	failing := func(string) ([]byte, error) {
		return nil, errors.New("encode failed")
	}

	t.Run("key", func(t *testing.T) {
		sink := NewSinkNode[string, string](nil, "out", failing, serde.StringSerializer)
		err := sink.Process(context.Background(), "k", "v")
		assert.IsError(t, err, ErrSerialization)
	})

	t.Run("value", func(t *testing.T) {
		sink := NewSinkNode[string, string](nil, "out", serde.StringSerializer, failing)
		err := sink.Process(context.Background(), "k", "v")
		assert.IsError(t, err, ErrSerialization)
	})
}

func TestSinkNodeFlushWithoutProduces(t *testing.T) {
	sink := NewSinkNode[string, string](nil, "out", serde.StringSerializer, serde.StringSerializer)
	assert.NoError(t, sink.Flush(context.Background()))
}

func TestSinkNodeFlushSurfacesProduceError(t *testing.T) {
	sink := NewSinkNode[string, string](nil, "out", serde.StringSerializer, serde.StringSerializer)
	sink.futures = append(sink.futures, produceResult{err: errors.New("partition offline")})

	err := sink.Flush(context.Background())
	assert.IsError(t, err, ErrBrokerUnavailable)
}
