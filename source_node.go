package kbinder

import (
	"context"
	"fmt"

	"github.com/streamhaus/kbinder/serde"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RecordProcessor processes raw kgo.Record objects. Source nodes implement
// it; everything downstream is typed.
type RecordProcessor interface {
	Process(ctx context.Context, m *kgo.Record) error
}

// SourceNode deserializes broker records and forwards them to all
// downstream processors.
type SourceNode[K any, V any] struct {
	KeyDeserializer   serde.Deserializer[K]
	ValueDeserializer serde.Deserializer[V]

	DownstreamProcessors []InputProcessor[K, V]
}

func (n *SourceNode[K, V]) Process(ctx context.Context, m *kgo.Record) error {
	key, err := n.KeyDeserializer(m.Key)
	if err != nil {
		return fmt.Errorf("%w: key of %s/%d@%d: %v", ErrSerialization, m.Topic, m.Partition, m.Offset, err)
	}

	value, err := n.ValueDeserializer(m.Value)
	if err != nil {
		return fmt.Errorf("%w: value of %s/%d@%d: %v", ErrSerialization, m.Topic, m.Partition, m.Offset, err)
	}

	for _, next := range n.DownstreamProcessors {
		if err := next.Process(ctx, key, value); err != nil {
			return err
		}
	}

	return nil
}

func (n *SourceNode[K, V]) AddNext(next InputProcessor[K, V]) {
	n.DownstreamProcessors = append(n.DownstreamProcessors, next)
}
