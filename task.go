package kbinder

import (
	"context"
	"fmt"

	"github.com/streamhaus/kbinder/state"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
)

// Task executes one partition of a partition group: it owns the node
// instances and state stores for that partition and tracks the offsets that
// may be committed after a flush.
type Task struct {
	rootNodes map[string]RecordProcessor // Key = topic

	stores     map[string]state.Store
	processors []nodeInstance
	sinks      []Flusher

	topics    []string
	partition int32

	committableOffsets map[string]kgo.EpochOffset // Topic => offset
}

func NewTask(topics []string, partition int32, rootNodes map[string]RecordProcessor, stores map[string]state.Store, processors []nodeInstance, sinks []Flusher) *Task {
	return &Task{
		rootNodes:          rootNodes,
		stores:             stores,
		processors:         processors,
		sinks:              sinks,
		topics:             topics,
		partition:          partition,
		committableOffsets: map[string]kgo.EpochOffset{},
	}
}

func (t *Task) Init() error {
	var err error
	for _, store := range t.stores {
		err = multierr.Append(err, store.Init())
	}
	for _, processor := range t.processors {
		err = multierr.Append(err, processor.Init())
	}
	return err
}

// Process runs records through the topology in the order given. Records
// from a single partition arrive in offset order; the offset of a record is
// only marked committable after the record completed processing.
func (t *Task) Process(ctx context.Context, records ...*kgo.Record) error {
	for _, record := range records {
		p, ok := t.rootNodes[record.Topic]
		if !ok {
			return fmt.Errorf("%w: no source for topic %s", ErrNodeNotFound, record.Topic)
		}

		recordCtx := WithRecordMetadata(ctx, RecordMetadata{
			Topic:     record.Topic,
			Partition: record.Partition,
			Offset:    record.Offset,
			Timestamp: record.Timestamp,
		})
		if err := p.Process(recordCtx, record); err != nil {
			return fmt.Errorf("failed to process record %s/%d@%d: %w", record.Topic, record.Partition, record.Offset, err)
		}
		t.committableOffsets[record.Topic] = kgo.EpochOffset{Epoch: record.LeaderEpoch, Offset: record.Offset + 1}
	}

	return nil
}

// Flush flushes state stores and sinks. Must run before offsets are
// committed.
func (t *Task) Flush(ctx context.Context) error {
	var err error
	for _, store := range t.stores {
		err = multierr.Append(err, store.Flush())
	}
	for _, sink := range t.sinks {
		err = multierr.Append(err, sink.Flush(ctx))
	}
	return err
}

func (t *Task) GetOffsetsToCommit() map[string]kgo.EpochOffset {
	return t.committableOffsets
}

func (t *Task) ClearOffsets() {
	for k := range t.committableOffsets {
		delete(t.committableOffsets, k)
	}
}

func (t *Task) Partition() int32 {
	return t.partition
}

func (t *Task) Close() error {
	var err error
	for _, processor := range t.processors {
		err = multierr.Append(err, processor.Close())
	}
	for _, store := range t.stores {
		err = multierr.Append(err, store.Close())
	}
	return err
}

func (t *Task) String() string {
	return fmt.Sprintf("%v-%d", t.topics, t.partition)
}
