package kbinder

import (
	"context"
	"time"
)

// RecordMetadata carries broker-assigned metadata of the record currently
// flowing through the topology. It travels on the context so that stage
// processors stay typed on key/value only.
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

type recordMetadataKey struct{}

// WithRecordMetadata attaches record metadata to ctx. Called once per record
// by the task before the record enters the source node.
func WithRecordMetadata(ctx context.Context, m RecordMetadata) context.Context {
	return context.WithValue(ctx, recordMetadataKey{}, m)
}

// RecordMetadataFromContext returns the metadata of the record being
// processed, if any.
func RecordMetadataFromContext(ctx context.Context) (RecordMetadata, bool) {
	m, ok := ctx.Value(recordMetadataKey{}).(RecordMetadata)
	return m, ok
}
