package kbinder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

// TimestampExtractor determines event time for a record. The default reads
// the record's broker timestamp from the processing context.
type TimestampExtractor[K, V any] func(ctx context.Context, k K, v V) time.Time

func RecordTimestampExtractor[K, V any]() TimestampExtractor[K, V] {
	return func(ctx context.Context, _ K, _ V) time.Time {
		if meta, ok := RecordMetadataFromContext(ctx); ok {
			return meta.Timestamp
		}
		return time.Now()
	}
}

// WindowedAggregator buckets records into time windows per key and folds
// them into an aggregate. Every update is forwarded downstream immediately
// (continuous emission), so downstream sees one result per input record,
// keyed by WindowKey. Aggregates are evicted once stream time has advanced
// past the window's end plus grace; records arriving for an already-closed
// window are dropped.
//
// Stream time is per task and only ever advances.
type WindowedAggregator[Kin, Vin, Agg, Vout any] struct {
	storeName string
	windows   TimeWindows

	extractTimestamp TimestampExtractor[Kin, Vin]
	initializer      func() Agg
	aggregate        func(Vin, Agg) Agg
	finalize         func(Agg) Vout

	store *WindowedKeyValueStore[Kin, Agg]
	pctx  ProcessorContext[WindowKey[Kin], Vout]

	streamTime      time.Time
	lastEvictWindow time.Time
}

// NewWindowedAggregator returns a processor builder plus the store builder
// for its backing window store. Both must be registered under storeName.
func NewWindowedAggregator[Kin, Vin, Agg, Vout any](
	windows TimeWindows,
	extractTimestamp TimestampExtractor[Kin, Vin],
	initializer func() Agg,
	aggregate func(Vin, Agg) Agg,
	finalize func(Agg) Vout,
	backend state.BackendBuilder,
	keySerde serde.Serde[Kin],
	aggSerde serde.Serde[Agg],
	storeName string,
) (ProcessorBuilder[Kin, Vin, WindowKey[Kin], Vout], StoreBuilder) {
	builder := func() Processor[Kin, Vin, WindowKey[Kin], Vout] {
		return &WindowedAggregator[Kin, Vin, Agg, Vout]{
			storeName:        storeName,
			windows:          windows,
			extractTimestamp: extractTimestamp,
			initializer:      initializer,
			aggregate:        aggregate,
			finalize:         finalize,
		}
	}
	return builder, WindowedStore(backend, keySerde, aggSerde)
}

// NewWindowedCount is a WindowedAggregator counting records per key and
// window.
func NewWindowedCount[Kin, Vin any](
	windows TimeWindows,
	backend state.BackendBuilder,
	keySerde serde.Serde[Kin],
	storeName string,
) (ProcessorBuilder[Kin, Vin, WindowKey[Kin], int64], StoreBuilder) {
	return NewWindowedAggregator(
		windows,
		RecordTimestampExtractor[Kin, Vin](),
		func() int64 { return 0 },
		func(_ Vin, count int64) int64 { return count + 1 },
		func(count int64) int64 { return count },
		backend,
		keySerde,
		serde.Int64,
		storeName,
	)
}

func (a *WindowedAggregator[Kin, Vin, Agg, Vout]) Init(pctx ProcessorContext[WindowKey[Kin], Vout]) error {
	if a.windows.Size <= 0 {
		return fmt.Errorf("%w: window size must be positive, got %s", ErrConfiguration, a.windows.Size)
	}
	store, ok := pctx.GetStore(a.storeName).(*WindowedKeyValueStore[Kin, Agg])
	if !ok {
		return fmt.Errorf("%w: store %s is not a windowed store with matching types", ErrStore, a.storeName)
	}
	a.store = store
	a.pctx = pctx
	return nil
}

func (a *WindowedAggregator[Kin, Vin, Agg, Vout]) Process(ctx context.Context, k Kin, v Vin) error {
	ts := a.extractTimestamp(ctx, k, v)
	if ts.After(a.streamTime) {
		a.streamTime = ts
	}

	window := a.windows.WindowFor(ts)
	if !window.End.Add(a.windows.Grace).After(a.streamTime) {
		// Late record for a window that already closed.
		return nil
	}

	agg, err := a.store.Get(k, window.Start)
	if errors.Is(err, state.ErrKeyNotFound) {
		agg = a.initializer()
	} else if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrStore, a.storeName, err)
	}

	agg = a.aggregate(v, agg)

	if err := a.store.Set(k, agg, window.Start); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStore, a.storeName, err)
	}

	if err := a.maybeEvict(); err != nil {
		return err
	}

	a.pctx.Forward(ctx, WindowKey[Kin]{Key: k, Start: window.Start}, a.finalize(agg))
	return nil
}

// maybeEvict drops closed windows. It only scans the store when stream time
// has crossed into a new window since the last scan.
func (a *WindowedAggregator[Kin, Vin, Agg, Vout]) maybeEvict() error {
	currentWindow := a.windows.WindowFor(a.streamTime).Start
	if !currentWindow.After(a.lastEvictWindow) {
		return nil
	}
	a.lastEvictWindow = currentWindow

	// A window is closed once streamTime >= End+Grace, i.e. its Start is
	// before streamTime-Grace-Size (half-open intervals).
	cutoff := a.streamTime.Add(-a.windows.Grace).Add(-a.windows.Size).Add(time.Nanosecond)
	if _, err := a.store.EvictBefore(cutoff); err != nil {
		return fmt.Errorf("%w: evict %s: %v", ErrStore, a.storeName, err)
	}
	return nil
}

func (a *WindowedAggregator[Kin, Vin, Agg, Vout]) Close() error {
	return nil
}
