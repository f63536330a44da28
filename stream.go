package kbinder

import (
	"context"
	"fmt"

	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

// Stream is the high-level DSL over the topology builder. Each operation
// registers a stage and returns a handle to that stage's output. The
// topology graph is fixed once built; the DSL is only a convenient way to
// construct it.
type Stream[K, V any] struct {
	builder *TopologyBuilder
	node    string
}

// NewStream registers a source for topic and returns a stream of its
// deserialized records.
func NewStream[K, V any](t *TopologyBuilder, topic string, keySerde serde.Serde[K], valueSerde serde.Serde[V]) *Stream[K, V] {
	name := t.nextName("source")
	MustRegisterSource(t, name, topic, keySerde.Deserializer, valueSerde.Deserializer)
	return &Stream[K, V]{builder: t, node: name}
}

// Filter keeps only the records for which pred returns true.
func (s *Stream[K, V]) Filter(pred func(K, V) bool) *Stream[K, V] {
	name := s.builder.nextName("filter")
	MustRegisterProcessor(s.builder, func() Processor[K, V, K, V] {
		return &filterProcessor[K, V]{pred: pred}
	}, name, s.node)
	return &Stream[K, V]{builder: s.builder, node: name}
}

// Peek invokes fn for every record without changing the stream.
func (s *Stream[K, V]) Peek(fn func(K, V)) *Stream[K, V] {
	return s.Filter(func(k K, v V) bool {
		fn(k, v)
		return true
	})
}

// Map transforms each record's key and value. A free function because
// methods cannot introduce new type parameters.
func Map[Kin, Vin, Kout, Vout any](s *Stream[Kin, Vin], fn func(Kin, Vin) (Kout, Vout)) *Stream[Kout, Vout] {
	name := s.builder.nextName("map")
	MustRegisterProcessor(s.builder, func() Processor[Kin, Vin, Kout, Vout] {
		return &mapProcessor[Kin, Vin, Kout, Vout]{fn: fn}
	}, name, s.node)
	return &Stream[Kout, Vout]{builder: s.builder, node: name}
}

// MapValues transforms each record's value, keeping the key.
func MapValues[K, Vin, Vout any](s *Stream[K, Vin], fn func(Vin) Vout) *Stream[K, Vout] {
	return Map(s, func(k K, v Vin) (K, Vout) {
		return k, fn(v)
	})
}

// Process inserts a custom processor stage. stores must already be
// registered on the builder.
func Process[Kin, Vin, Kout, Vout any](s *Stream[Kin, Vin], p ProcessorBuilder[Kin, Vin, Kout, Vout], stores ...string) *Stream[Kout, Vout] {
	name := s.builder.nextName("processor")
	MustRegisterProcessor(s.builder, p, name, s.node, stores...)
	return &Stream[Kout, Vout]{builder: s.builder, node: name}
}

// To terminates the stream into a sink producing to topic.
func (s *Stream[K, V]) To(topic string, keySerializer serde.Serializer[K], valueSerializer serde.Serializer[V]) {
	name := s.builder.nextName("sink")
	MustRegisterSink(s.builder, name, topic, keySerializer, valueSerializer, s.node)
}

// GroupedStream is a stream whose records are grouped by key, ready for
// windowing.
type GroupedStream[K, V any] struct {
	builder *TopologyBuilder
	node    string
}

// GroupByKey groups the stream by its current key. Records with the same key
// live on the same partition already, so no repartitioning happens.
func GroupByKey[K, V any](s *Stream[K, V]) *GroupedStream[K, V] {
	return &GroupedStream[K, V]{builder: s.builder, node: s.node}
}

// GroupBy re-keys the stream with fn and groups by the new key. The caller
// must ensure the new key preserves co-partitioning; there is no
// repartition topic.
func GroupBy[Kin, Vin, Kout any](s *Stream[Kin, Vin], fn func(Kin, Vin) Kout) *GroupedStream[Kout, Vin] {
	rekeyed := Map(s, func(k Kin, v Vin) (Kout, Vin) {
		return fn(k, v), v
	})
	return &GroupedStream[Kout, Vin]{builder: rekeyed.builder, node: rekeyed.node}
}

// WindowedStream is a grouped stream bucketed into time windows.
type WindowedStream[K, V any] struct {
	builder *TopologyBuilder
	node    string
	windows TimeWindows
}

// WindowedBy buckets the grouped stream into the given windows.
func (g *GroupedStream[K, V]) WindowedBy(windows TimeWindows) *WindowedStream[K, V] {
	return &WindowedStream[K, V]{builder: g.builder, node: g.node, windows: windows}
}

// Count materializes a per-key, per-window record count in a store named
// storeName and emits the updated count on every input record.
func (w *WindowedStream[K, V]) Count(storeName string, backend state.BackendBuilder, keySerde serde.Serde[K]) *Stream[WindowKey[K], int64] {
	processor, store := NewWindowedCount[K, V](w.windows, backend, keySerde, storeName)
	MustRegisterStore(w.builder, store, storeName)
	name := w.builder.nextName("count")
	MustRegisterProcessor(w.builder, processor, name, w.node, storeName)
	return &Stream[WindowKey[K], int64]{builder: w.builder, node: name}
}

// Aggregate materializes an arbitrary per-key, per-window fold. Emits the
// updated aggregate on every input record.
func Aggregate[K, V, Agg, Vout any](
	w *WindowedStream[K, V],
	storeName string,
	backend state.BackendBuilder,
	keySerde serde.Serde[K],
	aggSerde serde.Serde[Agg],
	initializer func() Agg,
	aggregate func(V, Agg) Agg,
	finalize func(Agg) Vout,
) *Stream[WindowKey[K], Vout] {
	processor, store := NewWindowedAggregator(
		w.windows,
		RecordTimestampExtractor[K, V](),
		initializer,
		aggregate,
		finalize,
		backend,
		keySerde,
		aggSerde,
		storeName,
	)
	MustRegisterStore(w.builder, store, storeName)
	name := w.builder.nextName("aggregate")
	MustRegisterProcessor(w.builder, processor, name, w.node, storeName)
	return &Stream[WindowKey[K], Vout]{builder: w.builder, node: name}
}

// StreamFunction is the application's whole processing logic as a single
// function from input stream to output stream. BindFunction decomposes it
// into topology stages bound to the configured channels.
type StreamFunction[Kin, Vin, Kout, Vout any] func(*Stream[Kin, Vin]) *Stream[Kout, Vout]

// BindFunction wires fn between the configured input and output
// destinations: it declares the "input" and "output" channel bindings,
// registers the channels' serdes, builds a source over the input topic,
// applies fn, and terminates the result into a sink on the output topic.
func BindFunction[Kin, Vin, Kout, Vout any](
	t *TopologyBuilder,
	registry *SerdeRegistry,
	cfg Config,
	inKeySerde serde.Serde[Kin],
	inValueSerde serde.Serde[Vin],
	outKeySerde serde.Serde[Kout],
	outValueSerde serde.Serde[Vout],
	fn StreamFunction[Kin, Vin, Kout, Vout],
) error {
	if err := t.Bindings().Add(ChannelBinding{Name: "input", Direction: Input, Topic: cfg.InputDestination}); err != nil {
		return err
	}
	if err := t.Bindings().Add(ChannelBinding{Name: "output", Direction: Output, Topic: cfg.OutputDestination}); err != nil {
		return err
	}
	RegisterSerde(registry, "input", inKeySerde, inValueSerde)
	RegisterSerde(registry, "output", outKeySerde, outValueSerde)

	in := NewStream[Kin, Vin](t, cfg.InputDestination, inKeySerde, inValueSerde)
	out := fn(in)
	if out == nil {
		return fmt.Errorf("%w: stream function returned no output stream", ErrConfiguration)
	}
	out.To(cfg.OutputDestination, outKeySerde.Serializer, outValueSerde.Serializer)
	return nil
}

type filterProcessor[K, V any] struct {
	pctx ProcessorContext[K, V]
	pred func(K, V) bool
}

func (p *filterProcessor[K, V]) Init(pctx ProcessorContext[K, V]) error {
	p.pctx = pctx
	return nil
}

func (p *filterProcessor[K, V]) Process(ctx context.Context, k K, v V) error {
	if p.pred(k, v) {
		p.pctx.Forward(ctx, k, v)
	}
	return nil
}

func (p *filterProcessor[K, V]) Close() error {
	return nil
}

type mapProcessor[Kin, Vin, Kout, Vout any] struct {
	pctx ProcessorContext[Kout, Vout]
	fn   func(Kin, Vin) (Kout, Vout)
}

func (p *mapProcessor[Kin, Vin, Kout, Vout]) Init(pctx ProcessorContext[Kout, Vout]) error {
	p.pctx = pctx
	return nil
}

func (p *mapProcessor[Kin, Vin, Kout, Vout]) Process(ctx context.Context, k Kin, v Vin) error {
	kOut, vOut := p.fn(k, v)
	p.pctx.Forward(ctx, kOut, vOut)
	return nil
}

func (p *mapProcessor[Kin, Vin, Kout, Vout]) Close() error {
	return nil
}
