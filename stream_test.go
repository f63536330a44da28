package kbinder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
	"github.com/twmb/franz-go/pkg/kgo"
)

type pair[K, V any] struct {
	Key   K
	Value V
}

// captureProcessor is a terminal stage collecting everything it receives.
type captureProcessor[K, V any] struct {
	out *[]pair[K, V]
}

func (p *captureProcessor[K, V]) Init(ProcessorContext[K, V]) error { return nil }
func (p *captureProcessor[K, V]) Close() error                      { return nil }

func (p *captureProcessor[K, V]) Process(_ context.Context, k K, v V) error {
	*p.out = append(*p.out, pair[K, V]{Key: k, Value: v})
	return nil
}

func capture[K, V any](out *[]pair[K, V]) ProcessorBuilder[K, V, K, V] {
	return func() Processor[K, V, K, V] {
		return &captureProcessor[K, V]{out: out}
	}
}

// runPipeline instantiates the partition group of topic for partition 0 and
// runs the records through it.
func runPipeline(t *testing.T, topo *Topology, topic string, records ...*kgo.Record) {
	t.Helper()
	pg, err := topo.groupForTopic(topic)
	assert.NoError(t, err)
	task, err := topo.createTask(pg, 0, nil)
	assert.NoError(t, err)
	assert.NoError(t, task.Process(context.Background(), records...))
	assert.NoError(t, task.Close())
}

func record(topic, key, value string, ts time.Time) *kgo.Record {
	return &kgo.Record{Topic: topic, Key: []byte(key), Value: []byte(value), Timestamp: ts}
}

func TestFilterDropsEverything(t *testing.T) {
	builder := NewTopologyBuilder()
	var out []pair[string, string]

	in := NewStream[string, string](builder, "events", serde.String, serde.String)
	Process(in.Filter(func(string, string) bool { return false }), capture(&out))

	topo := builder.MustBuild()
	base := time.Unix(100, 0).UTC()
	runPipeline(t, topo, "events",
		record("events", "a", "1", base),
		record("events", "b", "2", base),
	)

	assert.Equal(t, 0, len(out))
}

func TestMapTransformsKeyAndValue(t *testing.T) {
	builder := NewTopologyBuilder()
	var out []pair[string, int64]

	in := NewStream[string, string](builder, "events", serde.String, serde.String)
	mapped := Map(in, func(k, v string) (string, int64) {
		return k + "!", int64(len(v))
	})
	Process(mapped, capture(&out))

	topo := builder.MustBuild()
	runPipeline(t, topo, "events", record("events", "a", "abc", time.Unix(100, 0).UTC()))

	assert.Equal(t, []pair[string, int64]{{Key: "a!", Value: 3}}, out)
}

func TestWindowedCountEmitsRunningCount(t *testing.T) {
	builder := NewTopologyBuilder()
	var out []pair[WindowKey[string], int64]

	in := NewStream[string, string](builder, "events", serde.String, serde.String)
	counts := GroupByKey(in).
		WindowedBy(TumblingWindows(5 * time.Second)).
		Count("counts", state.NewInMemoryBackend(), serde.String)
	Process(counts, capture(&out))

	topo := builder.MustBuild()
	base := time.Unix(100, 0).UTC()
	runPipeline(t, topo, "events",
		record("events", "k", "a", base),
		record("events", "k", "b", base.Add(time.Second)),
		record("events", "k", "c", base.Add(2*time.Second)),
	)

	assert.Equal(t, 3, len(out))
	for i, p := range out {
		assert.Equal(t, "k", p.Key.Key)
		assert.True(t, p.Key.Start.Equal(base))
		assert.Equal(t, int64(i+1), p.Value)
	}
}

func TestWindowedCountIsolatesKeys(t *testing.T) {
	builder := NewTopologyBuilder()
	var out []pair[WindowKey[string], int64]

	in := NewStream[string, string](builder, "events", serde.String, serde.String)
	counts := GroupByKey(in).
		WindowedBy(TumblingWindows(5 * time.Second)).
		Count("counts", state.NewInMemoryBackend(), serde.String)
	Process(counts, capture(&out))

	topo := builder.MustBuild()
	base := time.Unix(100, 0).UTC()
	runPipeline(t, topo, "events",
		record("events", "x", "1", base),
		record("events", "y", "2", base.Add(time.Second)),
		record("events", "x", "3", base.Add(2*time.Second)),
	)

	assert.Equal(t, 3, len(out))
	assert.Equal(t, int64(1), out[0].Value) // x
	assert.Equal(t, int64(1), out[1].Value) // y, unaffected by x
	assert.Equal(t, int64(2), out[2].Value) // x again
}

func TestWindowedCountResetsAcrossWindows(t *testing.T) {
	builder := NewTopologyBuilder()
	var out []pair[WindowKey[string], int64]

	in := NewStream[string, string](builder, "events", serde.String, serde.String)
	counts := GroupByKey(in).
		WindowedBy(TumblingWindows(5 * time.Second)).
		Count("counts", state.NewInMemoryBackend(), serde.String)
	Process(counts, capture(&out))

	topo := builder.MustBuild()
	base := time.Unix(100, 0).UTC()
	runPipeline(t, topo, "events",
		record("events", "k", "a", base),
		record("events", "k", "b", base.Add(time.Second)),
		record("events", "k", "c", base.Add(6*time.Second)), // next window
	)

	assert.Equal(t, 3, len(out))
	assert.Equal(t, int64(1), out[0].Value)
	assert.Equal(t, int64(2), out[1].Value)
	assert.Equal(t, int64(1), out[2].Value)
	assert.True(t, out[2].Key.Start.Equal(base.Add(5*time.Second)))
}

func TestProductCountPipeline(t *testing.T) {
	type product struct {
		ID string `json:"id"`
	}

	builder := NewTopologyBuilder()
	var out []pair[string, string]

	in := NewStream[string, product](builder, "foos", serde.String, serde.JSON[product]())
	filtered := in.Filter(func(_ string, p product) bool { return p.ID == "123" })
	keyed := Map(filtered, func(_ string, p product) (string, product) { return p.ID, p })
	counts := GroupByKey(keyed).
		WindowedBy(TumblingWindows(5 * time.Second)).
		Count("id-count-store", state.NewInMemoryBackend(), serde.String)
	messages := Map(counts, func(wk WindowKey[string], count int64) (string, string) {
		return wk.Key, fmt.Sprintf("Count for product with ID %s: %d", wk.Key, count)
	})
	Process(messages, capture(&out))

	topo := builder.MustBuild()
	base := time.Unix(100, 0).UTC()
	runPipeline(t, topo, "foos",
		record("foos", "a", `{"id":"123"}`, base),
		record("foos", "b", `{"id":"456"}`, base.Add(time.Second)),
	)

	assert.Equal(t, 1, len(out))
	assert.Equal(t, "123", out[0].Key)
	assert.Equal(t, "Count for product with ID 123: 1", out[0].Value)
}

func TestSourceSurfacesSerializationError(t *testing.T) {
	type product struct {
		ID string `json:"id"`
	}

	builder := NewTopologyBuilder()
	var out []pair[string, product]

	in := NewStream[string, product](builder, "foos", serde.String, serde.JSON[product]())
	Process(in, capture(&out))

	topo := builder.MustBuild()
	pg, err := topo.groupForTopic("foos")
	assert.NoError(t, err)
	task, err := topo.createTask(pg, 0, nil)
	assert.NoError(t, err)

	err = task.Process(context.Background(), record("foos", "a", `{broken`, time.Unix(100, 0).UTC()))
	assert.IsError(t, err, ErrSerialization)
	assert.Equal(t, 0, len(out))
}

func TestBindFunctionRegistersBindingsAndSerdes(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		KeyApplicationID:     "app",
		KeyInputDestination:  "foos",
		KeyOutputDestination: "counts-id",
	})
	assert.NoError(t, err)

	builder := NewTopologyBuilder()
	registry := NewSerdeRegistry()

	err = BindFunction(builder, registry, cfg,
		serde.String, serde.String,
		serde.String, serde.String,
		func(in *Stream[string, string]) *Stream[string, string] {
			return in.Filter(func(string, string) bool { return true })
		},
	)
	assert.NoError(t, err)

	topo := builder.MustBuild()
	in, ok := topo.Bindings().Input("input")
	assert.True(t, ok)
	assert.Equal(t, "foos", in.Topic)
	out, ok := topo.Bindings().Output("output")
	assert.True(t, ok)
	assert.Equal(t, "counts-id", out.Topic)

	assert.True(t, registry.Registered("input"))
	assert.True(t, registry.Registered("output"))
	assert.Equal(t, []string{"foos"}, topo.GetTopics())
}
