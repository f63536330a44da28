package kbinder

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

type fakeProcessorContext[K, V any] struct {
	stores    map[string]state.Store
	forwarded []pair[K, V]
}

func (c *fakeProcessorContext[K, V]) Forward(_ context.Context, k K, v V) {
	c.forwarded = append(c.forwarded, pair[K, V]{Key: k, Value: v})
}

func (c *fakeProcessorContext[K, V]) ForwardTo(ctx context.Context, k K, v V, _ string) {
	c.Forward(ctx, k, v)
}

func (c *fakeProcessorContext[K, V]) GetStore(name string) state.Store {
	return c.stores[name]
}

func newCountUnderTest(t *testing.T) (Processor[string, string, WindowKey[string], int64], *fakeProcessorContext[WindowKey[string], int64], *WindowedKeyValueStore[string, int64]) {
	t.Helper()
	builder, storeBuilder := NewWindowedCount[string, string](
		TumblingWindows(5*time.Second),
		state.NewInMemoryBackend(),
		serde.String,
		"counts",
	)

	st, err := storeBuilder("counts", 0)
	assert.NoError(t, err)
	store := st.(*WindowedKeyValueStore[string, int64])

	pctx := &fakeProcessorContext[WindowKey[string], int64]{
		stores: map[string]state.Store{"counts": store},
	}
	p := builder()
	assert.NoError(t, p.Init(pctx))
	return p, pctx, store
}

func at(ts time.Time) context.Context {
	return WithRecordMetadata(context.Background(), RecordMetadata{Timestamp: ts})
}

func TestAggregatorCountsPerWindow(t *testing.T) {
	p, pctx, _ := newCountUnderTest(t)
	base := time.Unix(100, 0).UTC()

	assert.NoError(t, p.Process(at(base), "k", "a"))
	assert.NoError(t, p.Process(at(base.Add(time.Second)), "k", "b"))

	assert.Equal(t, 2, len(pctx.forwarded))
	assert.Equal(t, int64(1), pctx.forwarded[0].Value)
	assert.Equal(t, int64(2), pctx.forwarded[1].Value)
	assert.True(t, pctx.forwarded[1].Key.Start.Equal(base))
}

func TestAggregatorDropsLateRecord(t *testing.T) {
	p, pctx, _ := newCountUnderTest(t)
	base := time.Unix(100, 0).UTC()

	// Advance stream time into the second window, then deliver a record
	// whose timestamp falls into the first, already closed, window.
	assert.NoError(t, p.Process(at(base.Add(7*time.Second)), "k", "current"))
	assert.NoError(t, p.Process(at(base), "k", "late"))

	assert.Equal(t, 1, len(pctx.forwarded))
	assert.True(t, pctx.forwarded[0].Key.Start.Equal(base.Add(5*time.Second)))
}

func TestAggregatorAcceptsLateRecordWithinGrace(t *testing.T) {
	builder, storeBuilder := NewWindowedAggregator(
		TumblingWindows(5*time.Second).WithGrace(3*time.Second),
		RecordTimestampExtractor[string, string](),
		func() int64 { return 0 },
		func(_ string, c int64) int64 { return c + 1 },
		func(c int64) int64 { return c },
		state.NewInMemoryBackend(),
		serde.String,
		serde.Int64,
		"counts",
	)
	st, err := storeBuilder("counts", 0)
	assert.NoError(t, err)
	pctx := &fakeProcessorContext[WindowKey[string], int64]{
		stores: map[string]state.Store{"counts": st},
	}
	p := builder()
	assert.NoError(t, p.Init(pctx))

	base := time.Unix(100, 0).UTC()
	assert.NoError(t, p.Process(at(base), "k", "a"))
	assert.NoError(t, p.Process(at(base.Add(7*time.Second)), "k", "b"))
	// Stream time is 107, the first window ends at 105, grace runs to 108.
	assert.NoError(t, p.Process(at(base.Add(time.Second)), "k", "late"))

	assert.Equal(t, 3, len(pctx.forwarded))
	last := pctx.forwarded[2]
	assert.True(t, last.Key.Start.Equal(base))
	assert.Equal(t, int64(2), last.Value)
}

func TestAggregatorEvictsClosedWindows(t *testing.T) {
	p, _, store := newCountUnderTest(t)
	base := time.Unix(100, 0).UTC()

	assert.NoError(t, p.Process(at(base), "k", "a"))

	_, err := store.Get("k", base)
	assert.NoError(t, err)

	// Crossing into a later window closes [100, 105) and evicts it.
	assert.NoError(t, p.Process(at(base.Add(11*time.Second)), "k", "b"))

	_, err = store.Get("k", base)
	assert.IsError(t, err, state.ErrKeyNotFound)

	_, err = store.Get("k", base.Add(10*time.Second))
	assert.NoError(t, err)
}

func TestAggregatorRejectsNonPositiveWindow(t *testing.T) {
	builder, storeBuilder := NewWindowedCount[string, string](
		TimeWindows{},
		state.NewInMemoryBackend(),
		serde.String,
		"counts",
	)
	st, err := storeBuilder("counts", 0)
	assert.NoError(t, err)
	pctx := &fakeProcessorContext[WindowKey[string], int64]{
		stores: map[string]state.Store{"counts": st},
	}

	err = builder().Init(pctx)
	assert.IsError(t, err, ErrConfiguration)
}

func TestAggregatorRequiresMatchingStore(t *testing.T) {
	builder, _ := NewWindowedCount[string, string](
		TumblingWindows(5*time.Second),
		state.NewInMemoryBackend(),
		serde.String,
		"counts",
	)
	pctx := &fakeProcessorContext[WindowKey[string], int64]{stores: map[string]state.Store{}}

	err := builder().Init(pctx)
	assert.IsError(t, err, ErrStore)
}

func TestWindowedStoreEvictBefore(t *testing.T) {
	st, err := WindowedStore(state.NewInMemoryBackend(), serde.String, serde.Int64)("w", 0)
	assert.NoError(t, err)
	store := st.(*WindowedKeyValueStore[string, int64])

	base := time.Unix(100, 0).UTC()
	assert.NoError(t, store.Set("a", 1, base))
	assert.NoError(t, store.Set("b", 2, base))
	assert.NoError(t, store.Set("a", 3, base.Add(5*time.Second)))

	n, err := store.EvictBefore(base.Add(5 * time.Second))
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get("a", base)
	assert.IsError(t, err, state.ErrKeyNotFound)
	v, err := store.Get("a", base.Add(5*time.Second))
	assert.NoError(t, err)
	assert.Equal(t, int64(3), v)
}
