package processors

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/streamhaus/kbinder"
	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

type fakeContext[K, V any] struct {
	stores map[string]state.Store
	keys   []K
	values []V
}

func (c *fakeContext[K, V]) Forward(_ context.Context, k K, v V) {
	c.keys = append(c.keys, k)
	c.values = append(c.values, v)
}

func (c *fakeContext[K, V]) ForwardTo(ctx context.Context, k K, v V, _ string) {
	c.Forward(ctx, k, v)
}

func (c *fakeContext[K, V]) GetStore(name string) state.Store {
	return c.stores[name]
}

func at(ts time.Time) context.Context {
	return kbinder.WithRecordMetadata(context.Background(), kbinder.RecordMetadata{Timestamp: ts})
}

func setupExtremum(t *testing.T, builder kbinder.ProcessorBuilder[string, int64, kbinder.WindowKey[string], int64], store kbinder.StoreBuilder) (kbinder.Processor[string, int64, kbinder.WindowKey[string], int64], *fakeContext[kbinder.WindowKey[string], int64]) {
	t.Helper()
	st, err := store("extrema", 0)
	assert.NoError(t, err)
	pctx := &fakeContext[kbinder.WindowKey[string], int64]{
		stores: map[string]state.Store{"extrema": st},
	}
	p := builder()
	assert.NoError(t, p.Init(pctx))
	return p, pctx
}

func TestMax(t *testing.T) {
	builder, store := Max[string, int64](
		kbinder.TumblingWindows(5*time.Second),
		state.NewInMemoryBackend(),
		serde.String,
		"extrema",
	)
	p, pctx := setupExtremum(t, builder, store)

	base := time.Unix(100, 0).UTC()
	assert.NoError(t, p.Process(at(base), "k", -3))
	assert.NoError(t, p.Process(at(base.Add(time.Second)), "k", 7))
	assert.NoError(t, p.Process(at(base.Add(2*time.Second)), "k", 5))

	assert.Equal(t, []int64{-3, 7, 7}, pctx.values)
}

func TestMin(t *testing.T) {
	builder, store := Min[string, int64](
		kbinder.TumblingWindows(5*time.Second),
		state.NewInMemoryBackend(),
		serde.String,
		"extrema",
	)
	p, pctx := setupExtremum(t, builder, store)

	base := time.Unix(100, 0).UTC()
	assert.NoError(t, p.Process(at(base), "k", 4))
	assert.NoError(t, p.Process(at(base.Add(time.Second)), "k", -2))
	assert.NoError(t, p.Process(at(base.Add(2*time.Second)), "k", 3))

	assert.Equal(t, []int64{4, -2, -2}, pctx.values)
}
