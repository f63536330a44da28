package processors

import (
	"golang.org/x/exp/constraints"

	"github.com/streamhaus/kbinder"
	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
)

// extremum tracks a running min or max. Set distinguishes "no value yet"
// from a genuine zero.
type extremum[V constraints.Ordered] struct {
	Set bool `json:"set"`
	Val V    `json:"val"`
}

// Max returns a windowed aggregator emitting the largest value seen per key
// and window.
func Max[K any, V constraints.Ordered](
	windows kbinder.TimeWindows,
	backend state.BackendBuilder,
	keySerde serde.Serde[K],
	storeName string,
) (kbinder.ProcessorBuilder[K, V, kbinder.WindowKey[K], V], kbinder.StoreBuilder) {
	return extremumAggregator[K, V](windows, backend, keySerde, storeName, func(a, b V) bool { return a > b })
}

// Min returns a windowed aggregator emitting the smallest value seen per key
// and window.
func Min[K any, V constraints.Ordered](
	windows kbinder.TimeWindows,
	backend state.BackendBuilder,
	keySerde serde.Serde[K],
	storeName string,
) (kbinder.ProcessorBuilder[K, V, kbinder.WindowKey[K], V], kbinder.StoreBuilder) {
	return extremumAggregator[K, V](windows, backend, keySerde, storeName, func(a, b V) bool { return a < b })
}

func extremumAggregator[K any, V constraints.Ordered](
	windows kbinder.TimeWindows,
	backend state.BackendBuilder,
	keySerde serde.Serde[K],
	storeName string,
	better func(a, b V) bool,
) (kbinder.ProcessorBuilder[K, V, kbinder.WindowKey[K], V], kbinder.StoreBuilder) {
	return kbinder.NewWindowedAggregator(
		windows,
		kbinder.RecordTimestampExtractor[K, V](),
		func() extremum[V] { return extremum[V]{} },
		func(v V, agg extremum[V]) extremum[V] {
			if !agg.Set || better(v, agg.Val) {
				return extremum[V]{Set: true, Val: v}
			}
			return agg
		},
		func(agg extremum[V]) V { return agg.Val },
		backend,
		keySerde,
		serde.JSON[extremum[V]](),
		storeName,
	)
}
