package kbinder

import (
	"context"

	"github.com/streamhaus/kbinder/state"
)

// Processor is the low-level stage interface. The implementation can retain
// the ProcessorContext passed into Init and use it to access state stores
// and forward data to downstream nodes. Higher-level stages (the Stream
// DSL) are built on top of this.
type Processor[Kin any, Vin any, Kout any, Vout any] interface {
	Init(ProcessorContext[Kout, Vout]) error
	Process(ctx context.Context, k Kin, v Vin) error
	Close() error
}

// ProcessorBuilder creates a processor instance for a specific partition.
type ProcessorBuilder[Kin any, Vin any, Kout any, Vout any] func() Processor[Kin, Vin, Kout, Vout]

// ProcessorContext is handed to a processor at Init time.
type ProcessorContext[Kout any, Vout any] interface {
	// Forward sends a record to all child nodes. Downstream errors are
	// collected and surfaced by the owning node after Process returns.
	Forward(ctx context.Context, k Kout, v Vout)

	// ForwardTo sends a record to one named child node.
	ForwardTo(ctx context.Context, k Kout, v Vout, childName string)

	// GetStore returns the named state store, or nil if the processor was
	// not registered with it.
	GetStore(name string) state.Store
}

// InputProcessor is a partial interface covering only the generic input
// K/V, without requiring the caller to know the output types.
type InputProcessor[K any, V any] interface {
	Process(ctx context.Context, k K, v V) error
}
