package kbinder

import (
	"context"

	"github.com/streamhaus/kbinder/state"
	"go.uber.org/multierr"
)

var _ = InputProcessor[any, any](&ProcessorNode[any, any, any, any]{})

// ProcessorNode hosts one user processor inside a task. It owns the
// processor's context and fans forwarded records out to child nodes.
type ProcessorNode[Kin any, Vin any, Kout any, Vout any] struct {
	userProcessor Processor[Kin, Vin, Kout, Vout]
	ctx           *processorContext[Kout, Vout]
}

func newProcessorNode[Kin, Vin, Kout, Vout any](p Processor[Kin, Vin, Kout, Vout]) *ProcessorNode[Kin, Vin, Kout, Vout] {
	return &ProcessorNode[Kin, Vin, Kout, Vout]{
		userProcessor: p,
		ctx: &processorContext[Kout, Vout]{
			outputs: map[string]InputProcessor[Kout, Vout]{},
			stores:  map[string]state.Store{},
		},
	}
}

func (p *ProcessorNode[Kin, Vin, Kout, Vout]) Process(ctx context.Context, k Kin, v Vin) error {
	err := p.userProcessor.Process(ctx, k, v)

	errs := p.ctx.drainErrors()
	for _, downstream := range errs {
		err = multierr.Append(err, downstream)
	}
	return err
}

func (p *ProcessorNode[Kin, Vin, Kout, Vout]) Init() error {
	return p.userProcessor.Init(p.ctx)
}

func (p *ProcessorNode[Kin, Vin, Kout, Vout]) Close() error {
	return p.userProcessor.Close()
}

func (p *ProcessorNode[Kin, Vin, Kout, Vout]) addChild(name string, child InputProcessor[Kout, Vout]) {
	p.ctx.outputs[name] = child
}

func (p *ProcessorNode[Kin, Vin, Kout, Vout]) addStore(name string, s state.Store) {
	p.ctx.stores[name] = s
}

type processorContext[Kout any, Vout any] struct {
	outputs map[string]InputProcessor[Kout, Vout]
	stores  map[string]state.Store

	outputErrors []error
}

func (c *processorContext[Kout, Vout]) Forward(ctx context.Context, k Kout, v Vout) {
	for _, next := range c.outputs {
		if err := next.Process(ctx, k, v); err != nil {
			c.outputErrors = append(c.outputErrors, err)
		}
	}
}

func (c *processorContext[Kout, Vout]) ForwardTo(ctx context.Context, k Kout, v Vout, childName string) {
	next, ok := c.outputs[childName]
	if !ok {
		c.outputErrors = append(c.outputErrors, ErrNodeNotFound)
		return
	}
	if err := next.Process(ctx, k, v); err != nil {
		c.outputErrors = append(c.outputErrors, err)
	}
}

func (c *processorContext[Kout, Vout]) GetStore(name string) state.Store {
	return c.stores[name]
}

func (c *processorContext[Kout, Vout]) drainErrors() []error {
	errs := c.outputErrors
	c.outputErrors = nil
	return errs
}
