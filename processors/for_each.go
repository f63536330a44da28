package processors

import (
	"context"

	"github.com/streamhaus/kbinder"
)

// ForEach invokes forEachFunc for every record and forwards it unchanged.
func ForEach[Kin, Vin any](forEachFunc func(k Kin, v Vin)) kbinder.ProcessorBuilder[Kin, Vin, Kin, Vin] {
	return func() kbinder.Processor[Kin, Vin, Kin, Vin] {
		return &ForEachProcessor[Kin, Vin]{
			forEachFunc: forEachFunc,
		}
	}
}

type ForEachProcessor[Kin, Vin any] struct {
	forEachFunc func(Kin, Vin)
	pctx        kbinder.ProcessorContext[Kin, Vin]
}

func (p *ForEachProcessor[Kin, Vin]) Init(pctx kbinder.ProcessorContext[Kin, Vin]) error {
	p.pctx = pctx
	return nil
}

func (p *ForEachProcessor[Kin, Vin]) Process(ctx context.Context, k Kin, v Vin) error {
	p.forEachFunc(k, v)
	p.pctx.Forward(ctx, k, v)
	return nil
}

func (p *ForEachProcessor[Kin, Vin]) Close() error {
	return nil
}
