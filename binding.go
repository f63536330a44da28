package kbinder

import "fmt"

// Direction of a channel binding.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// ChannelBinding connects a logical channel name to a concrete broker topic.
// Bindings are fixed at configuration time and immutable once the binder has
// started.
type ChannelBinding struct {
	Name      string
	Direction Direction
	Topic     string
}

// Bindings is the set of channel bindings of one binder instance. Logical
// names are unique per direction.
type Bindings struct {
	inputs  map[string]ChannelBinding
	outputs map[string]ChannelBinding
}

func NewBindings() *Bindings {
	return &Bindings{
		inputs:  map[string]ChannelBinding{},
		outputs: map[string]ChannelBinding{},
	}
}

func (b *Bindings) Add(binding ChannelBinding) error {
	if binding.Name == "" {
		return fmt.Errorf("%w: binding without a name", ErrConfiguration)
	}
	if binding.Topic == "" {
		return fmt.Errorf("%w: binding %q has no destination topic", ErrConfiguration, binding.Name)
	}
	m := b.inputs
	if binding.Direction == Output {
		m = b.outputs
	}
	if _, found := m[binding.Name]; found {
		return fmt.Errorf("%w: duplicate %s binding %q", ErrConfiguration, binding.Direction, binding.Name)
	}
	m[binding.Name] = binding
	return nil
}

// All returns every binding, inputs first.
func (b *Bindings) All() []ChannelBinding {
	res := make([]ChannelBinding, 0, len(b.inputs)+len(b.outputs))
	for _, binding := range b.inputs {
		res = append(res, binding)
	}
	for _, binding := range b.outputs {
		res = append(res, binding)
	}
	return res
}

func (b *Bindings) Input(name string) (ChannelBinding, bool) {
	binding, ok := b.inputs[name]
	return binding, ok
}

func (b *Bindings) Output(name string) (ChannelBinding, bool) {
	binding, ok := b.outputs[name]
	return binding, ok
}
