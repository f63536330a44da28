package kbinder

import (
	"fmt"
	"slices"

	"github.com/streamhaus/kbinder/serde"
	"github.com/streamhaus/kbinder/state"
	"github.com/twmb/franz-go/pkg/kgo"
)

// StoreBuilder constructs a typed state store for a named store and
// partition.
type StoreBuilder func(name string, partition int32) (state.Store, error)

// TopologyBuilder accumulates sources, processors, sinks and stores and
// links them into a directed graph of processing stages. Build returns the
// immutable Topology the binder executes.
type TopologyBuilder struct {
	sources    map[string]*topologySource
	processors map[string]*topologyProcessor
	sinks      map[string]*topologySink
	stores     map[string]*topologyStore

	bindings *Bindings

	seq int
}

func NewTopologyBuilder() *TopologyBuilder {
	return &TopologyBuilder{
		sources:    map[string]*topologySource{},
		processors: map[string]*topologyProcessor{},
		sinks:      map[string]*topologySink{},
		stores:     map[string]*topologyStore{},
		bindings:   NewBindings(),
	}
}

// Bindings returns the channel bindings declared on this builder.
func (t *TopologyBuilder) Bindings() *Bindings {
	return t.bindings
}

// nextName generates a stage name for DSL-created nodes.
func (t *TopologyBuilder) nextName(kind string) string {
	t.seq++
	return fmt.Sprintf("%s-%d", kind, t.seq)
}

type topologySource struct {
	name       string
	topic      string
	build      func() RecordProcessor
	childNames []string
	addChild   func(parent, child any, childName string)
}

type topologyProcessor struct {
	name       string
	build      func() nodeInstance
	childNames []string
	addChild   func(parent, child any, childName string)
	addStore   func(parent any, name string, s state.Store)
	storeNames []string
}

type topologySink struct {
	name  string
	topic string
	build func(client *kgo.Client) any // InputProcessor[K, V] and Flusher
}

type topologyStore struct {
	name  string
	build StoreBuilder
}

// nodeInstance is the lifecycle surface of an instantiated processor node.
type nodeInstance interface {
	Init() error
	Close() error
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func MustRegisterSource[K, V any](t *TopologyBuilder, name, topic string, keyDeserializer serde.Deserializer[K], valueDeserializer serde.Deserializer[V]) {
	must(RegisterSource(t, name, topic, keyDeserializer, valueDeserializer))
}

func RegisterSource[K, V any](t *TopologyBuilder, name, topic string, keyDeserializer serde.Deserializer[K], valueDeserializer serde.Deserializer[V]) error {
	if t.nodeExists(name) {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, name)
	}
	t.sources[name] = &topologySource{
		name:  name,
		topic: topic,
		build: func() RecordProcessor {
			return &SourceNode[K, V]{KeyDeserializer: keyDeserializer, ValueDeserializer: valueDeserializer}
		},
		addChild: func(parent, child any, childName string) {
			parentNode, ok := parent.(*SourceNode[K, V])
			if !ok {
				panic(fmt.Sprintf("kbinder: source %s: unexpected parent type %T", name, parent))
			}
			childNode, ok := child.(InputProcessor[K, V])
			if !ok {
				panic(fmt.Sprintf("kbinder: source %s: child %s does not accept the source's output types", name, childName))
			}
			parentNode.AddNext(childNode)
		},
	}
	return nil
}

func MustRegisterProcessor[Kin, Vin, Kout, Vout any](t *TopologyBuilder, p ProcessorBuilder[Kin, Vin, Kout, Vout], name, parent string, stores ...string) {
	must(RegisterProcessor(t, p, name, parent, stores...))
}

func RegisterProcessor[Kin, Vin, Kout, Vout any](t *TopologyBuilder, p ProcessorBuilder[Kin, Vin, Kout, Vout], name, parent string, stores ...string) error {
	if t.nodeExists(name) {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, name)
	}
	for _, store := range stores {
		if _, ok := t.stores[store]; !ok {
			return fmt.Errorf("%w: store %s", ErrNodeNotFound, store)
		}
	}
	t.processors[name] = &topologyProcessor{
		name: name,
		build: func() nodeInstance {
			return newProcessorNode(p())
		},
		addChild: func(parent, child any, childName string) {
			parentNode, ok := parent.(*ProcessorNode[Kin, Vin, Kout, Vout])
			if !ok {
				panic(fmt.Sprintf("kbinder: processor %s: unexpected parent type %T", name, parent))
			}
			childNode, ok := child.(InputProcessor[Kout, Vout])
			if !ok {
				panic(fmt.Sprintf("kbinder: processor %s: child %s does not accept the processor's output types", name, childName))
			}
			parentNode.addChild(childName, childNode)
		},
		addStore: func(parent any, storeName string, s state.Store) {
			parentNode, ok := parent.(*ProcessorNode[Kin, Vin, Kout, Vout])
			if !ok {
				panic(fmt.Sprintf("kbinder: processor %s: unexpected parent type %T", name, parent))
			}
			parentNode.addStore(storeName, s)
		},
		storeNames: stores,
	}
	return t.setParent(parent, name)
}

func MustRegisterSink[K, V any](t *TopologyBuilder, name, topic string, keySerializer serde.Serializer[K], valueSerializer serde.Serializer[V], parent string) {
	must(RegisterSink(t, name, topic, keySerializer, valueSerializer, parent))
}

func RegisterSink[K, V any](t *TopologyBuilder, name, topic string, keySerializer serde.Serializer[K], valueSerializer serde.Serializer[V], parent string) error {
	if t.nodeExists(name) {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, name)
	}
	t.sinks[name] = &topologySink{
		name:  name,
		topic: topic,
		build: func(client *kgo.Client) any {
			return NewSinkNode(client, topic, keySerializer, valueSerializer)
		},
	}
	return t.setParent(parent, name)
}

func MustRegisterStore(t *TopologyBuilder, builder StoreBuilder, name string) {
	must(RegisterStore(t, builder, name))
}

func RegisterStore(t *TopologyBuilder, builder StoreBuilder, name string) error {
	if _, found := t.stores[name]; found {
		return fmt.Errorf("%w: store %s", ErrNodeAlreadyExists, name)
	}
	t.stores[name] = &topologyStore{name: name, build: builder}
	return nil
}

func (t *TopologyBuilder) nodeExists(name string) bool {
	if _, found := t.sources[name]; found {
		return true
	}
	if _, found := t.processors[name]; found {
		return true
	}
	_, found := t.sinks[name]
	return found
}

func (t *TopologyBuilder) setParent(parent, child string) error {
	if parentNode, ok := t.processors[parent]; ok {
		parentNode.childNames = append(parentNode.childNames, child)
		return nil
	}
	if source, ok := t.sources[parent]; ok {
		source.childNames = append(source.childNames, child)
		return nil
	}
	return fmt.Errorf("%w: parent %s", ErrNodeNotFound, parent)
}

// Build validates the graph and returns the immutable topology.
func (t *TopologyBuilder) Build() (*Topology, error) {
	if len(t.sources) == 0 {
		return nil, fmt.Errorf("%w: topology has no source", ErrConfiguration)
	}
	for _, p := range t.processors {
		for _, child := range p.childNames {
			if _, ok := t.processors[child]; ok {
				continue
			}
			if _, ok := t.sinks[child]; ok {
				continue
			}
			return nil, fmt.Errorf("%w: child %s of processor %s", ErrNodeNotFound, child, p.name)
		}
	}
	topo := &Topology{
		sources:    t.sources,
		processors: t.processors,
		sinks:      t.sinks,
		stores:     t.stores,
		bindings:   t.bindings,
	}
	topo.partitionGroups = topo.computePartitionGroups()
	return topo, nil
}

func (t *TopologyBuilder) MustBuild() *Topology {
	topology, err := t.Build()
	if err != nil {
		panic(err)
	}
	return topology
}

// Topology is a fully built stage graph ready to be executed by a binder.
type Topology struct {
	sources    map[string]*topologySource
	processors map[string]*topologyProcessor
	sinks      map[string]*topologySink
	stores     map[string]*topologyStore

	bindings *Bindings

	partitionGroups []*PartitionGroup
}

// PartitionGroup is a sub-graph of nodes that must be co-partitioned as
// they depend on each other.
type PartitionGroup struct {
	sourceTopics   []string
	sourceNames    []string
	processorNames []string
	sinkNames      []string
	storeNames     []string
}

// SourceTopics returns the group's input topics, sorted.
func (pg *PartitionGroup) SourceTopics() []string {
	return pg.sourceTopics
}

// GetTopics returns all input topics of the topology, sorted for
// deterministic subscription order.
func (t *Topology) GetTopics() []string {
	topics := make([]string, 0, len(t.sources))
	for _, src := range t.sources {
		topics = append(topics, src.topic)
	}
	slices.Sort(topics)
	return topics
}

// Bindings returns the channel bindings declared when the topology was
// built.
func (t *Topology) Bindings() *Bindings {
	return t.bindings
}

// PartitionGroups returns the co-partitioning groups of the topology.
func (t *Topology) PartitionGroups() []*PartitionGroup {
	return t.partitionGroups
}

func (t *Topology) computePartitionGroups() []*PartitionGroup {
	sourceNames := make([]string, 0, len(t.sources))
	for name := range t.sources {
		sourceNames = append(sourceNames, name)
	}
	slices.Sort(sourceNames)

	var groups []*PartitionGroup
	for _, name := range sourceNames {
		src := t.sources[name]
		pg := &PartitionGroup{
			sourceTopics: []string{src.topic},
			sourceNames:  []string{name},
		}
		t.collect(src.childNames, pg)
		groups = append(groups, pg)
	}

	// Merge groups that share a processor: their sources must be
	// co-partitioned.
	merged := true
	for merged {
		merged = false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups) && !merged; j++ {
				if sharesAny(groups[i].processorNames, groups[j].processorNames) {
					groups[i] = mergeGroups(groups[i], groups[j])
					groups = append(groups[:j], groups[j+1:]...)
					merged = true
				}
			}
		}
	}
	return groups
}

func (t *Topology) collect(children []string, pg *PartitionGroup) {
	for _, child := range children {
		if proc, ok := t.processors[child]; ok {
			if slices.Contains(pg.processorNames, child) {
				continue
			}
			pg.processorNames = append(pg.processorNames, child)
			for _, store := range proc.storeNames {
				if !slices.Contains(pg.storeNames, store) {
					pg.storeNames = append(pg.storeNames, store)
				}
			}
			t.collect(proc.childNames, pg)
			continue
		}
		if _, ok := t.sinks[child]; ok {
			if !slices.Contains(pg.sinkNames, child) {
				pg.sinkNames = append(pg.sinkNames, child)
			}
		}
	}
}

func sharesAny(a, b []string) bool {
	for _, item := range a {
		if slices.Contains(b, item) {
			return true
		}
	}
	return false
}

func mergeGroups(a, b *PartitionGroup) *PartitionGroup {
	res := &PartitionGroup{}
	res.sourceTopics = mergeSorted(a.sourceTopics, b.sourceTopics)
	res.sourceNames = mergeSorted(a.sourceNames, b.sourceNames)
	res.processorNames = mergeSorted(a.processorNames, b.processorNames)
	res.sinkNames = mergeSorted(a.sinkNames, b.sinkNames)
	res.storeNames = mergeSorted(a.storeNames, b.storeNames)
	return res
}

func mergeSorted(a, b []string) []string {
	res := append(slices.Clone(a), b...)
	slices.Sort(res)
	return slices.Compact(res)
}

// groupForTopic returns the partition group containing topic as a source.
func (t *Topology) groupForTopic(topic string) (*PartitionGroup, error) {
	for _, pg := range t.partitionGroups {
		if slices.Contains(pg.sourceTopics, topic) {
			return pg, nil
		}
	}
	return nil, fmt.Errorf("%w: no partition group for topic %s", ErrNodeNotFound, topic)
}

// createTask instantiates the nodes and stores of one partition group for a
// single partition and wires them together.
func (t *Topology) createTask(pg *PartitionGroup, partition int32, client *kgo.Client) (*Task, error) {
	instances := map[string]any{}
	rootNodes := map[string]RecordProcessor{}
	stores := map[string]state.Store{}
	var processors []nodeInstance
	var sinks []Flusher

	for _, name := range pg.storeNames {
		st, err := t.stores[name].build(name, partition)
		if err != nil {
			return nil, fmt.Errorf("%w: building store %s: %v", ErrStore, name, err)
		}
		stores[name] = st
	}

	for _, name := range pg.sourceNames {
		src := t.sources[name]
		inst := src.build()
		instances[name] = inst
		rootNodes[src.topic] = inst
	}
	for _, name := range pg.processorNames {
		inst := t.processors[name].build()
		instances[name] = inst
		processors = append(processors, inst)
	}
	for _, name := range pg.sinkNames {
		inst := t.sinks[name].build(client)
		instances[name] = inst
		sinks = append(sinks, inst.(Flusher))
	}

	for _, name := range pg.sourceNames {
		src := t.sources[name]
		for _, child := range src.childNames {
			src.addChild(instances[name], instances[child], child)
		}
	}
	for _, name := range pg.processorNames {
		proc := t.processors[name]
		for _, child := range proc.childNames {
			proc.addChild(instances[name], instances[child], child)
		}
		for _, storeName := range proc.storeNames {
			proc.addStore(instances[name], storeName, stores[storeName])
		}
	}

	task := NewTask(pg.sourceTopics, partition, rootNodes, stores, processors, sinks)
	if err := task.Init(); err != nil {
		return nil, err
	}
	return task, nil
}
