package state

import "sort"

// NewInMemoryBackend returns a builder for volatile in-memory store
// backends. State does not survive a restart; use the pebble backend for
// durable state.
func NewInMemoryBackend() BackendBuilder {
	return func(name string, partition int32) (StoreBackend, error) {
		return &memoryStore{data: map[string][]byte{}}, nil
	}
}

type memoryStore struct {
	data map[string][]byte
}

func (s *memoryStore) Init() error  { return nil }
func (s *memoryStore) Flush() error { return nil }
func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Set(k, v []byte) error {
	if v == nil {
		delete(s.data, string(k))
		return nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	s.data[string(k)] = cp
	return nil
}

func (s *memoryStore) Get(k []byte) ([]byte, error) {
	v, ok := s.data[string(k)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	res := make([]byte, len(v))
	copy(res, v)
	return res, nil
}

func (s *memoryStore) Delete(k []byte) error {
	delete(s.data, string(k))
	return nil
}

func (s *memoryStore) All() (Iterator, error) {
	return s.Range(nil, nil)
}

func (s *memoryStore) Range(lower, upper []byte) (Iterator, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if lower != nil && k < string(lower) {
			continue
		}
		if upper != nil && k >= string(upper) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memoryIterator{store: s, keys: keys, pos: -1}, nil
}

type memoryIterator struct {
	store *memoryStore
	keys  []string
	pos   int
}

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memoryIterator) Key() []byte {
	return []byte(it.keys[it.pos])
}

func (it *memoryIterator) Value() []byte {
	return it.store.data[it.keys[it.pos]]
}

func (it *memoryIterator) Err() error   { return nil }
func (it *memoryIterator) Close() error { return nil }
