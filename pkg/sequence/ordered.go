package sequence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// OrderedMap is a map that remembers insertion order. Re-setting an existing
// key keeps its position.
//
// It marshals to JSON as an array of [key, value] pairs so the order survives
// a round trip.
type OrderedMap[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{values: make(map[K]V)}
}

func (m *OrderedMap[K, V]) init() {
	if m.values == nil {
		m.values = make(map[K]V)
	}
}

func (m *OrderedMap[K, V]) Set(key K, value V) {
	m.init()
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMap[K, V]) Has(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (m *OrderedMap[K, V]) Delete(key K) bool {
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	if i := slices.Index(m.keys, key); i >= 0 {
		m.keys = slices.Delete(m.keys, i, i+1)
	}
	return true
}

func (m *OrderedMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *OrderedMap[K, V]) Keys() []K {
	return slices.Clone(m.keys)
}

func (m *OrderedMap[K, V]) Values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.values[k])
	}
	return out
}

// All iterates the entries in insertion order. Mutating the map during the
// iteration does not affect the keys visited.
func (m *OrderedMap[K, V]) All() iter.Seq2[K, V] {
	keys := slices.Clone(m.keys)
	return func(yield func(K, V) bool) {
		for _, k := range keys {
			v, ok := m.values[k]
			if !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// MarshalJSON has a value receiver so maps held by value encode too.
func (m OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		pair, err := json.Marshal([2]any{k, m.values[k]})
		if err != nil {
			return nil, fmt.Errorf("ordered map entry %v: %w", k, err)
		}
		buf.Write(pair)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (m *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("ordered map: %w", err)
	}

	m.keys = make([]K, 0, len(pairs))
	m.values = make(map[K]V, len(pairs))
	for i, pair := range pairs {
		var (
			k K
			v V
		)
		if err := json.Unmarshal(pair[0], &k); err != nil {
			return fmt.Errorf("ordered map key %d: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &v); err != nil {
			return fmt.Errorf("ordered map value %d: %w", i, err)
		}
		m.Set(k, v)
	}
	return nil
}
