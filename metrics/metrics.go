// Package metrics holds the report under construction: an
// insertion-ordered mapping from metric name to a closed set of value
// kinds, serialized exactly once at the end of a run.
package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotNumber is returned when a metric that must be numeric holds
// something else.
var ErrNotNumber = errors.New("metric value is not a number")

// Value is a metric value: a string, a number, or an array of nested
// metric maps. The set is closed; each variant carries its own JSON
// encoding.
type Value interface {
	json.Marshaler
	metricValue()
}

// String is a text-valued metric, used for version, name and variant.
type String string

// Number is a numeric metric. All telemetry and kernel metrics are
// 64-bit floats.
type Number float64

// Nested is an array of metric maps, used only for the per-iteration
// records under the "iterations" key.
type Nested []*Map

func (s String) metricValue() {}
func (n Number) metricValue() {}
func (n Nested) metricValue() {}

func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(n))
}

func (n Nested) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*Map(n))
}

// Map is a name-to-value mapping that remembers insertion order.
// Setting an existing name overwrites the value but keeps its
// original position.
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap returns an empty metrics map.
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// Set inserts or overwrites the named metric.
func (m *Map) Set(name string, v Value) {
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
	}

	m.values[name] = v
}

// Get returns the named metric, if present.
func (m *Map) Get(name string) (Value, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Len returns the number of metrics in the map.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the metric names in insertion order.
func (m *Map) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)

	return keys
}

// Float returns the named metric coerced to a number. Missing or
// non-numeric metrics are an error: the fixed per-run metrics must
// always be numbers.
func (m *Map) Float(name string) (float64, error) {
	v, ok := m.values[name]
	if !ok {
		return 0, fmt.Errorf("metric %q: missing", name)
	}

	n, ok := v.(Number)
	if !ok {
		return 0, fmt.Errorf("metric %q: %w", name, ErrNotNumber)
	}

	return float64(n), nil
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')

	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		b.Write(kb)
		b.WriteByte(':')

		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", k, err)
		}

		b.Write(vb)
	}

	b.WriteByte('}')

	return b.Bytes(), nil
}
