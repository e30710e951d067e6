package protocol

import (
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is an ordered nested key/value structure. Values are string, nil (the
// null marker) or *Map.
type Map = orderedmap.OrderedMap[string, any]

// NewMap returns an empty Map.
func NewMap() *Map {
	return orderedmap.New[string, any]()
}

// MapOf builds a Map from alternating key/value arguments.
func MapOf(kv ...any) *Map {
	m := NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		m.Set(key, kv[i+1])
	}
	return m
}

// Lookup walks nested maps along the given keys.
func Lookup(m *Map, keys ...string) (any, bool) {
	var cur any = m
	for _, key := range keys {
		node, ok := cur.(*Map)
		if !ok || node == nil {
			return nil, false
		}
		cur, ok = node.Get(key)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString returns the string leaf at the given keys. A null leaf yields
// "" and true.
func LookupString(m *Map, keys ...string) (string, bool) {
	v, ok := Lookup(m, keys...)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	default:
		return "", false
	}
}

// Clone deep-copies a Map.
func Clone(m *Map) *Map {
	if m == nil {
		return nil
	}
	out := NewMap()
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if child, ok := pair.Value.(*Map); ok {
			out.Set(pair.Key, Clone(child))
			continue
		}
		out.Set(pair.Key, pair.Value)
	}
	return out
}

// Equal reports whether two maps hold the same keys in the same order with
// equal values.
func Equal(a, b *Map) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Len() != b.Len() {
		return false
	}
	pb := b.Oldest()
	for pa := a.Oldest(); pa != nil; pa = pa.Next() {
		if pa.Key != pb.Key {
			return false
		}
		switch va := pa.Value.(type) {
		case *Map:
			vb, ok := pb.Value.(*Map)
			if !ok || !Equal(va, vb) {
				return false
			}
		default:
			if !reflect.DeepEqual(pa.Value, pb.Value) {
				return false
			}
		}
		pb = pb.Next()
	}
	return true
}
