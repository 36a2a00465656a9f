package raw

import (
	"fmt"
	"sort"
)

// KV is one entry of an ordered dictionary literal passed to From.
type KV struct {
	Key   string
	Value any
}

// Pairs is a dictionary literal whose key order is kept.
type Pairs []KV

// From converts plain Go data into objects, recursively:
//
//	nil            -> null
//	bool           -> boolean
//	integer kinds  -> integer number
//	float32/64     -> real number
//	string         -> name
//	[]byte         -> literal string
//	ObjectRef      -> reference
//	[]any          -> array
//	map[string]any -> dictionary, keys sorted
//	Pairs          -> dictionary, keys in the given order
//
// Object values are returned unchanged.
func From(v any) (Object, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Object:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return NumberInt(int64(x)), nil
	case int8:
		return NumberInt(int64(x)), nil
	case int16:
		return NumberInt(int64(x)), nil
	case int32:
		return NumberInt(int64(x)), nil
	case int64:
		return NumberInt(x), nil
	case uint8:
		return NumberInt(int64(x)), nil
	case uint16:
		return NumberInt(int64(x)), nil
	case uint32:
		return NumberInt(int64(x)), nil
	case float32:
		return NumberFloat(float64(x)), nil
	case float64:
		return NumberFloat(x), nil
	case string:
		return NameLiteral(x), nil
	case []byte:
		return Str(append([]byte(nil), x...)), nil
	case ObjectRef:
		return RefObj{R: x}, nil
	case []Object:
		return NewArray(append([]Object(nil), x...)...), nil
	case []any:
		arr := &ArrayObj{Items: make([]Object, 0, len(x))}
		for i, it := range x {
			o, err := From(it)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr.Items = append(arr.Items, o)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := Dict()
		for _, k := range keys {
			o, err := From(x[k])
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", k, err)
			}
			d.Set(k, o)
		}
		return d, nil
	case Pairs:
		d := Dict()
		for _, kv := range x {
			o, err := From(kv.Value)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", kv.Key, err)
			}
			d.Set(kv.Key, o)
		}
		return d, nil
	}
	return nil, fmt.Errorf("cannot convert %T to a PDF object", v)
}

// MustFrom is From for literals known to be convertible.
func MustFrom(v any) Object {
	o, err := From(v)
	if err != nil {
		panic(err)
	}
	return o
}
